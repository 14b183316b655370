package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/linnemanlabs/triagem/internal/triage"
)

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", "", Options{}); err == nil {
		t.Fatal("expected error for empty api key")
	}
	c, err := New("k", "", Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Model() != DefaultModel {
		t.Errorf("model = %q, want %q", c.Model(), DefaultModel)
	}
}

func TestToSDKMessages_TextBlock(t *testing.T) {
	t.Parallel()

	result := toSDKMessages([]triage.Message{{Role: "user", Content: "hello"}})

	if len(result) != 1 {
		t.Fatalf("len = %d, want 1", len(result))
	}
	if result[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %q, want user", result[0].Role)
	}
	if len(result[0].Content) != 1 || result[0].Content[0].OfText == nil {
		t.Fatal("expected one text block")
	}
	if result[0].Content[0].OfText.Text != "hello" {
		t.Errorf("text = %q, want %q", result[0].Content[0].OfText.Text, "hello")
	}
}

func TestToSDKMessages_MergesConsecutiveRoles(t *testing.T) {
	t.Parallel()

	result := toSDKMessages([]triage.Message{
		{Role: "user", Content: "sintomas"},
		{Role: "user", Content: "estrutura"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "mais"},
	})

	if len(result) != 3 {
		t.Fatalf("len = %d, want 3", len(result))
	}
	if len(result[0].Content) != 2 {
		t.Fatalf("first message blocks = %d, want 2", len(result[0].Content))
	}
	if result[0].Content[1].OfText.Text != "estrutura" {
		t.Errorf("second block = %q", result[0].Content[1].OfText.Text)
	}
	if result[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("role = %q, want assistant", result[1].Role)
	}
}

func TestFromSDKResponse(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Model: anthropic.Model("claude-test"),
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "Diagnóstico: Gripe"},
			{Type: "thinking"},
			{Type: "text", Text: "Cor: Verde"},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	got := fromSDKResponse(msg)

	if got.Text != "Diagnóstico: Gripe\nCor: Verde" {
		t.Errorf("text = %q", got.Text)
	}
	if got.StopReason != "end_turn" {
		t.Errorf("stop reason = %q", got.StopReason)
	}
	if got.Model != "claude-test" {
		t.Errorf("model = %q", got.Model)
	}
	if got.Usage.InputTokens != 1234 || got.Usage.OutputTokens != 567 {
		t.Errorf("usage = %+v", got.Usage)
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("X-Api-Key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "Classificação de Risco: Amarela"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New("test-key", "claude-test", Options{BaseURL: srv.URL, MaxRetries: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Send(context.Background(), &triage.LLMRequest{
		MaxTokens: 1024,
		System:    "sistema",
		Messages:  []triage.Message{{Role: "user", Content: "febre"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Text != "Classificação de Risco: Amarela" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	if gotBody["model"] != "claude-test" {
		t.Errorf("request model = %v", gotBody["model"])
	}
	if gotBody["max_tokens"] != float64(1024) {
		t.Errorf("request max_tokens = %v", gotBody["max_tokens"])
	}
	system, _ := gotBody["system"].([]any)
	if len(system) != 1 {
		t.Errorf("request system = %v", gotBody["system"])
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := New("test-key", "claude-test", Options{BaseURL: srv.URL})
	_, err := c.Send(context.Background(), &triage.LLMRequest{
		MaxTokens: 10,
		Messages:  []triage.Message{{Role: "user", Content: "x"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "claude:") {
		t.Errorf("err = %v", err)
	}
}
