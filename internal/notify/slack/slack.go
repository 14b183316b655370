// Package slack posts review-workflow notifications to Slack via incoming
// webhooks. Messages carry the triage id, risk color and parsed diagnosis;
// the free-text symptoms never leave the service.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagem/internal/triage"
)

const (
	maxSectionLen = 1500
	httpTimeout   = 10 * time.Second
)

// Notifier implements triage.Notifier against a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, every call is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// NotifySubmitted announces a triage waiting for review.
func (n *Notifier) NotifySubmitted(ctx context.Context, r *triage.Record) error {
	color := triage.ClassifyResponse(r.Response)
	return n.send(ctx, r.ID, buildMessage(
		fmt.Sprintf("%s Triage awaiting review", color.Emoji()),
		r, color,
		"*Status:* pending",
		"",
	))
}

// NotifyValidated announces a completed review.
func (n *Notifier) NotifyValidated(ctx context.Context, r *triage.Record, res *triage.ValidationResult) error {
	linked := "linked to case base"
	if res != nil && !res.Linked {
		linked = "case base append failed"
	}
	color := triage.ClassifyResponse(r.Response)
	if res != nil {
		color = res.Color
	}
	return n.send(ctx, r.ID, buildMessage(
		fmt.Sprintf("%s Triage validated by %s", color.Emoji(), r.ValidatedBy),
		r, color,
		fmt.Sprintf("*Status:* validated (%s)", linked),
		r.Feedback,
	))
}

func (n *Notifier) send(ctx context.Context, id string, msg map[string]any) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack notification sent", "triage_id", id)
	return nil
}

func buildMessage(title string, r *triage.Record, color triage.Color, status, feedback string) map[string]any {
	sections := triage.Parse(r.Response)

	fields := []map[string]any{
		{"type": "mrkdwn", "text": status},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Risk:* %s", riskText(color))},
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": title},
		},
		{"type": "section", "fields": fields},
		{"type": "divider"},
		textSection("Diagnosis", sections.Diagnosis.OrPlaceholder()),
	}
	if feedback != "" {
		blocks = append(blocks, textSection("Reviewer feedback", feedback))
	}
	blocks = append(blocks, map[string]any{
		"type": "context",
		"elements": []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("triagem • %s • %s", r.ID, r.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		}},
	})

	return map[string]any{"blocks": blocks}
}

func textSection(title, text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n%s", title, truncate(text, maxSectionLen)),
		},
	}
}

func riskText(c triage.Color) string {
	if label := c.Label(); label != "" {
		return c.Emoji() + " " + label
	}
	return c.Emoji() + " unclassified"
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
