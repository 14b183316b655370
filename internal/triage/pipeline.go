package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagem/internal/casebase"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagem/internal/triage")

const (
	// SimilarCases is the number of nearest cases added to the prompt.
	SimilarCases = 3

	// ResponseTokens caps the generated answer.
	ResponseTokens = 1024

	// DefaultGenerationTimeout bounds a single generation call.
	DefaultGenerationTimeout = 420 * time.Second
)

const (
	outcomeOK              = "ok"
	outcomeEmptyInput      = "empty_input"
	outcomeEmbeddingError  = "embedding_error"
	outcomeRetrievalError  = "retrieval_error"
	outcomeGenerationError = "generation_error"
)

// PipelineConfig tunes the Pipeline. Zero values select defaults.
type PipelineConfig struct {
	GenerationTimeout time.Duration
	MaxTokens         int
	// Limiter throttles generation calls; nil means unlimited.
	Limiter *rate.Limiter
	// SeedCases are loaded into the case base before the first diagnosis.
	SeedCases []string
}

// Pipeline orchestrates embed -> retrieve -> prompt -> generate -> parse.
// It holds no per-request state; each Diagnose call builds its own Diagnosis.
type Pipeline struct {
	cases    casebase.Store
	embedder casebase.Embedder
	provider Provider
	logger   log.Logger
	hooks    Hooks
	cfg      PipelineConfig

	seedMu sync.Mutex
	seeded bool
}

// NewPipeline creates a pipeline with the given dependencies.
func NewPipeline(cases casebase.Store, embedder casebase.Embedder, provider Provider, logger log.Logger, hooks Hooks, cfg PipelineConfig) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = ResponseTokens
	}
	return &Pipeline{
		cases:    cases,
		embedder: embedder,
		provider: provider,
		logger:   logger,
		hooks:    hooks,
		cfg:      cfg,
	}
}

// EnsureSeeded loads missing seed cases into the case base. After the first
// success it is a no-op for the lifetime of the Pipeline; failures are retried
// on the next call.
func (p *Pipeline) EnsureSeeded(ctx context.Context) error {
	if len(p.cfg.SeedCases) == 0 {
		return nil
	}

	p.seedMu.Lock()
	defer p.seedMu.Unlock()
	if p.seeded {
		return nil
	}

	ctx, span := tracer.Start(ctx, "casebase.seed", trace.WithAttributes(
		attribute.Int("triagem.seed.cases", len(p.cfg.SeedCases)),
	))
	defer span.End()

	added, err := casebase.LoadSeeds(ctx, p.cases, p.embedder, p.cfg.SeedCases)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("triagem.seed.added", added))
	p.seeded = true

	p.logger.Info(ctx, "case base seeded", "cases", len(p.cfg.SeedCases), "added", added)
	return nil
}

// Diagnose runs the retrieval-augmented generation flow for symptoms.
// It has no side effects on the workflow store.
func (p *Pipeline) Diagnose(ctx context.Context, symptoms string) (*Diagnosis, error) {
	start := time.Now()
	d := &Diagnosis{
		ID:        ulid.Make().String(),
		Symptoms:  strings.TrimSpace(symptoms),
		CreatedAt: start.UTC(),
	}

	ctx, span := tracer.Start(ctx, "triage.diagnose", trace.WithAttributes(
		attribute.String("triagem.diagnosis.id", d.ID),
	))
	defer span.End()

	L := p.logger.With("diagnosis_id", d.ID)

	fail := func(outcome string, err error) (*Diagnosis, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("triagem.diagnosis.outcome", outcome))
		p.complete(d, outcome, start)
		if outcome != outcomeEmptyInput {
			L.Error(ctx, err, "diagnosis failed", "outcome", outcome)
		}
		return nil, err
	}

	if d.Symptoms == "" {
		return fail(outcomeEmptyInput, ErrEmptySymptoms)
	}

	if err := p.EnsureSeeded(ctx); err != nil {
		return fail(outcomeRetrievalError, fmt.Errorf("%w: seed case base: %w", ErrRetrieval, err))
	}

	vec, err := p.embed(ctx, d.Symptoms)
	if err != nil {
		return fail(outcomeEmbeddingError, fmt.Errorf("%w: %w", ErrEmbedding, err))
	}

	similar, err := p.retrieve(ctx, vec)
	if err != nil {
		return fail(outcomeRetrievalError, fmt.Errorf("%w: %w", ErrRetrieval, err))
	}
	d.SimilarCases = similar

	resp, err := p.generate(ctx, d.ID, d.Symptoms, similar)
	if err != nil {
		return fail(outcomeGenerationError, fmt.Errorf("%w: %w", ErrGeneration, err))
	}

	d.Response = resp.Text
	d.Model = resp.Model
	d.InputTokens = resp.Usage.InputTokens
	d.OutputTokens = resp.Usage.OutputTokens
	d.Sections = Parse(resp.Text)
	d.Color = d.Sections.RiskColor()

	span.SetAttributes(
		attribute.String("triagem.diagnosis.outcome", outcomeOK),
		attribute.String("triagem.risk.color", string(d.Color)),
		attribute.Bool("triagem.section.diagnosis.found", d.Sections.Diagnosis.Found),
		attribute.Bool("triagem.section.risk.found", d.Sections.Risk.Found),
		attribute.Bool("triagem.section.conduct.found", d.Sections.Conduct.Found),
	)
	p.complete(d, outcomeOK, start)

	L.Info(ctx, "diagnosis complete",
		"color", d.Color,
		"similar_cases", len(similar),
		"model", d.Model,
		"input_tokens", d.InputTokens,
		"output_tokens", d.OutputTokens,
		"duration", d.Duration,
	)
	return d, nil
}

func (p *Pipeline) complete(d *Diagnosis, outcome string, start time.Time) {
	d.Duration = time.Since(start).Seconds()
	if p.hooks.OnDiagnose != nil {
		p.hooks.OnDiagnose(&DiagnoseEvent{
			Outcome:  outcome,
			Color:    d.Color,
			Model:    d.Model,
			Duration: d.Duration,
		})
	}
}

func (p *Pipeline) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "embed", trace.WithAttributes(
		attribute.Int("triagem.embed.chars", len(text)),
	))
	defer span.End()

	start := time.Now()
	vec, err := p.embedder.Embed(ctx, text)
	if p.hooks.OnEmbed != nil {
		p.hooks.OnEmbed(time.Since(start).Seconds(), err != nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("triagem.embed.dimension", len(vec)))
	return vec, nil
}

func (p *Pipeline) retrieve(ctx context.Context, vec []float32) ([]casebase.Match, error) {
	ctx, span := tracer.Start(ctx, "casebase.query", trace.WithAttributes(
		attribute.Int("triagem.casebase.k", SimilarCases),
	))
	defer span.End()

	start := time.Now()
	matches, err := p.cases.Query(ctx, vec, SimilarCases)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if p.hooks.OnRetrieve != nil {
		p.hooks.OnRetrieve(len(matches), time.Since(start).Seconds())
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	span.SetAttributes(
		attribute.Int("triagem.casebase.hits", len(matches)),
		attribute.StringSlice("triagem.casebase.ids", ids),
	)
	return matches, nil
}

func (p *Pipeline) generate(ctx context.Context, diagnosisID, symptoms string, similar []casebase.Match) (*LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.Int("gen_ai.request.max_tokens", p.cfg.MaxTokens),
		attribute.String("triagem.diagnosis.id", diagnosisID),
	))
	defer span.End()

	if p.cfg.Limiter != nil {
		if err := p.cfg.Limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req := &LLMRequest{
		MaxTokens: p.cfg.MaxTokens,
		System:    buildSystemPrompt(),
		Messages:  buildMessages(symptoms, similar),
	}
	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.Int("llm.request.messages", len(req.Messages)),
		attribute.Int("llm.request.similar_cases", len(similar)),
	))

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.provider.Send(callCtx, req)
	duration := time.Since(start).Seconds()
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = errors.New("empty response")
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", p.cfg.GenerationTimeout, err)
		}
		if p.hooks.OnLLMCall != nil {
			p.hooks.OnLLMCall(0, 0, duration, true)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if p.hooks.OnLLMCall != nil {
		p.hooks.OnLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, duration, false)
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("gen_ai.response.finish_reason", resp.StopReason),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.Int("llm.response.chars", len(resp.Text)),
	))
	return resp, nil
}
