package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"
)

// Case base backends.
const (
	BackendMemory    = "memory"
	BackendTypesense = "typesense"
)

// Generation providers.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	APIToken     string
	OIDCIssuer   string
	OIDCClientID string

	DatabaseURL string

	CaseBaseBackend     string
	TypesenseURL        string
	TypesenseAPIKey     string
	TypesenseCollection string
	SeedFile            string

	EmbeddingBaseURL    string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingCacheTTL   time.Duration
	RedisAddr           string
	RedisPassword       string

	LLMProvider       string
	ClaudeAPIKey      string
	ClaudeModel       string
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
	GenerationTimeout time.Duration
	LLMRate           float64
	LLMBurst          int

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.APIToken, "api-token", "", "static bearer token for the API (required unless OIDC is configured)")
	fs.StringVar(&c.OIDCIssuer, "oidc-issuer", "", "OpenID Connect issuer URL for reviewer authentication")
	fs.StringVar(&c.OIDCClientID, "oidc-client-id", "", "OpenID Connect client ID (audience) for ID tokens")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")

	fs.StringVar(&c.CaseBaseBackend, "casebase-backend", BackendMemory, "case base vector index: memory or typesense")
	fs.StringVar(&c.TypesenseURL, "typesense-url", "", "Typesense server URL (required for typesense backend)")
	fs.StringVar(&c.TypesenseAPIKey, "typesense-api-key", "", "Typesense API key")
	fs.StringVar(&c.TypesenseCollection, "typesense-collection", "triage_cases", "Typesense collection holding case vectors")
	fs.StringVar(&c.SeedFile, "seed-file", "casos.txt", "reference cases file, one case per line (empty = no seeding)")

	fs.StringVar(&c.EmbeddingBaseURL, "embedding-base-url", "", "OpenAI-compatible embeddings base URL (empty = api.openai.com)")
	fs.StringVar(&c.EmbeddingAPIKey, "embedding-api-key", "", "API key for the embeddings endpoint")
	fs.StringVar(&c.EmbeddingModel, "embedding-model", "text-embedding-3-small", "embedding model name")
	fs.IntVar(&c.EmbeddingDimensions, "embedding-dimensions", 0, "embedding dimensions (0 = model default)")
	fs.DurationVar(&c.EmbeddingCacheTTL, "embedding-cache-ttl", 24*time.Hour, "embedding cache entry lifetime")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for the embedding cache (empty = in-process cache)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")

	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderClaude, "generation provider: claude or openai")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model to use")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible chat base URL (e.g. http://localhost:11434/v1 for Ollama)")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI-compatible provider")
	fs.StringVar(&c.OpenAIModel, "openai-model", "", "chat model for the OpenAI-compatible provider (e.g. mistral)")
	fs.DurationVar(&c.GenerationTimeout, "generation-timeout", 420*time.Second, "timeout for one generation call")
	fs.Float64Var(&c.LLMRate, "llm-rate", 0, "max generation requests per second (0 = unlimited)")
	fs.IntVar(&c.LLMBurst, "llm-burst", 1, "generation request burst size")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// OIDCEnabled reports whether reviewer authentication uses OpenID Connect.
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuer != ""
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateCaseBase()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateGeneration()...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateAuth() []error {
	var errs []error
	switch {
	case c.OIDCIssuer != "":
		if err := checkURL("OIDC_ISSUER", c.OIDCIssuer); err != nil {
			errs = append(errs, err)
		}
		if c.OIDCClientID == "" {
			errs = append(errs, errors.New("OIDC_CLIENT_ID is required when OIDC_ISSUER is set"))
		}
	case c.APIToken == "":
		errs = append(errs, errors.New("API_TOKEN is required unless OIDC_ISSUER is set"))
	}
	return errs
}

func (c *Config) validateCaseBase() []error {
	var errs []error
	switch c.CaseBaseBackend {
	case BackendMemory:
	case BackendTypesense:
		if c.TypesenseURL == "" {
			errs = append(errs, errors.New("TYPESENSE_URL is required for the typesense backend"))
		} else if err := checkURL("TYPESENSE_URL", c.TypesenseURL); err != nil {
			errs = append(errs, err)
		}
		if c.TypesenseCollection == "" {
			errs = append(errs, errors.New("TYPESENSE_COLLECTION is required for the typesense backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid CASEBASE_BACKEND %q (must be memory or typesense)", c.CaseBaseBackend))
	}
	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error
	if c.EmbeddingAPIKey == "" && c.EmbeddingBaseURL == "" {
		errs = append(errs, errors.New("EMBEDDING_API_KEY is required unless EMBEDDING_BASE_URL is set"))
	}
	if c.EmbeddingBaseURL != "" {
		if err := checkURL("EMBEDDING_BASE_URL", c.EmbeddingBaseURL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.EmbeddingModel == "" {
		errs = append(errs, errors.New("EMBEDDING_MODEL is required"))
	}
	if c.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("invalid EMBEDDING_DIMENSIONS %d (must be >= 0)", c.EmbeddingDimensions))
	}
	if c.EmbeddingCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid EMBEDDING_CACHE_TTL %s (must be > 0)", c.EmbeddingCacheTTL))
	}
	return errs
}

func (c *Config) validateGeneration() []error {
	var errs []error
	switch c.LLMProvider {
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required unless OPENAI_BASE_URL is set"))
		}
		if c.OpenAIBaseURL != "" {
			if err := checkURL("OPENAI_BASE_URL", c.OpenAIBaseURL); err != nil {
				errs = append(errs, err)
			}
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be claude or openai)", c.LLMProvider))
	}

	if c.GenerationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid GENERATION_TIMEOUT %s (must be > 0)", c.GenerationTimeout))
	}
	if c.LLMRate < 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_RATE %g (must be >= 0)", c.LLMRate))
	}
	if c.LLMRate > 0 && c.LLMBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid LLM_BURST %d (must be >= 1 when LLM_RATE is set)", c.LLMBurst))
	}
	return errs
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s %q (must be an http(s) URL)", name, raw)
	}
	return nil
}
