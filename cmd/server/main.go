// Triagem is a retrieval-augmented clinical triage decision-support service
// with a clinician review workflow.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/joho/godotenv"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/triagem/internal/authmw"
	"github.com/linnemanlabs/triagem/internal/casebase"
	cbmem "github.com/linnemanlabs/triagem/internal/casebase/memstore"
	"github.com/linnemanlabs/triagem/internal/casebase/tsstore"
	tc "github.com/linnemanlabs/triagem/internal/cfg"
	"github.com/linnemanlabs/triagem/internal/embedding"
	"github.com/linnemanlabs/triagem/internal/llm/claude"
	"github.com/linnemanlabs/triagem/internal/llm/openai"
	"github.com/linnemanlabs/triagem/internal/notify/slack"
	"github.com/linnemanlabs/triagem/internal/postgres"
	"github.com/linnemanlabs/triagem/internal/triage"
	"github.com/linnemanlabs/triagem/internal/triage/memstore"
	"github.com/linnemanlabs/triagem/internal/triage/pgstore"
	"github.com/linnemanlabs/triagem/internal/triageapi"
)

const appName = "triagem"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    tc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// .env only seeds the process environment; real env vars win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "ignoring unreadable .env: %v\n", err)
	}

	// Fill in config values from environment variables with prefix TRIAGEM_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "TRIAGEM_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"casebase_backend", appCfg.CaseBaseBackend,
		"llm_provider", appCfg.LLMProvider,
		"auth", authMode(&appCfg),
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf == nil {
		stopProf = func() {}
	}
	defer stopProf()

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOtelx(context.Background()) }()

	// link spans to profiles so a slow diagnosis can be opened as a flamegraph
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	triageMetrics := triage.NewMetrics(m.Registry())

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triagem_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Workflow store
	var triageStore triage.Store
	if appCfg.DatabaseURL != "" {
		pgStore, err := pgstore.Open(ctx, appCfg.DatabaseURL, postgres.PoolOptions{SlowQuery: 250 * time.Millisecond})
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		defer pgStore.Close()
		triageStore = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		triageStore = memstore.New()
		L.Info(ctx, "using in-memory store (no database-url configured)")
	}

	// Embeddings, cached by model+text
	embedClient, err := embedding.New(embedding.Config{
		BaseURL:    appCfg.EmbeddingBaseURL,
		APIKey:     appCfg.EmbeddingAPIKey,
		Model:      appCfg.EmbeddingModel,
		Dimensions: appCfg.EmbeddingDimensions,
	})
	if err != nil {
		return fmt.Errorf("embedding client: %w", err)
	}
	var embedCache embedding.Cache
	if appCfg.RedisAddr != "" {
		rc, err := embedding.NewRedisCache(ctx, appCfg.RedisAddr, appCfg.RedisPassword, appCfg.EmbeddingCacheTTL, L)
		if err != nil {
			return fmt.Errorf("redis embedding cache: %w", err)
		}
		defer func() { _ = rc.Close() }()
		embedCache = rc
		L.Info(ctx, "embedding cache enabled", "type", "redis", "addr", appCfg.RedisAddr)
	} else {
		embedCache = embedding.NewMemoryCache(appCfg.EmbeddingCacheTTL)
		L.Info(ctx, "embedding cache enabled", "type", "memory")
	}
	embedder := embedding.Cached(embedClient, embedCache, embedClient.Model())

	// Case base
	cases, err := openCaseBase(ctx, &appCfg, embedder, L)
	if err != nil {
		return err
	}

	seeds, err := readSeeds(appCfg.SeedFile)
	if err != nil {
		return err
	}
	L.Info(ctx, "seed cases read", "path", appCfg.SeedFile, "count", len(seeds))

	// Generation provider
	provider, model, err := newProvider(&appCfg)
	if err != nil {
		return err
	}
	L.Info(ctx, "initialized LLM provider", "provider", appCfg.LLMProvider, "model", model)

	var limiter *rate.Limiter
	if appCfg.LLMRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(appCfg.LLMRate), appCfg.LLMBurst)
	}

	pipeline := triage.NewPipeline(cases, embedder, provider, L, triageMetrics.Hooks(), triage.PipelineConfig{
		GenerationTimeout: appCfg.GenerationTimeout,
		Limiter:           limiter,
		SeedCases:         seeds,
	})

	// seeding is retried on the first diagnosis if the embedder is not reachable yet
	if err := pipeline.EnsureSeeded(ctx); err != nil {
		L.Warn(ctx, "initial case base seeding failed, will retry on demand", "error", err)
	}

	var notifier triage.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	triageSvc := triage.NewService(triageStore, cases, embedder, notifier, L, triageMetrics.Hooks())

	// Authentication for the API
	authMW, err := newAuthMiddleware(ctx, &appCfg)
	if err != nil {
		return err
	}

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()

	// Compress JSON and CSV exports
	r.Use(middleware.Compress(5, "application/json", "text/csv"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	r.Use(httpmw.AccessLog())

	// symptom descriptions and reviews are short text
	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	api := triageapi.New(L, triageSvc, pipeline)
	r.Group(func(r chi.Router) {
		r.Use(authMW)
		api.RegisterRoutes(r)
	})

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func authMode(c *tc.Config) string {
	if c.OIDCEnabled() {
		return "oidc"
	}
	return "bearer"
}

func newAuthMiddleware(ctx context.Context, c *tc.Config) (func(http.Handler) http.Handler, error) {
	if !c.OIDCEnabled() {
		return authmw.BearerToken(c.APIToken), nil
	}
	verifier, err := authmw.NewOIDCVerifier(ctx, c.OIDCIssuer, c.OIDCClientID)
	if err != nil {
		return nil, fmt.Errorf("oidc init: %w", err)
	}
	return authmw.OIDC(verifier), nil
}

func newProvider(c *tc.Config) (triage.Provider, string, error) {
	switch c.LLMProvider {
	case tc.ProviderOpenAI:
		p, err := openai.New(c.OpenAIAPIKey, c.OpenAIBaseURL, c.OpenAIModel)
		if err != nil {
			return nil, "", fmt.Errorf("openai provider: %w", err)
		}
		return p, p.Model(), nil
	default:
		p, err := claude.New(c.ClaudeAPIKey, c.ClaudeModel, claude.Options{})
		if err != nil {
			return nil, "", fmt.Errorf("claude provider: %w", err)
		}
		return p, p.Model(), nil
	}
}

func openCaseBase(ctx context.Context, c *tc.Config, embedder casebase.Embedder, L log.Logger) (casebase.Store, error) {
	if c.CaseBaseBackend != tc.BackendTypesense {
		L.Info(ctx, "using in-memory case base")
		return cbmem.New(), nil
	}

	store := tsstore.New(tsstore.NewClient(c.TypesenseURL, c.TypesenseAPIKey), c.TypesenseCollection)
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("typesense: %w", err)
	}

	dim := c.EmbeddingDimensions
	if dim == 0 {
		// the collection schema needs the vector width up front
		vec, err := embedder.Embed(ctx, "dimension probe")
		if err != nil {
			return nil, fmt.Errorf("probe embedding dimension: %w", err)
		}
		dim = len(vec)
	}
	if err := store.EnsureCollection(ctx, dim); err != nil {
		return nil, fmt.Errorf("typesense collection: %w", err)
	}
	L.Info(ctx, "using typesense case base", "collection", c.TypesenseCollection, "dimension", dim)
	return store, nil
}

// readSeeds loads the seed file; a missing file means an empty seed set.
func readSeeds(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	seeds, err := casebase.ReadSeedFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return seeds, nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
