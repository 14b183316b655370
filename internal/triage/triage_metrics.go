package triage

import "github.com/prometheus/client_golang/prometheus"

// Hooks are optional callbacks fired by the Pipeline and Service.
// Nil fields are skipped.
type Hooks struct {
	OnEmbed    func(duration float64, isError bool)
	OnRetrieve func(hits int, duration float64)
	OnLLMCall  func(inputTokens, outputTokens int, duration float64, isError bool)
	OnDiagnose func(e *DiagnoseEvent)
	OnSubmit   func()
	OnValidate func(linked bool)
	OnDelete   func()
}

// DiagnoseEvent summarises one Pipeline.Diagnose call.
type DiagnoseEvent struct {
	Outcome  string // ok, empty_input, embedding_error, retrieval_error, generation_error
	Color    Color
	Model    string
	Duration float64
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	DiagnosesTotal   *prometheus.CounterVec
	DiagnoseDuration *prometheus.HistogramVec
	ColorsTotal      *prometheus.CounterVec
	EmbedDuration    prometheus.Histogram
	EmbedErrorsTotal prometheus.Counter
	RetrieveDuration prometheus.Histogram
	RetrievedCases   prometheus.Histogram
	LLMCallsTotal    *prometheus.CounterVec
	LLMTokensIn      prometheus.Counter
	LLMTokensOut     prometheus.Counter
	LLMDuration      prometheus.Histogram
	SubmissionsTotal prometheus.Counter
	ValidationsTotal *prometheus.CounterVec
	DeletionsTotal   prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DiagnosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagem_diagnoses_total",
			Help: "Total diagnosis requests by outcome.",
		}, []string{"outcome"}),
		DiagnoseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triagem_diagnose_duration_seconds",
			Help:    "End-to-end diagnosis pipeline duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11), // 0.5s .. ~512s
		}, []string{"outcome", "model"}),
		ColorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagem_risk_colors_total",
			Help: "Successful diagnoses by detected risk color.",
		}, []string{"color"}),
		EmbedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triagem_embed_duration_seconds",
			Help:    "Duration of embedding calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}),
		EmbedErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triagem_embed_errors_total",
			Help: "Total failed embedding calls.",
		}),
		RetrieveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triagem_casebase_query_duration_seconds",
			Help:    "Duration of case-base nearest-neighbour queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}),
		RetrievedCases: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triagem_casebase_query_hits",
			Help:    "Similar cases returned per query.",
			Buckets: prometheus.LinearBuckets(0, 1, 6), // 0 .. 5
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagem_llm_calls_total",
			Help: "Total generation calls by status.",
		}, []string{"status"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triagem_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triagem_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triagem_llm_call_duration_seconds",
			Help:    "Duration of individual generation calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}),
		SubmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triagem_submissions_total",
			Help: "Total triage records submitted for review.",
		}),
		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagem_validations_total",
			Help: "Total validations by case-base link result.",
		}, []string{"result"}),
		DeletionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triagem_deletions_total",
			Help: "Total triage records deleted.",
		}),
	}

	reg.MustRegister(
		m.DiagnosesTotal,
		m.DiagnoseDuration,
		m.ColorsTotal,
		m.EmbedDuration,
		m.EmbedErrorsTotal,
		m.RetrieveDuration,
		m.RetrievedCases,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.SubmissionsTotal,
		m.ValidationsTotal,
		m.DeletionsTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnEmbed: func(duration float64, isError bool) {
			m.EmbedDuration.Observe(duration)
			if isError {
				m.EmbedErrorsTotal.Inc()
			}
		},
		OnRetrieve: func(hits int, duration float64) {
			m.RetrieveDuration.Observe(duration)
			m.RetrievedCases.Observe(float64(hits))
		},
		OnLLMCall: func(inputTokens, outputTokens int, duration float64, isError bool) {
			status := "success"
			if isError {
				status = "error"
			}
			m.LLMCallsTotal.WithLabelValues(status).Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnDiagnose: func(e *DiagnoseEvent) {
			m.DiagnosesTotal.WithLabelValues(e.Outcome).Inc()
			m.DiagnoseDuration.WithLabelValues(e.Outcome, e.Model).Observe(e.Duration)
			if e.Outcome == outcomeOK {
				m.ColorsTotal.WithLabelValues(string(e.Color)).Inc()
			}
		},
		OnSubmit: func() {
			m.SubmissionsTotal.Inc()
		},
		OnValidate: func(linked bool) {
			result := "linked"
			if !linked {
				result = "unlinked"
			}
			m.ValidationsTotal.WithLabelValues(result).Inc()
		},
		OnDelete: func() {
			m.DeletionsTotal.Inc()
		},
	}
}
