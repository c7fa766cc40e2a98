package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_runs_completed_total",
			Help: "Total number of research runs completed",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquest_run_duration_seconds",
			Help:    "End-to-end research run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Gate metrics
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_gate_decisions_total",
			Help: "Total gate decisions by resulting action",
		},
		[]string{"action"},
	)

	GateConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquest_gate_confidence",
			Help:    "Confidence reported by the gate per evaluation",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	EvaluatorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_evaluator_errors_total",
			Help: "Total evaluator capability failures",
		},
	)

	// Decomposition metrics
	SubtasksPlanned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquest_subtasks_planned",
			Help:    "Number of subtasks produced per decomposition",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10, 15},
		},
	)

	DecompositionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_decomposition_fallbacks_total",
			Help: "Total runs that fell back to a single goal-derived subtask",
		},
	)

	// Worker metrics
	SubtaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inquest_subtask_duration_seconds",
			Help:    "Per-subtask wall time in seconds",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	SubtaskResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_subtask_results_total",
			Help: "Total subtask results by terminal status",
		},
		[]string{"status"},
	)

	WorkerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_worker_panics_total",
			Help: "Total worker panics converted to FAILED results",
		},
	)

	ConfidenceCapped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_confidence_capped_total",
			Help: "Total results capped at 0.5 because every deep fetch failed",
		},
	)

	// Retrieval metrics
	RetrievalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_retrieval_calls_total",
			Help: "Total retrieval calls by kind and status",
		},
		[]string{"kind", "status"},
	)

	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inquest_retrieval_duration_seconds",
			Help:    "Retrieval call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"kind"},
	)

	SourcesFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_sources_filtered_total",
			Help: "Total sources dropped for invalid or placeholder URLs",
		},
	)

	RetrievalPermits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inquest_retrieval_permits",
			Help: "Current size of the retrieval concurrency permit pool",
		},
	)

	// Synthesis metrics
	SynthesisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquest_synthesis_duration_seconds",
			Help:    "Synthesis stage duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30},
		},
	)

	SynthesisFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_synthesis_fallbacks_total",
			Help: "Total syntheses that used the mechanical fallback text",
		},
	)

	FindingsDeduped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_findings_deduped_total",
			Help: "Total duplicate findings dropped during synthesis",
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_session_cache_hits_total",
			Help: "Total session local-cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_session_cache_misses_total",
			Help: "Total session local-cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inquest_session_cache_size",
			Help: "Number of sessions held in the local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_session_cache_evictions_total",
			Help: "Total sessions evicted from the local cache",
		},
	)
)
