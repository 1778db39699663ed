package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Answer pipeline metrics
	AnswersStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engunity_answers_started_total",
			Help: "Total number of answer requests started",
		},
	)

	AnswersCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_answers_completed_total",
			Help: "Total number of answer requests completed",
		},
		[]string{"origin", "status"},
	)

	AnswerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engunity_answer_duration_seconds",
			Help:    "Answer request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"origin"},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engunity_pipeline_stage_duration_seconds",
			Help:    "Per-stage pipeline latency in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	CandidatesGenerated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engunity_candidates_generated",
			Help:    "Number of generation candidates produced per request",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
	)

	CandidateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engunity_candidate_failures_total",
			Help: "Total number of individual candidate generation failures",
		},
	)

	QualityGateTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_quality_gate_triggered_total",
			Help: "Total number of quality gate trips by reason",
		},
		[]string{"reason"},
	)

	// Retrieval metrics
	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_retrieval_requests_total",
			Help: "Total number of retrieval requests",
		},
		[]string{"status"},
	)

	RetrievalPassages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engunity_retrieval_passages",
			Help:    "Number of passages returned per retrieval after score floor",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	RerankRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_rerank_requests_total",
			Help: "Total number of rerank invocations",
		},
		[]string{"status"},
	)

	// Vector index metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engunity_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	VectorUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_vector_upsert_total",
			Help: "Total number of vector upserts",
		},
		[]string{"collection", "status"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engunity_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Generator metrics
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_generation_requests_total",
			Help: "Total number of generator invocations",
		},
		[]string{"status"},
	)

	GenerationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engunity_generation_latency_seconds",
			Help:    "Generator invocation latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Adaptive cache metrics
	AnswerCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_answer_cache_hits_total",
			Help: "Total number of adaptive cache hits by match type",
		},
		[]string{"match"},
	)

	AnswerCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engunity_answer_cache_misses_total",
			Help: "Total number of adaptive cache misses",
		},
	)

	AnswerCachePromotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engunity_answer_cache_promotions_total",
			Help: "Total number of entries promoted to serving eligibility",
		},
	)

	AnswerCacheDemotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_answer_cache_demotions_total",
			Help: "Total number of entries demoted by reason",
		},
		[]string{"reason"},
	)

	AnswerCacheFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_answer_cache_flushes_total",
			Help: "Total number of cache flushes to disk",
		},
		[]string{"status"},
	)

	AnswerCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "engunity_answer_cache_size",
			Help: "Current number of tracked question fingerprints",
		},
	)

	// Classifier metrics
	ClassifierRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_classifier_requests_total",
			Help: "Total number of classification requests by method",
		},
		[]string{"method"},
	)

	ClassifierCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engunity_classifier_cache_hits_total",
			Help: "Total number of classifier cache hits",
		},
	)

	// Fallback metrics
	FallbackRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_fallback_requests_total",
			Help: "Total number of external fallback invocations",
		},
		[]string{"provider", "status"},
	)

	FallbackLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engunity_fallback_latency_seconds",
			Help:    "External fallback latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"provider"},
	)

	// Ingestion metrics
	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_documents_ingested_total",
			Help: "Total number of documents ingested by final status",
		},
		[]string{"status"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engunity_ingest_duration_seconds",
			Help:    "Document ingestion duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	ChunksPerDocument = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engunity_chunks_per_document",
			Help:    "Number of chunks produced per document",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// Backpressure metrics
	RequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engunity_requests_rejected_total",
			Help: "Total number of requests rejected by backpressure",
		},
		[]string{"stage"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engunity_queue_depth",
			Help: "Current depth of bounded work queues",
		},
		[]string{"stage"},
	)
)

// RecordAnswerMetrics records metrics for a completed answer request
func RecordAnswerMetrics(origin, status string, durationSeconds float64, candidates int) {
	AnswersCompleted.WithLabelValues(origin, status).Inc()
	AnswerDuration.WithLabelValues(origin).Observe(durationSeconds)
	if candidates > 0 {
		CandidatesGenerated.Observe(float64(candidates))
	}
}

// RecordStageMetrics records per-stage pipeline latency
func RecordStageMetrics(stage string, durationSeconds float64) {
	PipelineStageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordFallbackMetrics records external fallback metrics
func RecordFallbackMetrics(provider, status string, durationSeconds float64) {
	FallbackRequests.WithLabelValues(provider, status).Inc()
	if durationSeconds > 0 {
		FallbackLatency.WithLabelValues(provider).Observe(durationSeconds)
	}
}
