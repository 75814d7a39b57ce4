package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_ask_requests_total",
			Help: "Total number of answered questions by outcome.",
		},
		[]string{"outcome"},
	)
	pipelineStageLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tableqa_pipeline_stage_latency_ms",
			Help:    "Pipeline stage latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"stage"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_cache_lookups_total",
			Help: "Semantic cache lookups by pipeline stage and result (hit, miss, error).",
		},
		[]string{"stage", "result"},
	)
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_llm_requests_total",
			Help: "Total number of model completion requests by status.",
		},
		[]string{"status"},
	)
	llmPromptTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tableqa_llm_prompt_tokens_total",
			Help: "Estimated prompt tokens sent to the completion model.",
		},
	)
	llmLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tableqa_llm_latency_ms",
			Help:    "Completion request latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	ingestTablesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_ingest_tables_total",
			Help: "Ingested source tables by result (ingested, skipped, failed).",
		},
		[]string{"result"},
	)
	nameFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tableqa_ingest_name_fallbacks_total",
			Help: "Tables named with the index suffix after every summary candidate collided.",
		},
	)
	indexBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_index_builds_total",
			Help: "Row index acquisitions by source (built, loaded).",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		askRequestsTotal,
		pipelineStageLatencyMs,
		cacheLookupsTotal,
		llmRequestsTotal,
		llmPromptTokensTotal,
		llmLatencyMs,
		ingestTablesTotal,
		nameFallbacksTotal,
		indexBuildsTotal,
	)
}

func ObserveAsk(outcome string) {
	askRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObservePipelineStage(stage string, elapsed time.Duration) {
	pipelineStageLatencyMs.WithLabelValues(stage).Observe(float64(elapsed.Milliseconds()))
}

func ObserveCacheLookup(stage, result string) {
	cacheLookupsTotal.WithLabelValues(stage, result).Inc()
}

func ObserveLLMRequest(status string, promptTokens int, elapsed time.Duration) {
	llmRequestsTotal.WithLabelValues(status).Inc()
	if promptTokens > 0 {
		llmPromptTokensTotal.Add(float64(promptTokens))
	}
	llmLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveIngestTable(result string) {
	ingestTablesTotal.WithLabelValues(result).Inc()
}

func IncNameFallback() {
	nameFallbacksTotal.Inc()
}

func ObserveIndexBuild(source string) {
	indexBuildsTotal.WithLabelValues(source).Inc()
}
