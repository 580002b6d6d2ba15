package runtime

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bookmind/bookmind/config"
)

// Metrics bundles the engine's prometheus instruments. A nil *Metrics is
// valid and records nothing, so components never need to branch on telemetry
// being enabled.
type Metrics struct {
	registry *prometheus.Registry

	RetrievalStageSeconds *prometheus.HistogramVec
	RetrievalCandidates   prometheus.Histogram
	ContextTokens         prometheus.Histogram
	ChaptersIngested      prometheus.Counter
	PassagesIngested      prometheus.Counter
	EmbeddingBatches      prometheus.Counter
	EmbeddingRetries      prometheus.Counter
}

// NewMetrics builds the instrument set on a private registry.
func NewMetrics(cfg config.TelemetryConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RetrievalStageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookmind",
			Name:      "retrieval_stage_seconds",
			Help:      "Latency per query-path stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		RetrievalCandidates: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookmind",
			Name:      "retrieval_candidates",
			Help:      "Deduplicated candidates surviving threshold filtering.",
			Buckets:   prometheus.LinearBuckets(0, 10, 10),
		}),
		ContextTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookmind",
			Name:      "context_tokens",
			Help:      "Tokens packed into returned context blocks.",
			Buckets:   prometheus.LinearBuckets(0, 250, 10),
		}),
		ChaptersIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bookmind",
			Name:      "chapters_ingested_total",
			Help:      "Chapters successfully ingested.",
		}),
		PassagesIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bookmind",
			Name:      "passages_ingested_total",
			Help:      "Passages written to the index store.",
		}),
		EmbeddingBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bookmind",
			Name:      "embedding_batches_total",
			Help:      "Embedding provider batch calls.",
		}),
		EmbeddingRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bookmind",
			Name:      "embedding_retries_total",
			Help:      "Embedding calls retried after provider failure.",
		}),
	}
}

// ObserveStage records one stage duration; safe on nil receivers.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalStageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// Serve exposes /metrics on the configured port, blocking until the listener
// fails. Call in a goroutine.
func (m *Metrics) Serve(port int) error {
	if m == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
