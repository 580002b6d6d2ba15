package embedder

import (
	"context"
	"fmt"
	"log"

	"github.com/cenkalti/backoff/v4"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/runtime"
	"github.com/bookmind/bookmind/models"
	"github.com/bookmind/bookmind/provider"
)

// Embedder maps strings to fixed-dimension vectors through the configured
// provider. Calls are batched, order-preserving, and retried with exponential
// backoff; exhausted retries surface as a dependency failure so the caller can
// fail the whole operation instead of persisting a partial vector set.
type Embedder struct {
	provider provider.EmbeddingProvider
	cache    *QueryCache
	cfg      config.EmbedderConfig
	metrics  *runtime.Metrics
	logger   *log.Logger
}

// New builds an embedder. cache and metrics may be nil.
func New(p provider.EmbeddingProvider, cache *QueryCache, cfg config.EmbedderConfig, metrics *runtime.Metrics, logger *log.Logger) (*Embedder, error) {
	if p == nil {
		return nil, fmt.Errorf("embedder requires an embedding provider")
	}
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	return &Embedder{provider: p, cache: cache, cfg: cfg, metrics: metrics, logger: logger}, nil
}

// Dimensions reports the provider's configured vector length.
func (e *Embedder) Dimensions() int { return e.cfg.Dimensions }

// EmbedTexts embeds the given texts in provider batches, preserving input
// order. Passage embeddings go through here during ingestion and are never
// cached: they are computed once and immutable afterwards.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		resp, err := e.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(resp) != len(batch) {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", models.ErrDependencyUnavailable, len(batch), len(resp))
		}
		vectors = append(vectors, resp...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string, consulting the short-TTL cache
// first. Cache failures are logged and ignored: the cache only ever saves a
// provider round-trip, it never gates correctness.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", models.ErrInvalidInput)
	}
	if e.cache != nil {
		if vec, ok := e.cache.Get(ctx, e.cfg.Model, query); ok {
			return vec, nil
		}
	}
	vectors, err := e.embedWithRetry(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: provider returned no vectors", models.ErrDependencyUnavailable)
	}
	if e.cache != nil {
		e.cache.Put(ctx, e.cfg.Model, query, vectors[0])
	}
	return vectors[0], nil
}

func (e *Embedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	attempt := 0
	op := func() error {
		attempt++
		if e.metrics != nil {
			e.metrics.EmbeddingBatches.Inc()
			if attempt > 1 {
				e.metrics.EmbeddingRetries.Inc()
			}
		}
		resp, err := e.provider.Embed(ctx, e.cfg.Model, texts)
		if err != nil {
			e.logger.Printf("embed attempt %d failed (%d texts): %v", attempt, len(texts), err)
			return err
		}
		vectors = resp
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("%w: embedding provider: %v", models.ErrDependencyUnavailable, err)
	}
	return vectors, nil
}
