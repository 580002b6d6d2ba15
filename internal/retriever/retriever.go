package retriever

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/embedder"
	"github.com/bookmind/bookmind/internal/store"
	"github.com/bookmind/bookmind/models"
)

// passageSearcher abstracts the store method hybrid retrieval requires.
type passageSearcher interface {
	SearchPassages(ctx context.Context, bookID string, vector []float32, topN int) ([]store.SearchResult, error)
}

// Retriever performs hybrid retrieval: every query variant (raw first, then
// expansions) is embedded and searched independently, results are merged by
// passage id keeping the best similarity, and low-similarity noise is dropped.
// A single query embedding under-recalls on paraphrase mismatches; the merged
// variant set corrects that while re-ranking keeps precision honest.
type Retriever struct {
	searcher passageSearcher
	embedder *embedder.Embedder
	cfg      config.RetrieverConfig
	logger   *log.Logger
}

func New(searcher passageSearcher, emb *embedder.Embedder, cfg config.RetrieverConfig, logger *log.Logger) (*Retriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("retriever requires a passage searcher")
	}
	if emb == nil {
		return nil, fmt.Errorf("retriever requires an embedder")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	}
	return &Retriever{searcher: searcher, embedder: emb, cfg: cfg.Normalize(), logger: logger}, nil
}

// Retrieve returns the deduplicated, threshold-filtered candidate set for the
// query, sorted by similarity descending. An unreachable store or provider
// fails the whole request: an empty result here always means "nothing
// relevant", never "dependency down".
func (r *Retriever) Retrieve(ctx context.Context, bookID string, query models.Query) ([]models.RetrievalCandidate, error) {
	if strings.TrimSpace(query.RawText) == "" {
		return nil, fmt.Errorf("%w: empty query", models.ErrInvalidInput)
	}
	if bookID == "" {
		return nil, fmt.Errorf("%w: book id required", models.ErrInvalidInput)
	}

	variants := query.Variants()
	perVariant := make([][]models.RetrievalCandidate, len(variants))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		i, variant := i, variant
		g.Go(func() error {
			vec, err := r.embedder.EmbedQuery(gctx, variant)
			if err != nil {
				return fmt.Errorf("embed variant %q: %w", variant, err)
			}
			hits, err := r.searcher.SearchPassages(gctx, bookID, vec, r.cfg.TopNPerVariant)
			if err != nil {
				return fmt.Errorf("search variant %q: %w", variant, err)
			}
			candidates := make([]models.RetrievalCandidate, 0, len(hits))
			for _, hit := range hits {
				candidates = append(candidates, models.RetrievalCandidate{
					Passage:     hit.Passage,
					Similarity:  clamp01(1 - hit.Distance),
					SourceQuery: variant,
				})
			}
			mu.Lock()
			perVariant[i] = candidates
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := Merge(perVariant)
	filtered := merged[:0]
	for _, c := range merged {
		if c.Similarity >= r.cfg.Threshold {
			filtered = append(filtered, c)
		}
	}
	r.logger.Printf("query %q: %d variants, %d merged, %d above threshold %.2f",
		query.RawText, len(variants), len(merged), len(filtered), r.cfg.Threshold)
	return filtered, nil
}

// Merge flattens per-variant candidate lists into one set with exactly one
// entry per passage id, keeping the maximum similarity observed. Output is
// sorted by similarity descending, ties broken by chapter order then start
// offset for determinism.
func Merge(perVariant [][]models.RetrievalCandidate) []models.RetrievalCandidate {
	best := make(map[string]models.RetrievalCandidate)
	for _, candidates := range perVariant {
		for _, c := range candidates {
			cur, ok := best[c.Passage.ID]
			if !ok || c.Similarity > cur.Similarity {
				best[c.Passage.ID] = c
			}
		}
	}
	merged := make([]models.RetrievalCandidate, 0, len(best))
	for _, c := range best {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Similarity != merged[j].Similarity {
			return merged[i].Similarity > merged[j].Similarity
		}
		if merged[i].Passage.ChapterOrder != merged[j].Passage.ChapterOrder {
			return merged[i].Passage.ChapterOrder < merged[j].Passage.ChapterOrder
		}
		return merged[i].Passage.StartOffset < merged[j].Passage.StartOffset
	})
	return merged
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
