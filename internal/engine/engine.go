package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/assembler"
	"github.com/bookmind/bookmind/internal/expander"
	"github.com/bookmind/bookmind/internal/rerank"
	"github.com/bookmind/bookmind/internal/retriever"
	"github.com/bookmind/bookmind/internal/runtime"
	"github.com/bookmind/bookmind/models"
)

// Engine is the caller-facing retrieval API: query text in, token-bounded
// context block out. The query path mutates nothing, so a timed-out request
// simply abandons its in-flight work.
type Engine struct {
	expander  *expander.Expander
	retriever *retriever.Retriever
	selector  *rerank.Selector
	assembler *assembler.Assembler
	topK      int
	metrics   *runtime.Metrics
	logger    *log.Logger
}

func New(exp *expander.Expander, ret *retriever.Retriever, sel *rerank.Selector, asm *assembler.Assembler, cfg config.RerankConfig, metrics *runtime.Metrics, logger *log.Logger) (*Engine, error) {
	if exp == nil || ret == nil || sel == nil || asm == nil {
		return nil, fmt.Errorf("engine requires expander, retriever, selector and assembler")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return &Engine{
		expander:  exp,
		retriever: ret,
		selector:  sel,
		assembler: asm,
		topK:      cfg.Normalize().TopK,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Retrieve runs the full query path: expansion, hybrid retrieval, MMR
// re-ranking and context assembly. Dependency failures surface as typed
// errors, never as an empty successful block; an empty block with a nil error
// genuinely means no relevant content.
func (e *Engine) Retrieve(ctx context.Context, bookID, queryText string, opts models.RetrieveOptions) (models.ContextBlock, error) {
	if strings.TrimSpace(queryText) == "" {
		return models.ContextBlock{}, fmt.Errorf("%w: empty query", models.ErrInvalidInput)
	}
	if strings.TrimSpace(bookID) == "" {
		return models.ContextBlock{}, fmt.Errorf("%w: book id required", models.ErrInvalidInput)
	}

	query := models.Query{
		RawText:     queryText,
		ChapterHint: opts.ChapterHint,
	}

	start := time.Now()
	query.ExpandedTerms = e.expander.Expand(queryText)
	e.metrics.ObserveStage("expand", time.Since(start))

	start = time.Now()
	candidates, err := e.retriever.Retrieve(ctx, bookID, query)
	if err != nil {
		return models.ContextBlock{}, err
	}
	e.metrics.ObserveStage("retrieve", time.Since(start))
	if e.metrics != nil {
		e.metrics.RetrievalCandidates.Observe(float64(len(candidates)))
	}
	if len(candidates) == 0 {
		e.logger.Printf("query %q: no candidates above threshold", queryText)
		return models.ContextBlock{}, nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = e.topK
	}
	start = time.Now()
	selected := e.selector.Select(candidates, topK)
	e.metrics.ObserveStage("rerank", time.Since(start))

	start = time.Now()
	block := e.assembler.Assemble(selected, query, opts.TokenBudget)
	e.metrics.ObserveStage("assemble", time.Since(start))
	if e.metrics != nil {
		e.metrics.ContextTokens.Observe(float64(block.TotalTokens))
	}

	e.logger.Printf("query %q: %d candidates, %d selected, %d tokens (truncated=%t)",
		queryText, len(candidates), len(block.Passages), block.TotalTokens, block.Truncated)
	return block, nil
}
