package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/assembler"
	"github.com/bookmind/bookmind/internal/embedder"
	"github.com/bookmind/bookmind/internal/expander"
	"github.com/bookmind/bookmind/internal/rerank"
	"github.com/bookmind/bookmind/internal/retriever"
	"github.com/bookmind/bookmind/internal/store"
	"github.com/bookmind/bookmind/models"
)

type stubProvider struct{}

func (stubProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeSearcher struct {
	hits []store.SearchResult
	err  error
}

func (f *fakeSearcher) SearchPassages(ctx context.Context, bookID string, vector []float32, topN int) ([]store.SearchResult, error) {
	return f.hits, f.err
}

func passageHit(id string, order int, distance float64, text string) store.SearchResult {
	return store.SearchResult{
		Passage: models.Passage{
			ID:           id,
			BookID:       "book-1",
			ChapterID:    fmt.Sprintf("ch-%d", order),
			ChapterOrder: order,
			Text:         text,
			Embedding:    []float32{float32(order), 1},
		},
		Distance: distance,
	}
}

func newTestEngine(t *testing.T, searcher *fakeSearcher) *Engine {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	emb, err := embedder.New(stubProvider{}, nil, config.EmbedderConfig{Model: "m", Dimensions: 2}, nil, nil)
	if err != nil {
		t.Fatalf("embedder.New: %v", err)
	}
	ret, err := retriever.New(searcher, emb, config.RetrieverConfig{Threshold: 0.5}, quiet)
	if err != nil {
		t.Fatalf("retriever.New: %v", err)
	}
	rerankCfg := config.RerankConfig{Lambda: 0.7, TopK: 2}
	eng, err := New(
		expander.New(config.ExpansionConfig{Enabled: true, Lexicon: map[string][]string{"whale": {"leviathan"}}}),
		ret,
		rerank.New(rerankCfg),
		assembler.New(config.AssemblerConfig{ImportanceSignal: "none"}, nil),
		rerankCfg,
		nil,
		quiet,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func TestRetrieveFullPath(t *testing.T) {
	searcher := &fakeSearcher{hits: []store.SearchResult{
		passageHit("a", 0, 0.1, strings.Repeat("About the whale. ", 10)),
		passageHit("b", 1, 0.2, strings.Repeat("About the captain. ", 10)),
		passageHit("c", 2, 0.3, strings.Repeat("About the sea. ", 10)),
	}}
	eng := newTestEngine(t, searcher)

	block, err := eng.Retrieve(context.Background(), "book-1", "the whale", models.RetrieveOptions{TokenBudget: 2000})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(block.Passages) != 2 {
		t.Fatalf("expected topK=2 passages, got %d", len(block.Passages))
	}
	if block.TotalTokens == 0 || block.TotalTokens > 2000 {
		t.Fatalf("unexpected token total %d", block.TotalTokens)
	}
	for _, sp := range block.Passages {
		if sp.CompositeScore <= 0 || sp.Relevance <= 0 {
			t.Fatalf("passage %s missing scores: %+v", sp.Passage.ID, sp)
		}
	}
}

func TestRetrieveTopKOverride(t *testing.T) {
	searcher := &fakeSearcher{hits: []store.SearchResult{
		passageHit("a", 0, 0.1, "Text one."),
		passageHit("b", 1, 0.2, "Text two."),
		passageHit("c", 2, 0.3, "Text three."),
	}}
	eng := newTestEngine(t, searcher)

	block, err := eng.Retrieve(context.Background(), "book-1", "q", models.RetrieveOptions{TopK: 3, TokenBudget: 2000})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(block.Passages) != 3 {
		t.Fatalf("expected 3 passages with TopK override, got %d", len(block.Passages))
	}
}

func TestRetrieveNoCandidatesIsNotAnError(t *testing.T) {
	eng := newTestEngine(t, &fakeSearcher{})
	block, err := eng.Retrieve(context.Background(), "book-1", "nothing matches", models.RetrieveOptions{})
	if err != nil {
		t.Fatalf("empty result must not error: %v", err)
	}
	if len(block.Passages) != 0 || block.TotalTokens != 0 {
		t.Fatalf("expected empty block, got %+v", block)
	}
}

func TestRetrieveInvalidInput(t *testing.T) {
	eng := newTestEngine(t, &fakeSearcher{})
	if _, err := eng.Retrieve(context.Background(), "book-1", "   ", models.RetrieveOptions{}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank query, got %v", err)
	}
	if _, err := eng.Retrieve(context.Background(), "", "q", models.RetrieveOptions{}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank book, got %v", err)
	}
}

func TestRetrieveDependencyFailure(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("%w: connection refused", models.ErrDependencyUnavailable)}
	eng := newTestEngine(t, searcher)
	if _, err := eng.Retrieve(context.Background(), "book-1", "q", models.RetrieveOptions{}); !errors.Is(err, models.ErrDependencyUnavailable) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
}
