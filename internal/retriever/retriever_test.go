package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"testing"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/embedder"
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

// fakeSearcher serves per-query-text result sets keyed by nothing: every
// search sees the same corpus, distances fixed per passage.
type fakeSearcher struct {
	results map[string][]store.SearchResult
	err     error
}

func (f *fakeSearcher) SearchPassages(ctx context.Context, bookID string, vector []float32, topN int) ([]store.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results[bookID], nil
}

func hit(id string, order, start int, distance float64) store.SearchResult {
	return store.SearchResult{
		Passage: models.Passage{
			ID:           id,
			BookID:       "book-1",
			ChapterID:    fmt.Sprintf("ch-%d", order),
			ChapterOrder: order,
			StartOffset:  start,
		},
		Distance: distance,
	}
}

func newTestRetriever(t *testing.T, searcher *fakeSearcher, cfg config.RetrieverConfig) *Retriever {
	t.Helper()
	emb, err := embedder.New(stubProvider{}, nil, config.EmbedderConfig{Model: "m", Dimensions: 2}, nil, nil)
	if err != nil {
		t.Fatalf("embedder.New: %v", err)
	}
	r, err := New(searcher, emb, cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRetrieveFiltersAndSorts(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]store.SearchResult{
		"book-1": {
			hit("low", 0, 0, 0.6),   // similarity 0.4, below threshold
			hit("high", 1, 0, 0.1),  // similarity 0.9
			hit("mid", 2, 100, 0.3), // similarity 0.7
		},
	}}
	r := newTestRetriever(t, searcher, config.RetrieverConfig{Threshold: 0.65})

	got, err := r.Retrieve(context.Background(), "book-1", models.Query{RawText: "whale"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates above threshold, got %d", len(got))
	}
	if got[0].Passage.ID != "high" || got[1].Passage.ID != "mid" {
		t.Fatalf("wrong order: %s, %s", got[0].Passage.ID, got[1].Passage.ID)
	}
	if math.Abs(got[0].Similarity-0.9) > 1e-9 {
		t.Fatalf("similarity %f, want 0.9", got[0].Similarity)
	}
}

func TestRetrieveExpandedVariantsWidenRecall(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]store.SearchResult{
		"book-1": {hit("a", 0, 0, 0.2)},
	}}
	r := newTestRetriever(t, searcher, config.RetrieverConfig{Threshold: 0.5})

	base, err := r.Retrieve(context.Background(), "book-1", models.Query{RawText: "whale"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	expanded, err := r.Retrieve(context.Background(), "book-1", models.Query{
		RawText:       "whale",
		ExpandedTerms: []string{"leviathan", "great fish"},
	})
	if err != nil {
		t.Fatalf("Retrieve expanded: %v", err)
	}
	// Every passage reachable from the raw query alone must still be present.
	for _, b := range base {
		found := false
		for _, e := range expanded {
			if e.Passage.ID == b.Passage.ID {
				found = true
			}
		}
		if !found {
			t.Fatalf("expansion lost passage %s", b.Passage.ID)
		}
	}
}

func TestRetrieveInvalidInput(t *testing.T) {
	r := newTestRetriever(t, &fakeSearcher{}, config.RetrieverConfig{})
	if _, err := r.Retrieve(context.Background(), "book-1", models.Query{RawText: "  "}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty query, got %v", err)
	}
	if _, err := r.Retrieve(context.Background(), "", models.Query{RawText: "q"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty book, got %v", err)
	}
}

func TestRetrieveSearchFailureFailsRequest(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("%w: store down", models.ErrDependencyUnavailable)}
	r := newTestRetriever(t, searcher, config.RetrieverConfig{})
	if _, err := r.Retrieve(context.Background(), "book-1", models.Query{RawText: "q"}); !errors.Is(err, models.ErrDependencyUnavailable) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
}

func TestMergeKeepsBestSimilarityPerPassage(t *testing.T) {
	perVariant := [][]models.RetrievalCandidate{
		{
			{Passage: models.Passage{ID: "a"}, Similarity: 0.7, SourceQuery: "raw"},
			{Passage: models.Passage{ID: "b"}, Similarity: 0.8, SourceQuery: "raw"},
		},
		{
			{Passage: models.Passage{ID: "a"}, Similarity: 0.9, SourceQuery: "variant"},
		},
	}
	merged := Merge(perVariant)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged candidates, got %d", len(merged))
	}
	if merged[0].Passage.ID != "a" || merged[0].Similarity != 0.9 || merged[0].SourceQuery != "variant" {
		t.Fatalf("merge did not keep best entry: %+v", merged[0])
	}
	if merged[1].Passage.ID != "b" {
		t.Fatalf("expected b second, got %s", merged[1].Passage.ID)
	}
}

func TestMergeTieBreakDeterministic(t *testing.T) {
	perVariant := [][]models.RetrievalCandidate{{
		{Passage: models.Passage{ID: "later", ChapterOrder: 1}, Similarity: 0.8},
		{Passage: models.Passage{ID: "earlier", ChapterOrder: 0, StartOffset: 50}, Similarity: 0.8},
		{Passage: models.Passage{ID: "first", ChapterOrder: 0, StartOffset: 0}, Similarity: 0.8},
	}}
	for i := 0; i < 10; i++ {
		merged := Merge(perVariant)
		want := []string{"first", "earlier", "later"}
		for j, id := range want {
			if merged[j].Passage.ID != id {
				t.Fatalf("run %d position %d: got %s, want %s", i, j, merged[j].Passage.ID, id)
			}
		}
	}
}
