package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Passage is an immutable, offset-addressed unit of chapter text with its
// embedding. Passages are created once during ingestion and superseded (never
// edited) when the source chapter changes.
type Passage struct {
	ID           string    `json:"id"`
	BookID       string    `json:"book_id"`
	ChapterID    string    `json:"chapter_id"`
	ChapterOrder int       `json:"chapter_order"`
	Text         string    `json:"text"`
	StartOffset  int       `json:"start_offset"`
	EndOffset    int       `json:"end_offset"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PassageID derives the stable passage identifier from book, chapter and the
// passage's character range. Identical chapter text always yields identical ids.
func PassageID(bookID, chapterID string, start, end int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", bookID, chapterID, start, end)))
	return hex.EncodeToString(sum[:16])
}

// Query is a transient retrieval request. It is constructed per request and
// never persisted.
type Query struct {
	RawText       string   `json:"raw_text"`
	ExpandedTerms []string `json:"expanded_terms,omitempty"`
	ChapterHint   string   `json:"chapter_hint,omitempty"`
}

// Variants returns the raw query followed by the expanded terms, in order.
// The raw query is always first so expansion can never displace it.
func (q Query) Variants() []string {
	out := make([]string, 0, 1+len(q.ExpandedTerms))
	out = append(out, q.RawText)
	out = append(out, q.ExpandedTerms...)
	return out
}

// RetrievalCandidate pairs a passage with the similarity one query variant
// observed for it. After deduplication at most one candidate survives per
// passage id, carrying the maximum similarity seen across variants.
type RetrievalCandidate struct {
	Passage     Passage `json:"passage"`
	Similarity  float64 `json:"similarity"`
	SourceQuery string  `json:"source_query"`
}

// ScoredPassage is a passage selected for the context block together with the
// signals that put it there.
type ScoredPassage struct {
	Passage        Passage `json:"passage"`
	Relevance      float64 `json:"relevance"`
	Importance     float64 `json:"importance"`
	CompositeScore float64 `json:"composite_score"`
	Tokens         int     `json:"tokens"`
}

// ContextBlock is the engine's output: composite-score-ordered passages packed
// within a token budget.
type ContextBlock struct {
	Passages    []ScoredPassage `json:"passages"`
	TotalTokens int             `json:"total_tokens"`
	Truncated   bool            `json:"truncated"`
}

// RetrieveOptions carries per-request overrides for the caller-facing
// retrieval API. Zero values fall back to configured defaults.
type RetrieveOptions struct {
	TokenBudget int    `json:"token_budget,omitempty"`
	ChapterHint string `json:"chapter_hint,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
}
