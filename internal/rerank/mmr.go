package rerank

import (
	"math"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/models"
)

// Selector picks a diverse subset of retrieval candidates using Maximal
// Marginal Relevance (Carbonell & Goldstein 1998):
//
//	score(c) = λ·relevance(c, query) − (1−λ)·max_{s∈S} sim(c, s)
//
// λ near 1 favours relevance, λ near 0 favours diversity. The default 0.7
// keeps ranking relevance-led while still pushing apart near-duplicate
// passages such as two overlapping chunks of the same paragraph.
type Selector struct {
	lambda float64
}

func New(cfg config.RerankConfig) *Selector {
	return &Selector{lambda: cfg.Normalize().Lambda}
}

// Select returns min(k, len(candidates)) passages in selection order.
// Candidates are expected sorted by similarity descending (retriever output);
// equal MMR scores break toward the earlier passage in the chapter so results
// are deterministic.
func (s *Selector) Select(candidates []models.RetrievalCandidate, k int) []models.RetrievalCandidate {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	pool := make([]models.RetrievalCandidate, len(candidates))
	copy(pool, candidates)
	selected := make([]models.RetrievalCandidate, 0, k)

	for len(selected) < k && len(pool) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range pool {
			score := s.lambda * c.Similarity
			if len(selected) > 0 {
				score -= (1 - s.lambda) * maxSimilarity(c, selected)
			}
			if bestIdx == -1 || score > bestScore || (score == bestScore && earlier(c, pool[bestIdx])) {
				bestIdx = i
				bestScore = score
			}
		}
		selected = append(selected, pool[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}
	return selected
}

func maxSimilarity(c models.RetrievalCandidate, selected []models.RetrievalCandidate) float64 {
	max := 0.0
	for _, s := range selected {
		if sim := CosineSimilarity(c.Passage.Embedding, s.Passage.Embedding); sim > max {
			max = sim
		}
	}
	return max
}

func earlier(a, b models.RetrievalCandidate) bool {
	if a.Passage.ChapterOrder != b.Passage.ChapterOrder {
		return a.Passage.ChapterOrder < b.Passage.ChapterOrder
	}
	return a.Passage.StartOffset < b.Passage.StartOffset
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
