package assembler

import (
	"sort"
	"unicode"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/models"
)

// Assembler scores, orders and greedily packs re-ranked passages into a
// token-bounded context block. Ordering follows composite score, not document
// order: the downstream generation call reads best-first.
type Assembler struct {
	cfg    config.AssemblerConfig
	scorer ImportanceScorer
}

func New(cfg config.AssemblerConfig, scorer ImportanceScorer) *Assembler {
	cfg = cfg.Normalize()
	if scorer == nil {
		scorer = NewImportanceScorer(cfg.ImportanceSignal)
	}
	return &Assembler{cfg: cfg, scorer: scorer}
}

// Assemble builds the context block from MMR-selected candidates. tokenBudget
// <= 0 falls back to the configured default. The block never exceeds the
// budget; when a passage is cut to fit, the cut lands on a sentence boundary
// and no further passages are added, so the highest-priority content stays
// contiguous.
func (a *Assembler) Assemble(selected []models.RetrievalCandidate, query models.Query, tokenBudget int) models.ContextBlock {
	if tokenBudget <= 0 {
		tokenBudget = a.cfg.TokenBudget
	}
	block := models.ContextBlock{}
	if len(selected) == 0 {
		return block
	}

	sc := ScoringContext{HintOrder: -1}
	for _, c := range selected {
		if c.Passage.ChapterOrder > sc.MaxChapterOrder {
			sc.MaxChapterOrder = c.Passage.ChapterOrder
		}
		if query.ChapterHint != "" && c.Passage.ChapterID == query.ChapterHint {
			sc.HintOrder = c.Passage.ChapterOrder
		}
	}

	scored := make([]models.ScoredPassage, 0, len(selected))
	for _, c := range selected {
		importance := a.scorer.Score(c.Passage, sc)
		scored = append(scored, models.ScoredPassage{
			Passage:        c.Passage,
			Relevance:      c.Similarity,
			Importance:     importance,
			CompositeScore: a.cfg.RelevanceWeight*c.Similarity + a.cfg.ImportanceWeight*importance,
			Tokens:         CountTokens(c.Passage.Text),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].CompositeScore > scored[j].CompositeScore
	})

	for _, sp := range scored {
		if block.TotalTokens+sp.Tokens <= tokenBudget {
			block.Passages = append(block.Passages, sp)
			block.TotalTokens += sp.Tokens
			continue
		}

		// Overflow: keep the head of this passage up to a sentence boundary,
		// then stop packing entirely.
		remaining := tokenBudget - block.TotalTokens
		if truncated, tokens := truncateToBudget(sp.Passage.Text, remaining); truncated != "" {
			sp.Passage.Text = truncated
			sp.Passage.EndOffset = sp.Passage.StartOffset + len(truncated)
			sp.Tokens = tokens
			block.Passages = append(block.Passages, sp)
			block.TotalTokens += tokens
		}
		block.Truncated = true
		break
	}
	return block
}

// CountTokens approximates generation-model tokens from characters (~4 chars
// per token). The estimate only needs to be stable and conservative enough
// for budget packing, not provider-exact.
func CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// truncateToBudget cuts text so it fits within budget tokens, ending on the
// last sentence boundary before the cutoff. Returns empty when not even one
// sentence fits.
func truncateToBudget(text string, budget int) (string, int) {
	if budget <= 0 {
		return "", 0
	}
	cutoff := budget * 4
	if cutoff >= len(text) {
		return text, CountTokens(text)
	}
	for i := cutoff - 1; i > 0; i-- {
		if sentenceEnders[text[i]] {
			if i+1 >= len(text) || unicode.IsSpace(rune(text[i+1])) {
				out := text[:i+1]
				return out, CountTokens(out)
			}
		}
	}
	return "", 0
}
