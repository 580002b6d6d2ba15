package assembler

import (
	"math"

	"github.com/bookmind/bookmind/models"
)

// ScoringContext carries the request-level signals importance scorers may use.
type ScoringContext struct {
	// HintOrder is the chapter order of the caller's chapter hint, or -1 when
	// no hint was given or its order is unknown.
	HintOrder int
	// MaxChapterOrder is the highest chapter order among the passages being
	// assembled, used for normalisation.
	MaxChapterOrder int
}

// ImportanceScorer produces the secondary context-importance signal in
// composite scoring. The exact heuristic is deliberately pluggable; scores
// must fall in [0,1].
type ImportanceScorer interface {
	Score(p models.Passage, sc ScoringContext) float64
}

// NewImportanceScorer maps the configured signal name to a scorer.
func NewImportanceScorer(signal string) ImportanceScorer {
	switch signal {
	case "recency":
		return RecencyScorer{}
	case "none":
		return neutralScorer{}
	default:
		return ProximityScorer{}
	}
}

// ProximityScorer favours passages near the caller's chapter hint: reading
// position is a strong prior for which part of the book a question is about.
// Without a hint every passage scores neutral.
type ProximityScorer struct{}

func (ProximityScorer) Score(p models.Passage, sc ScoringContext) float64 {
	if sc.HintOrder < 0 {
		return 0.5
	}
	distance := math.Abs(float64(p.ChapterOrder - sc.HintOrder))
	span := float64(sc.MaxChapterOrder)
	if span <= 0 {
		span = 1
	}
	return 1 - math.Min(1, distance/span)
}

// RecencyScorer favours later chapters, a reasonable default for books read
// front to back when no explicit hint exists.
type RecencyScorer struct{}

func (RecencyScorer) Score(p models.Passage, sc ScoringContext) float64 {
	if sc.MaxChapterOrder <= 0 {
		return 0.5
	}
	return float64(p.ChapterOrder) / float64(sc.MaxChapterOrder)
}

type neutralScorer struct{}

func (neutralScorer) Score(models.Passage, ScoringContext) float64 { return 0.5 }
