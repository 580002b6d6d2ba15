package expander

import (
	"strings"

	"github.com/bookmind/bookmind/config"
)

// Expander derives additional query phrases from an immutable synonym lexicon
// loaded at startup. Expansion is best-effort and exists purely to raise
// recall: the original query is never altered and always searched first, so an
// empty result here costs nothing.
type Expander struct {
	lexicon  map[string][]string
	maxTerms int
	enabled  bool
}

// New builds an expander over the configured lexicon. Keys are matched
// case-insensitively against whole words and multi-word phrases of the query.
func New(cfg config.ExpansionConfig) *Expander {
	cfg = cfg.Normalize()
	lexicon := make(map[string][]string, len(cfg.Lexicon))
	for term, synonyms := range cfg.Lexicon {
		key := normalize(term)
		if key == "" || len(synonyms) == 0 {
			continue
		}
		lexicon[key] = synonyms
	}
	return &Expander{lexicon: lexicon, maxTerms: cfg.MaxTerms, enabled: cfg.Enabled}
}

// Expand returns up to maxTerms variant phrases for the raw query. Each
// variant is the query with one matched term replaced by a synonym, so a
// variant stays close enough to the original to retrieve paraphrase matches
// without drifting off-topic.
func (e *Expander) Expand(rawQuery string) []string {
	if !e.enabled || len(e.lexicon) == 0 {
		return nil
	}
	query := normalize(rawQuery)
	if query == "" {
		return nil
	}

	var out []string
	seen := map[string]bool{query: true}
	for _, phrase := range matchedPhrases(query, e.lexicon) {
		for _, synonym := range e.lexicon[phrase] {
			variant := strings.Replace(query, phrase, normalize(synonym), 1)
			if variant == "" || seen[variant] {
				continue
			}
			seen[variant] = true
			out = append(out, variant)
			if len(out) >= e.maxTerms {
				return out
			}
		}
	}
	return out
}

// matchedPhrases returns the lexicon keys present in the query, longest
// first so multi-word domain terms win over their constituent words.
func matchedPhrases(query string, lexicon map[string][]string) []string {
	padded := " " + query + " "
	var matches []string
	for phrase := range lexicon {
		if strings.Contains(padded, " "+phrase+" ") {
			matches = append(matches, phrase)
		}
	}
	// Insertion order of map iteration is random; sort by length then text
	// for deterministic expansion.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0; j-- {
			a, b := matches[j-1], matches[j]
			if len(b) > len(a) || (len(b) == len(a) && b < a) {
				matches[j-1], matches[j] = b, a
			} else {
				break
			}
		}
	}
	return matches
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
