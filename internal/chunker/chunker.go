package chunker

import (
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/models"
)

// Chunker splits chapter text into overlapping, boundary-aligned passages.
// Splitting is deterministic: identical text always yields identical offsets.
type Chunker struct {
	targetSize int
	overlap    int
	tolerance  int
}

// New builds a chunker from configuration.
func New(cfg config.ChunkerConfig) *Chunker {
	cfg = cfg.Normalize()
	return &Chunker{
		targetSize: cfg.TargetSize,
		overlap:    cfg.Overlap,
		tolerance:  cfg.Tolerance,
	}
}

// Split produces the ordered passage set covering all of text with no gaps.
// Empty text yields zero passages. Each passage after the first starts
// `overlap` characters before the previous passage's end so no idea is
// severed at a boundary. Embeddings are left unset.
func (c *Chunker) Split(bookID, chapterID string, chapterOrder int, text string) ([]models.Passage, error) {
	if bookID == "" || chapterID == "" {
		return nil, fmt.Errorf("%w: book and chapter identifiers are required", models.ErrInvalidInput)
	}
	if len(text) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var passages []models.Passage
	start := 0
	for start < len(text) {
		end := start + c.targetSize
		if end >= len(text) {
			end = len(text)
		} else if len(text)-end <= c.tolerance {
			// Absorb a short tail into the final passage instead of emitting
			// a trailing sliver that is mostly overlap.
			end = len(text)
		} else {
			// A hard cut must not land inside a multi-byte rune.
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			// Prefer a paragraph or sentence boundary near the target size.
			// Fall back to a hard cut when nothing lands inside the tolerance
			// window; the window floor keeps the scan from selecting a
			// boundary that would stall progress after overlap rewind.
			floor := start + c.overlap + 1
			if b := findBoundary(text, floor, end, c.tolerance); b > floor {
				end = b
			}
		}

		passages = append(passages, models.Passage{
			ID:           models.PassageID(bookID, chapterID, start, end),
			BookID:       bookID,
			ChapterID:    chapterID,
			ChapterOrder: chapterOrder,
			Text:         text[start:end],
			StartOffset:  start,
			EndOffset:    end,
			CreatedAt:    now,
		})

		if end >= len(text) {
			break
		}
		start = end - c.overlap
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
	}
	return passages, nil
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// findBoundary scans backwards from end looking for the nearest paragraph
// break, then sentence end, then whitespace, stopping once the scan leaves
// the tolerance window. Returns end when no acceptable boundary exists.
// end must sit on a rune start; every boundary returned does too.
func findBoundary(text string, floor, end, tolerance int) int {
	lo := end - tolerance
	if lo < floor {
		lo = floor
	}

	for i := end - 1; i > lo; i-- {
		if text[i] == '\n' && i+1 < len(text) && text[i+1] == '\n' {
			return i + 2
		}
	}
	for i := end - 1; i > lo; i-- {
		if sentenceEnders[text[i]] {
			if i+1 >= len(text) {
				return i + 1
			}
			// The byte after an ASCII ender is always a rune start.
			if r, _ := utf8.DecodeRuneInString(text[i+1:]); unicode.IsSpace(r) {
				return i + 1
			}
		}
	}
	// Whitespace scan decodes whole runes so a continuation byte is never
	// mistaken for a space.
	for i := end; i > lo; {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		if size == 0 {
			break
		}
		i -= size
		if i <= lo {
			break
		}
		if unicode.IsSpace(r) {
			return i + size
		}
	}
	return end
}
