package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSSource reads chapter text from a directory laid out as
// <root>/<bookID>/<chapterID>.txt. It backs the CLI; services plug in their
// own SourceTextProvider.
type FSSource struct {
	Root string
}

func NewFSSource(root string) *FSSource { return &FSSource{Root: root} }

// GetChapterText returns the chapter file's contents. A missing file is a
// not-found error; an empty file is valid and yields zero passages upstream.
func (s *FSSource) GetChapterText(_ context.Context, bookID, chapterID string) (string, error) {
	path := filepath.Join(s.Root, bookID, chapterID+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("chapter %s/%s not found: %w", bookID, chapterID, err)
	}
	return string(data), nil
}

// ListChapters enumerates a book's chapters in filename order, assigning
// chapter order from position.
func (s *FSSource) ListChapters(bookID string) ([]ChapterRef, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, bookID))
	if err != nil {
		return nil, fmt.Errorf("book %s not found: %w", bookID, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}
	sort.Strings(names)
	refs := make([]ChapterRef, len(names))
	for i, name := range names {
		refs[i] = ChapterRef{ChapterID: name, Order: i}
	}
	return refs, nil
}
