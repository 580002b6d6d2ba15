package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/chunker"
	"github.com/bookmind/bookmind/internal/embedder"
	"github.com/bookmind/bookmind/internal/runtime"
	"github.com/bookmind/bookmind/models"
)

// SourceTextProvider supplies plain chapter text. Format parsing of source
// documents happens upstream of this boundary.
type SourceTextProvider interface {
	GetChapterText(ctx context.Context, bookID, chapterID string) (string, error)
}

// chapterWriter abstracts the store write path plus the fingerprint used to
// detect conflicting concurrent re-ingestions.
type chapterWriter interface {
	ReplaceChapterPassages(ctx context.Context, bookID, chapterID string, passages []models.Passage) error
	ChapterFingerprint(ctx context.Context, bookID, chapterID string) (string, error)
}

// ChapterRef names one chapter of a book to ingest.
type ChapterRef struct {
	ChapterID string
	Order     int
}

// Ingestor runs the chapter ingestion pipeline: source text -> chunker ->
// embedder -> atomic store replace. Ingestion is all-or-nothing per chapter;
// a failed embedding batch fails the chapter and leaves the stored passage
// set untouched. Concurrent re-ingestion of one chapter is single-flighted so
// two ingestions never interleave writes.
type Ingestor struct {
	source   SourceTextProvider
	chunker  *chunker.Chunker
	embedder *embedder.Embedder
	writer   chapterWriter
	metrics  *runtime.Metrics
	logger   *log.Logger

	parallelism int
	group       singleflight.Group
	inflight    sync.Map // chapter key -> order being ingested
}

func New(source SourceTextProvider, ch *chunker.Chunker, emb *embedder.Embedder, writer chapterWriter, cfg config.IngestConfig, metrics *runtime.Metrics, logger *log.Logger) (*Ingestor, error) {
	if source == nil || ch == nil || emb == nil || writer == nil {
		return nil, fmt.Errorf("ingestor requires source, chunker, embedder and writer")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Ingestor{
		source:      source,
		chunker:     ch,
		embedder:    emb,
		writer:      writer,
		metrics:     metrics,
		logger:      logger,
		parallelism: cfg.Normalize().ChapterParallelism,
	}, nil
}

// IngestChapter chunks, embeds and stores one chapter, returning the passage
// count written. A concurrent ingestion of the same chapter with the same
// order waits and shares the first writer's result; one with a different
// order is rejected with ErrIngestionConflict.
func (i *Ingestor) IngestChapter(ctx context.Context, bookID, chapterID string, order int) (int, error) {
	if bookID == "" || chapterID == "" {
		return 0, fmt.Errorf("%w: book and chapter identifiers are required", models.ErrInvalidInput)
	}
	key := bookID + "/" + chapterID
	if prev, loaded := i.inflight.LoadOrStore(key, order); loaded && prev.(int) != order {
		return 0, fmt.Errorf("%w: chapter %s already being ingested at order %d", models.ErrIngestionConflict, key, prev.(int))
	}

	var executed bool
	count, err, _ := i.group.Do(key, func() (interface{}, error) {
		defer i.inflight.Delete(key)
		executed = true
		return i.ingestChapter(ctx, bookID, chapterID, order)
	})
	if err != nil {
		return 0, err
	}
	if !executed {
		i.logger.Printf("chapter %s: joined in-flight ingestion", key)
		// The shared flight wrote another caller's snapshot of the chapter.
		// Verify it matches what this caller would have written; a joiner
		// holding different source text must not report success for content
		// that never landed.
		if err := i.verifySharedResult(ctx, bookID, chapterID, order); err != nil {
			return 0, err
		}
	}
	return count.(int), nil
}

// verifySharedResult compares the stored chapter fingerprint against the
// fingerprint this caller's source text would produce. Passage ids derive from
// offsets alone, so the expected fingerprint needs chunking but no embedding.
func (i *Ingestor) verifySharedResult(ctx context.Context, bookID, chapterID string, order int) error {
	text, err := i.source.GetChapterText(ctx, bookID, chapterID)
	if err != nil {
		return fmt.Errorf("%w: chapter text for %s/%s: %v", models.ErrInvalidInput, bookID, chapterID, err)
	}
	passages, err := i.chunker.Split(bookID, chapterID, order, text)
	if err != nil {
		return err
	}
	want := fingerprintOf(passages)
	stored, err := i.writer.ChapterFingerprint(ctx, bookID, chapterID)
	if err != nil {
		return fmt.Errorf("fingerprint chapter %s/%s: %w", bookID, chapterID, err)
	}
	if stored != want {
		return fmt.Errorf("%w: chapter %s/%s content diverged during shared ingestion", models.ErrIngestionConflict, bookID, chapterID)
	}
	return nil
}

// fingerprintOf mirrors the store's chapter fingerprint: passage count plus
// the lexicographically smallest passage id.
func fingerprintOf(passages []models.Passage) string {
	first := ""
	for _, p := range passages {
		if first == "" || p.ID < first {
			first = p.ID
		}
	}
	return fmt.Sprintf("%d:%s", len(passages), first)
}

func (i *Ingestor) ingestChapter(ctx context.Context, bookID, chapterID string, order int) (int, error) {
	text, err := i.source.GetChapterText(ctx, bookID, chapterID)
	if err != nil {
		return 0, fmt.Errorf("%w: chapter text for %s/%s: %v", models.ErrInvalidInput, bookID, chapterID, err)
	}

	passages, err := i.chunker.Split(bookID, chapterID, order, text)
	if err != nil {
		return 0, err
	}
	// Empty chapters supersede whatever was stored with an empty set.
	if len(passages) > 0 {
		texts := make([]string, len(passages))
		for idx, p := range passages {
			texts[idx] = p.Text
		}
		vectors, err := i.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed chapter %s/%s: %w", bookID, chapterID, err)
		}
		for idx := range passages {
			passages[idx].Embedding = vectors[idx]
		}
	}

	if err := i.writer.ReplaceChapterPassages(ctx, bookID, chapterID, passages); err != nil {
		return 0, fmt.Errorf("store chapter %s/%s: %w", bookID, chapterID, err)
	}
	if i.metrics != nil {
		i.metrics.ChaptersIngested.Inc()
		i.metrics.PassagesIngested.Add(float64(len(passages)))
	}
	i.logger.Printf("chapter %s/%s: %d passages", bookID, chapterID, len(passages))
	return len(passages), nil
}

// IngestBook ingests the given chapters with bounded parallelism. Chapters
// are independent; one chapter failing fails the call but already-completed
// chapters keep their new passage sets.
func (i *Ingestor) IngestBook(ctx context.Context, bookID string, chapters []ChapterRef) (int, error) {
	if bookID == "" {
		return 0, fmt.Errorf("%w: book id required", models.ErrInvalidInput)
	}
	var total int64
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.parallelism)
	for _, ref := range chapters {
		ref := ref
		g.Go(func() error {
			n, err := i.IngestChapter(gctx, bookID, ref.ChapterID, ref.Order)
			if err != nil {
				return err
			}
			mu.Lock()
			total += int64(n)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(total), err
	}
	return int(total), nil
}
