package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/bookmind/bookmind/models"
)

// DefaultEmbeddingDimensions indicates the expected length of vectors stored
// in the pgvector column.
const DefaultEmbeddingDimensions = 1536

// Store is the authoritative passage index backed by Postgres + pgvector.
// Passages are immutable rows; the only write path replaces a chapter's whole
// passage set in one transaction so readers never observe a partial set.
type Store struct {
	DB *sql.DB
}

// SearchResult is one row of a similarity search: the passage plus its cosine
// distance from the query vector (0 = identical).
type SearchResult struct {
	Passage  models.Passage
	Distance float64
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: postgres: %v", models.ErrDependencyUnavailable, err)
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// ReplaceChapterPassages atomically replaces the chapter's passage set.
// The delete and inserts share one transaction: re-ingestion either fully
// supersedes the old set or leaves it untouched.
func (s *Store) ReplaceChapterPassages(ctx context.Context, bookID, chapterID string, passages []models.Passage) (err error) {
	if bookID == "" || chapterID == "" {
		return fmt.Errorf("book_id and chapter_id required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin replace: %v", models.ErrDependencyUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM passages WHERE book_id=$1 AND chapter_id=$2`, bookID, chapterID); err != nil {
		return fmt.Errorf("delete existing passages: %w", err)
	}
	if len(passages) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO passages (id, book_id, chapter_id, chapter_order, start_offset, end_offset, text, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector,NOW())
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range passages {
		if p.ID == "" {
			return fmt.Errorf("passage id required")
		}
		if p.EndOffset <= p.StartOffset {
			return fmt.Errorf("passage %s has invalid offsets [%d,%d)", p.ID, p.StartOffset, p.EndOffset)
		}
		if len(p.Embedding) == 0 {
			return fmt.Errorf("embedding vector required for passage %s", p.ID)
		}
		vectorLiteral, err := encodeVectorLiteral(p.Embedding)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, p.ID, bookID, chapterID, p.ChapterOrder, p.StartOffset, p.EndOffset, p.Text, vectorLiteral); err != nil {
			return err
		}
	}
	return nil
}

// SearchPassages returns the closest passages to the supplied vector within
// one book, nearest first. The embedding column is returned so re-ranking can
// compute pairwise similarity without a second round-trip.
func (s *Store) SearchPassages(ctx context.Context, bookID string, vector []float32, topN int) ([]SearchResult, error) {
	if bookID == "" {
		return nil, fmt.Errorf("book_id required")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topN <= 0 {
		topN = 30
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, book_id, chapter_id, chapter_order, start_offset, end_offset, text, embedding, created_at, embedding <=> $1::vector AS distance
FROM passages
WHERE book_id = $2
ORDER BY embedding <=> $1::vector
LIMIT $3
`, vecLiteral, bookID, topN)
	if err != nil {
		return nil, fmt.Errorf("%w: passage search: %v", models.ErrDependencyUnavailable, err)
	}
	defer rows.Close()
	var results []SearchResult
	for rows.Next() {
		var (
			res        SearchResult
			embLiteral string
		)
		if err := rows.Scan(&res.Passage.ID, &res.Passage.BookID, &res.Passage.ChapterID, &res.Passage.ChapterOrder,
			&res.Passage.StartOffset, &res.Passage.EndOffset, &res.Passage.Text, &embLiteral, &res.Passage.CreatedAt, &res.Distance); err != nil {
			return nil, err
		}
		emb, err := decodeVectorLiteral(embLiteral)
		if err != nil {
			return nil, fmt.Errorf("decode passage %s embedding: %w", res.Passage.ID, err)
		}
		res.Passage.Embedding = emb
		results = append(results, res)
	}
	return results, rows.Err()
}

// GetPassages fetches passages by id, without embeddings. Used by the
// evaluator to resolve expected-passage text.
func (s *Store) GetPassages(ctx context.Context, ids []string) ([]models.Passage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, book_id, chapter_id, chapter_order, start_offset, end_offset, text, created_at
FROM passages
WHERE id = ANY($1)
`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("%w: passage lookup: %v", models.ErrDependencyUnavailable, err)
	}
	defer rows.Close()
	var passages []models.Passage
	for rows.Next() {
		var p models.Passage
		if err := rows.Scan(&p.ID, &p.BookID, &p.ChapterID, &p.ChapterOrder, &p.StartOffset, &p.EndOffset, &p.Text, &p.CreatedAt); err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// CountPassages reports how many passages a book currently holds.
func (s *Store) CountPassages(ctx context.Context, bookID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages WHERE book_id=$1`, bookID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: passage count: %v", models.ErrDependencyUnavailable, err)
	}
	return n, nil
}

// DeleteBook removes every passage of a book. Used when a book is withdrawn.
func (s *Store) DeleteBook(ctx context.Context, bookID string) error {
	if bookID == "" {
		return fmt.Errorf("book_id required")
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM passages WHERE book_id=$1`, bookID)
	if err != nil {
		return fmt.Errorf("%w: delete book: %v", models.ErrDependencyUnavailable, err)
	}
	return nil
}

// ChapterFingerprint returns a fingerprint of the chapter's stored passage
// set (passage count plus id of the first passage) used to detect conflicting
// concurrent re-ingestions.
func (s *Store) ChapterFingerprint(ctx context.Context, bookID, chapterID string) (string, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(MIN(id), '')
FROM passages
WHERE book_id=$1 AND chapter_id=$2
`, bookID, chapterID)
	var count int
	var first string
	if err := row.Scan(&count, &first); err != nil {
		return "", fmt.Errorf("%w: chapter fingerprint: %v", models.ErrDependencyUnavailable, err)
	}
	return fmt.Sprintf("%d:%s", count, first), nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector value %q: %w", value, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
