package store

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/bookmind/bookmind/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func testPassage(id string, start, end int) models.Passage {
	return models.Passage{
		ID:           id,
		BookID:       "book-1",
		ChapterID:    "ch-1",
		ChapterOrder: 0,
		Text:         "passage text",
		StartOffset:  start,
		EndOffset:    end,
		Embedding:    []float32{0.1, 0.2, 0.3},
	}
}

func TestReplaceChapterPassages(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM passages WHERE book_id=$1 AND chapter_id=$2`)).
		WithArgs("book-1", "ch-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO passages (id, book_id, chapter_id, chapter_order, start_offset, end_offset, text, embedding, created_at)`))
	prep.ExpectExec().
		WithArgs("p1", "book-1", "ch-1", 0, 0, 600, "passage text", "[0.1,0.2,0.3]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("p2", "book-1", "ch-1", 0, 450, 1050, "passage text", "[0.1,0.2,0.3]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	passages := []models.Passage{testPassage("p1", 0, 600), testPassage("p2", 450, 1050)}
	if err := s.ReplaceChapterPassages(context.Background(), "book-1", "ch-1", passages); err != nil {
		t.Fatalf("ReplaceChapterPassages: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceChapterPassagesEmptySetStillDeletes(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM passages WHERE book_id=$1 AND chapter_id=$2`)).
		WithArgs("book-1", "ch-1").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	if err := s.ReplaceChapterPassages(context.Background(), "book-1", "ch-1", nil); err != nil {
		t.Fatalf("ReplaceChapterPassages: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceChapterPassagesRollsBackOnBadPassage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM passages WHERE book_id=$1 AND chapter_id=$2`)).
		WithArgs("book-1", "ch-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO passages`))
	mock.ExpectRollback()

	missingEmbedding := testPassage("p1", 0, 600)
	missingEmbedding.Embedding = nil
	err := s.ReplaceChapterPassages(context.Background(), "book-1", "ch-1", []models.Passage{missingEmbedding})
	if err == nil {
		t.Fatal("expected error for passage without embedding")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceChapterPassagesRejectsInvalidOffsets(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM passages`)).
		WithArgs("book-1", "ch-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO passages`))
	mock.ExpectRollback()

	bad := testPassage("p1", 600, 600)
	if err := s.ReplaceChapterPassages(context.Background(), "book-1", "ch-1", []models.Passage{bad}); err == nil {
		t.Fatal("expected error for end <= start")
	}
}

func TestSearchPassages(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "book_id", "chapter_id", "chapter_order", "start_offset", "end_offset", "text", "embedding", "created_at", "distance",
	}).
		AddRow("p1", "book-1", "ch-1", 0, 0, 600, "nearest text", "[0.1,0.2]", now, 0.12).
		AddRow("p2", "book-1", "ch-2", 1, 450, 1050, "second text", "[0.3,0.4]", now, 0.34)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, book_id, chapter_id, chapter_order, start_offset, end_offset, text, embedding, created_at, embedding <=> $1::vector AS distance`)).
		WithArgs("[1,0]", "book-1", 10).
		WillReturnRows(rows)

	results, err := s.SearchPassages(context.Background(), "book-1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("SearchPassages: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	first := results[0]
	if first.Passage.ID != "p1" || first.Distance != 0.12 {
		t.Fatalf("unexpected first result %+v", first)
	}
	if len(first.Passage.Embedding) != 2 || first.Passage.Embedding[0] != 0.1 {
		t.Fatalf("embedding not decoded: %v", first.Passage.Embedding)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchPassagesValidation(t *testing.T) {
	s, _ := newMockStore(t)
	if _, err := s.SearchPassages(context.Background(), "", []float32{1}, 10); err == nil {
		t.Fatal("expected error for empty book id")
	}
	if _, err := s.SearchPassages(context.Background(), "book-1", nil, 10); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestCountPassages(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM passages WHERE book_id=$1`)).
		WithArgs("book-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.CountPassages(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("CountPassages: %v", err)
	}
	if n != 42 {
		t.Fatalf("count %d, want 42", n)
	}
}

func TestDeleteBook(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM passages WHERE book_id=$1`)).
		WithArgs("book-1").
		WillReturnResult(sqlmock.NewResult(0, 7))

	if err := s.DeleteBook(context.Background(), "book-1"); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestChapterFingerprint(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*), COALESCE(MIN(id), '')`)).
		WithArgs("book-1", "ch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(3, "p1"))

	fp, err := s.ChapterFingerprint(context.Background(), "book-1", "ch-1")
	if err != nil {
		t.Fatalf("ChapterFingerprint: %v", err)
	}
	if fp != "3:p1" {
		t.Fatalf("fingerprint %q, want 3:p1", fp)
	}
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 0, 3.75}
	lit, err := encodeVectorLiteral(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if lit != "[0.25,-1.5,0,3.75]" {
		t.Fatalf("unexpected literal %q", lit)
	}
	out, err := decodeVectorLiteral(lit)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("value %d: got %f, want %f", i, out[i], in[i])
		}
	}
}

func TestDecodeVectorLiteralErrors(t *testing.T) {
	if _, err := decodeVectorLiteral(""); err == nil {
		t.Fatal("expected error for empty literal")
	}
	if _, err := decodeVectorLiteral("[1,notanumber]"); err == nil {
		t.Fatal("expected error for malformed value")
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestGetPassages(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "book_id", "chapter_id", "chapter_order", "start_offset", "end_offset", "text", "created_at"}).
		AddRow("p1", "book-1", "ch-1", 0, 0, 600, "text one", now)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = ANY($1)`)).
		WillReturnRows(rows)

	got, err := s.GetPassages(context.Background(), []string{"p1"})
	if err != nil {
		t.Fatalf("GetPassages: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("unexpected result %+v", got)
	}

	empty, err := s.GetPassages(context.Background(), nil)
	if err != nil || empty != nil {
		t.Fatalf("expected nil,nil for empty ids, got %v,%v", empty, err)
	}
}

func TestSearchPassagesQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, book_id`)).
		WillReturnError(fmt.Errorf("connection refused"))

	_, err := s.SearchPassages(context.Background(), "book-1", []float32{1}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
}
