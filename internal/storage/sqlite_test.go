package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"paperdigest/internal/models"
	"paperdigest/internal/providers"
	"paperdigest/internal/util"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ingested(id string) models.IngestionStatus {
	return models.IngestionStatus{
		PaperID:    id,
		SourceID:   "2507.15846",
		Title:      "A paper",
		Status:     models.StatusIngested,
		Questions:  []string{"q1", "q2", "q3", "q4", "q5"},
		IngestedAt: "2025-07-22",
		ChunkCount: 12,
	}
}

func TestSQLiteStoreAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ok, err := s.Exists(ctx, "arxiv_2507.15846")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Get(ctx, "arxiv_2507.15846")
	require.True(t, errors.Is(err, util.ErrStatusRecordNotFound))

	require.NoError(t, s.Store(ctx, ingested("arxiv_2507.15846")))
	// Store is create-or-overwrite.
	require.NoError(t, s.Store(ctx, ingested("arxiv_2507.15846")))

	ok, err = s.Exists(ctx, "arxiv_2507.15846")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, "arxiv_2507.15846")
	require.NoError(t, err)
	require.Equal(t, models.StatusIngested, got.Status)
	require.Equal(t, []string{"q1", "q2", "q3", "q4", "q5"}, got.Questions)
	require.Equal(t, "2025-07-22", got.IngestedAt)
	require.Equal(t, 12, got.ChunkCount)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestSQLiteClaimIsInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rec := models.IngestionStatus{PaperID: "arxiv_1", CorrelationID: "c1"}

	ok, err := s.Claim(ctx, rec)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Claim(ctx, rec)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.Get(ctx, "arxiv_1")
	require.NoError(t, err)
	require.Equal(t, models.StatusNew, got.Status)
	require.Empty(t, got.Questions)
}

func TestSQLiteRecordFailureNeverOverwritesCompleted(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Store(ctx, ingested("arxiv_done")))
	require.NoError(t, s.RecordFailure(ctx, models.IngestionStatus{PaperID: "arxiv_done", FailReason: "FetchError: boom", CorrelationID: "c2"}))
	got, err := s.Get(ctx, "arxiv_done")
	require.NoError(t, err)
	require.Equal(t, models.StatusIngested, got.Status)
	require.Empty(t, got.FailReason)

	_, err = s.Claim(ctx, models.IngestionStatus{PaperID: "arxiv_new"})
	require.NoError(t, err)
	require.NoError(t, s.RecordFailure(ctx, models.IngestionStatus{PaperID: "arxiv_new", FailReason: "ModelError: malformed", CorrelationID: "c3"}))
	got, err = s.Get(ctx, "arxiv_new")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Equal(t, "ModelError: malformed", got.FailReason)
	require.Equal(t, "c3", got.CorrelationID)

	require.NoError(t, s.RecordFailure(ctx, models.IngestionStatus{PaperID: "arxiv_fresh", FailReason: "FetchError: 404"}))
	got, err = s.Get(ctx, "arxiv_fresh")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
}

func TestSQLiteReclaimTakesFailedRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.RecordFailure(ctx, models.IngestionStatus{PaperID: "arxiv_f", FailReason: "x"}))
	require.NoError(t, s.Store(ctx, ingested("arxiv_ok")))

	ok, err := s.Reclaim(ctx, "arxiv_f", "c9", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Reclaim(ctx, "arxiv_f", "c10", time.Time{})
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.Reclaim(ctx, "arxiv_ok", "c11", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.Get(ctx, "arxiv_f")
	require.NoError(t, err)
	require.Equal(t, models.StatusNew, got.Status)
	require.Equal(t, "c9", got.CorrelationID)
}

func TestSQLiteReclaimTakesOverStaleClaim(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ok, err := s.Claim(ctx, models.IngestionStatus{PaperID: "arxiv_n", CorrelationID: "c1"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Reclaim(ctx, "arxiv_n", "c2", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "fresh claim stays with its owner")

	ok, err = s.Reclaim(ctx, "arxiv_n", "c3", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	got, err := s.Get(ctx, "arxiv_n")
	require.NoError(t, err)
	require.Equal(t, models.StatusNew, got.Status)
	require.Equal(t, "c3", got.CorrelationID)
}

func TestSQLiteListByStatus(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordFailure(ctx, models.IngestionStatus{PaperID: id, FailReason: "r"}))
	}
	require.NoError(t, s.Store(ctx, ingested("d")))

	failed, err := s.ListByStatus(ctx, models.StatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 3)

	limited, err := s.ListByStatus(ctx, models.StatusFailed, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	done, err := s.ListByStatus(ctx, models.StatusIngested, 10)
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, "d", done[0].PaperID)
}

func TestSQLiteWriteChunksUpserts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	recs := []models.VectorRecord{
		{ChunkID: util.ChunkID("p", 0, "alpha"), PaperID: "p", Index: 0, Page: 1, Text: "alpha", Embedding: []float32{0.1, 0.2}},
		{ChunkID: util.ChunkID("p", 1, "beta"), PaperID: "p", Index: 1, Page: 1, Text: "beta", Embedding: []float32{0.3, 0.4}},
	}
	require.NoError(t, s.WriteChunks(ctx, "papers_rag", recs))
	require.NoError(t, s.WriteChunks(ctx, "papers_rag", recs))
	require.NoError(t, s.WriteChunks(ctx, "papers_rag", nil))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM paper_chunks WHERE index_name = ? AND paper_id = ?`, "papers_rag", "p").Scan(&n))
	require.Equal(t, 2, n)
}

func TestSQLiteRecordCall(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.RecordCall(ctx, providers.CallRecord{Operation: "chunk_question", PaperID: "p", ProviderName: "mock", Status: "ok"}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM llm_calls WHERE paper_id = ?`, "p").Scan(&n))
	require.Equal(t, 1, n)
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "paperdigest.db")
	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Store(context.Background(), ingested("keep")))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()
	ok, err := s2.Exists(context.Background(), "keep")
	require.NoError(t, err)
	require.True(t, ok)

	var versions int
	require.NoError(t, s2.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&versions))
	require.Equal(t, 1, versions)
}

func TestMigrationVersion(t *testing.T) {
	v, err := migrationVersion("001_init.sql")
	require.NoError(t, err)
	require.Equal(t, 1, v)
	_, err = migrationVersion("init.sql")
	require.Error(t, err)
}
