package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/tigge_retriever/internal/storage"
	"github.com/italolelis/tigge_retriever/internal/telemetry"
)

func newRepo(t *testing.T) *InstrumentedRetrievalRepository {
	t.Helper()

	db, err := InitDB(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: true, ServiceName: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	return NewInstrumentedRetrievalRepository(db, tel)
}

func TestRetrievalRepository_Attempts(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.TrackAttempt(ctx, "2007-03-05", "a@example.com", "/data/2007-03-05-tigge.nc"))
	require.NoError(t, repo.RecordOutcome(ctx, "2007-03-05", storage.StatusFailed, "archive busy"))

	require.NoError(t, repo.TrackAttempt(ctx, "2007-03-06", "b@example.com", "/data/2007-03-06-tigge.nc"))
	require.NoError(t, repo.RecordOutcome(ctx, "2007-03-06", storage.StatusDownloaded, ""))

	failed, err := repo.GetFailedRetrievals(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "2007-03-05", failed[0].Date)
	assert.Equal(t, "archive busy", failed[0].Error)
	assert.Equal(t, 1, failed[0].Attempts)

	// A retry by another credential clears the failure and counts the attempt.
	require.NoError(t, repo.TrackAttempt(ctx, "2007-03-05", "b@example.com", "/data/2007-03-05-tigge.nc"))
	require.NoError(t, repo.RecordOutcome(ctx, "2007-03-05", storage.StatusDownloaded, ""))

	all, err := repo.GetRetrievals(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2007-03-05", all[0].Date)
	assert.Equal(t, "b@example.com", all[0].Identity)
	assert.Equal(t, storage.StatusDownloaded, all[0].Status)
	assert.Empty(t, all[0].Error)
	assert.Equal(t, 2, all[0].Attempts)
	assert.False(t, all[0].UpdatedAt.IsZero())

	failed, err = repo.GetFailedRetrievals(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRetrievalRepository_RecordOutcomeUnknownDate(t *testing.T) {
	err := newRepo(t).RecordOutcome(context.Background(), "2007-03-05", storage.StatusDownloaded, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRetrievalRepository_Batches(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.LastBatch(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	first := time.Date(2026, time.October, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordBatch(ctx, storage.BatchRecord{
		ID: "first", StartedAt: first, FinishedAt: first.Add(time.Hour), Succeeded: 3,
	}))
	require.NoError(t, repo.RecordBatch(ctx, storage.BatchRecord{
		ID: "second", StartedAt: first.Add(24 * time.Hour), FinishedAt: first.Add(25 * time.Hour),
		Succeeded: 1, Failed: 2, Skipped: 3, Unavailable: 4, Pending: 5,
	}))

	last, err := repo.LastBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", last.ID)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, []int{last.Succeeded, last.Failed, last.Skipped, last.Unavailable, last.Pending})
	assert.True(t, last.FinishedAt.Equal(first.Add(25*time.Hour)))
}

func TestInitDB_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	db, err := InitDB(ctx, path)
	require.NoError(t, err)
	require.NoError(t, NewRetrievalRepository(db).TrackAttempt(ctx, "2007-03-05", "a@example.com", "/data/x.nc"))
	require.NoError(t, db.Close())

	db, err = InitDB(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	all, err := NewRetrievalRepository(db).GetRetrievals(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "schema creation keeps existing rows")
}
