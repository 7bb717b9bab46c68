package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/tigge_retriever/internal/logctx"
	"github.com/italolelis/tigge_retriever/internal/retriever"
)

// JournaledFetcher records every fetch in the journal. The journal is an audit
// trail only: the artifact on disk stays the single source of truth for whether a
// date needs downloading, so journal failures are logged and never fail a fetch.
type JournaledFetcher struct {
	fetcher retriever.Fetcher
	repo    RetrievalWriteRepository
}

// NewJournaledFetcher wraps fetcher.
func NewJournaledFetcher(fetcher retriever.Fetcher, repo RetrievalWriteRepository) *JournaledFetcher {
	return &JournaledFetcher{fetcher: fetcher, repo: repo}
}

// Fetch implements retriever.Fetcher.
func (f *JournaledFetcher) Fetch(ctx context.Context, req retriever.RetrievalRequest, cred retriever.Credential) error {
	logger := logctx.LoggerFromContext(ctx)
	date := req.Date.String()

	if err := f.repo.TrackAttempt(ctx, date, cred.Identity, req.TargetPath); err != nil {
		logger.WarnContext(ctx, "failed to journal retrieval attempt", "date", date, "err", err)
	}

	fetchErr := f.fetcher.Fetch(ctx, req, cred)

	status, message := StatusDownloaded, ""
	if fetchErr != nil {
		status, message = StatusFailed, fetchErr.Error()
	}

	if err := f.repo.RecordOutcome(ctx, date, status, message); err != nil {
		logger.WarnContext(ctx, "failed to journal retrieval outcome", "date", date, "err", err)
	}

	return fetchErr
}

// NewBatchRecord summarizes a finished run.
func NewBatchRecord(startedAt time.Time, result *retriever.BatchResult) BatchRecord {
	return BatchRecord{
		ID:          uuid.NewString(),
		StartedAt:   startedAt.UTC(),
		FinishedAt:  time.Now().UTC(),
		Succeeded:   len(result.Succeeded),
		Failed:      len(result.Failed),
		Skipped:     len(result.Skipped),
		Unavailable: len(result.Unavailable),
		Pending:     len(result.Pending),
	}
}
