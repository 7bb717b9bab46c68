package storage

import (
	"context"
	"errors"
	"time"
)

// Retrieval statuses kept in the journal.
const (
	StatusDownloading = "downloading"
	StatusDownloaded  = "downloaded"
	StatusFailed      = "failed"
)

// ErrNotFound is returned when the journal holds no matching record.
var ErrNotFound = errors.New("record not found")

// RetrievalRecord is the journal entry for a single date.
type RetrievalRecord struct {
	Date      string
	Identity  string
	FilePath  string
	Status    string
	Error     string
	Attempts  int
	UpdatedAt time.Time
}

// BatchRecord summarizes one bulk run.
type BatchRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Succeeded   int
	Failed      int
	Skipped     int
	Unavailable int
	Pending     int
}

// RetrievalReadRepository reads the retrieval journal.
type RetrievalReadRepository interface {
	GetRetrievals(ctx context.Context) ([]RetrievalRecord, error)
	GetFailedRetrievals(ctx context.Context) ([]RetrievalRecord, error)
	LastBatch(ctx context.Context) (*BatchRecord, error)
}

// RetrievalWriteRepository records retrieval attempts and batch outcomes.
type RetrievalWriteRepository interface {
	TrackAttempt(ctx context.Context, date, identity, filePath string) error
	RecordOutcome(ctx context.Context, date, status, message string) error
	RecordBatch(ctx context.Context, batch BatchRecord) error
}
