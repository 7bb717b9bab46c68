package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/tigge_retriever/internal/storage"
	"github.com/italolelis/tigge_retriever/internal/telemetry"
)

// InstrumentedRetrievalRepository wraps RetrievalRepository with telemetry.
type InstrumentedRetrievalRepository struct {
	repo      *RetrievalRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRetrievalRepository creates a new instrumented retrieval repository.
func NewInstrumentedRetrievalRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedRetrievalRepository {
	return &InstrumentedRetrievalRepository{
		repo:      NewRetrievalRepository(dbConn),
		telemetry: tel,
	}
}

// GetRetrievals retrieves all journal entries with telemetry.
func (r *InstrumentedRetrievalRepository) GetRetrievals(ctx context.Context) ([]storage.RetrievalRecord, error) {
	var result []storage.RetrievalRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_retrievals", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetRetrievals(ctx)

		return err
	})

	return result, err
}

// GetFailedRetrievals retrieves failed journal entries with telemetry.
func (r *InstrumentedRetrievalRepository) GetFailedRetrievals(ctx context.Context) ([]storage.RetrievalRecord, error) {
	var result []storage.RetrievalRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_failed_retrievals", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetFailedRetrievals(ctx)

		return err
	})

	return result, err
}

// LastBatch returns the latest batch with telemetry.
func (r *InstrumentedRetrievalRepository) LastBatch(ctx context.Context) (*storage.BatchRecord, error) {
	var result *storage.BatchRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "last_batch", func(ctx context.Context) error {
		var err error
		result, err = r.repo.LastBatch(ctx)

		return err
	})

	return result, err
}

// TrackAttempt tracks an attempt with telemetry.
func (r *InstrumentedRetrievalRepository) TrackAttempt(ctx context.Context, date, identity, filePath string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_attempt", func(ctx context.Context) error {
		return r.repo.TrackAttempt(ctx, date, identity, filePath)
	})
}

// RecordOutcome records an outcome with telemetry.
func (r *InstrumentedRetrievalRepository) RecordOutcome(ctx context.Context, date, status, message string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_outcome", func(ctx context.Context) error {
		return r.repo.RecordOutcome(ctx, date, status, message)
	})
}

// RecordBatch records a batch with telemetry.
func (r *InstrumentedRetrievalRepository) RecordBatch(ctx context.Context, batch storage.BatchRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_batch", func(ctx context.Context) error {
		return r.repo.RecordBatch(ctx, batch)
	})
}
