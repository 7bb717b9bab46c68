package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/tigge_retriever/internal/storage"
)

type RetrievalRepository struct {
	db *sql.DB
}

func NewRetrievalRepository(dbConn *sql.DB) *RetrievalRepository {
	return &RetrievalRepository{db: dbConn}
}

func (r *RetrievalRepository) GetRetrievals(ctx context.Context) ([]storage.RetrievalRecord, error) {
	return r.query(ctx, `SELECT date, identity, file_path, status, error, attempts, updated_at FROM retrievals ORDER BY date`)
}

// GetFailedRetrievals returns the dates whose last attempt failed, oldest date first.
func (r *RetrievalRepository) GetFailedRetrievals(ctx context.Context) ([]storage.RetrievalRecord, error) {
	return r.query(ctx,
		`SELECT date, identity, file_path, status, error, attempts, updated_at
		FROM retrievals
		WHERE status = ?
		ORDER BY date`, storage.StatusFailed)
}

func (r *RetrievalRepository) query(ctx context.Context, query string, args ...any) ([]storage.RetrievalRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.RetrievalRecord

	for rows.Next() {
		var record storage.RetrievalRecord
		if err := rows.Scan(&record.Date, &record.Identity, &record.FilePath, &record.Status,
			&record.Error, &record.Attempts, &record.UpdatedAt); err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

// TrackAttempt marks date as downloading by identity and bumps its attempt counter.
func (r *RetrievalRepository) TrackAttempt(ctx context.Context, date, identity, filePath string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retrievals (date, identity, file_path, status, error, attempts, updated_at)
		VALUES (?, ?, ?, 'downloading', '', 1, ?)
		ON CONFLICT(date) DO UPDATE SET
			identity = excluded.identity,
			file_path = excluded.file_path,
			status = 'downloading',
			error = '',
			attempts = retrievals.attempts + 1,
			updated_at = excluded.updated_at
	`, date, identity, filePath, time.Now().UTC())

	return err
}

// RecordOutcome sets the final status of the latest attempt for date.
func (r *RetrievalRepository) RecordOutcome(ctx context.Context, date, status, message string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE retrievals SET status = ?, error = ?, updated_at = ? WHERE date = ?`,
		status, message, time.Now().UTC(), date)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *RetrievalRepository) RecordBatch(ctx context.Context, batch storage.BatchRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO batches (id, started_at, finished_at, succeeded, failed, skipped, unavailable, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.StartedAt, batch.FinishedAt,
		batch.Succeeded, batch.Failed, batch.Skipped, batch.Unavailable, batch.Pending)

	return err
}

// LastBatch returns the most recently finished run.
func (r *RetrievalRepository) LastBatch(ctx context.Context) (*storage.BatchRecord, error) {
	var b storage.BatchRecord

	err := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, succeeded, failed, skipped, unavailable, pending
		FROM batches
		ORDER BY finished_at DESC
		LIMIT 1`).Scan(&b.ID, &b.StartedAt, &b.FinishedAt, &b.Succeeded, &b.Failed, &b.Skipped, &b.Unavailable, &b.Pending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return &b, nil
}
