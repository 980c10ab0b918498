// Package history records completed pipeline runs in PostgreSQL for later
// inspection.
package history

import (
	"context"
	"database/sql"
	"time"

	"restaurant-recommender/internal/common/errors"
)

type Run struct {
	RequestID           string
	UserText            string
	Status              string
	Stage               string
	MergeStrategy       string
	RecommendationCount int
	ErrorMessage        string
	CreatedAt           time.Time
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const insertRunQuery = `
	INSERT INTO recommendation_runs
		(request_id, user_text, status, stage, merge_strategy, recommendation_count, error_message, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// RecordRun appends one run to the history table.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, insertRunQuery,
		run.RequestID,
		run.UserText,
		run.Status,
		run.Stage,
		run.MergeStrategy,
		run.RecommendationCount,
		run.ErrorMessage,
		run.CreatedAt,
	)
	if err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}
	return nil
}

const listRecentQuery = `
	SELECT request_id, user_text, status, stage, merge_strategy, recommendation_count, error_message, created_at
	FROM recommendation_runs
	ORDER BY created_at DESC
	LIMIT $1`

// ListRecent returns the most recent runs, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, listRecentQuery, limit)
	if err != nil {
		return nil, errors.NewHistoryWriteFailedError(err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RequestID, &r.UserText, &r.Status, &r.Stage, &r.MergeStrategy,
			&r.RecommendationCount, &r.ErrorMessage, &r.CreatedAt); err != nil {
			return nil, errors.NewHistoryWriteFailedError(err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
