package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"jobboard/internal/api/model"
	"jobboard/shared/postgresql"
)

// ErrJobNotFound is returned when no job record exists for (job_id, site)
var ErrJobNotFound = errors.New("job not found")

// JobStore persists job records keyed by (job_id, site)
type JobStore struct {
	db *sqlx.DB
}

// NewJobStore creates a JobStore backed by the given PostgreSQL client
func NewJobStore(pg *postgresql.Client) *JobStore {
	return &JobStore{
		db: pg.GetDB(),
	}
}

// Upsert creates or replaces the job descriptor document for (job_id, site)
func (s *JobStore) Upsert(ctx context.Context, jobID, site string, data []byte) error {
	query := `
		INSERT INTO jobs (job_id, site, data, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (job_id, site)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`

	_, err := s.db.ExecContext(ctx, query, jobID, site, data)
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}

	return nil
}

// Get fetches the job record for (job_id, site)
func (s *JobStore) Get(ctx context.Context, jobID, site string) (*model.Job, error) {
	var job model.Job
	query := `
		SELECT
			id, job_id, site, queue, allocated_by, allocated_at,
			data, created_at, updated_at
		FROM jobs
		WHERE job_id = $1 AND site = $2
	`

	err := s.db.GetContext(ctx, &job, query, jobID, site)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// Delete removes the job record for (job_id, site). Deleting a job that
// does not exist is not an error.
func (s *JobStore) Delete(ctx context.Context, jobID, site string) error {
	query := `DELETE FROM jobs WHERE job_id = $1 AND site = $2`

	_, err := s.db.ExecContext(ctx, query, jobID, site)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// Allocate records a queue assignment on the job record. Returns false
// when no record exists for (job_id, site), which makes the allocation a
// no-op for the caller.
func (s *JobStore) Allocate(ctx context.Context, jobID, site, queue, from string) (bool, error) {
	query := `
		UPDATE jobs
		SET queue = $3, allocated_by = $4, allocated_at = now(), updated_at = now()
		WHERE job_id = $1 AND site = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, site, queue, from)
	if err != nil {
		return false, fmt.Errorf("failed to allocate job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read allocation result: %w", err)
	}

	return rows > 0, nil
}
