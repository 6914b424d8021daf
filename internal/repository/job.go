package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

const jobColumns = `id, folder_path, folder_name, status, listing_id, offer_id, price,
	error_type, error_message, attempts, max_attempts, created_at, started_at, completed_at, timing_json`

// JobRepository is the durable job store. Every call writes straight through to the database.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Add inserts a new job. It returns ErrConflict when the id is already taken.
func (r *JobRepository) Add(ctx context.Context, job *domain.Job) error {
	if !job.Status.Valid() {
		return fmt.Errorf("add job %s: %w: status %q", job.ID, domain.ErrInvalidInput, job.Status)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add job %s: begin: %w", job.ID, err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM jobs WHERE id = ?`), job.ID)
	if err != nil {
		return fmt.Errorf("add job %s: %w", job.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("add job %s: duplicate id: %w", job.ID, domain.ErrConflict)
	}

	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (:id, :folder_path, :folder_name, :status, :listing_id, :offer_id, :price,
		         :error_type, :error_message, :attempts, :max_attempts, :created_at, :started_at,
		         :completed_at, :timing_json)`, job)
	if err != nil {
		return fmt.Errorf("add job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add job %s: commit: %w", job.ID, err)
	}
	return nil
}

// Update replaces the mutable fields of a job. It returns ErrNotFound if the job is absent.
func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	if !job.Status.Valid() {
		return fmt.Errorf("update job %s: %w: status %q", job.ID, domain.ErrInvalidInput, job.Status)
	}

	res, err := r.db.NamedExecContext(ctx,
		`UPDATE jobs SET
			status = :status,
			listing_id = :listing_id,
			offer_id = :offer_id,
			price = :price,
			error_type = :error_type,
			error_message = :error_message,
			attempts = :attempts,
			max_attempts = :max_attempts,
			started_at = :started_at,
			completed_at = :completed_at,
			timing_json = :timing_json
		 WHERE id = :id`, job)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: rows affected: %w", job.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, domain.ErrNotFound)
	}
	return nil
}

// Remove deletes a job. Status eligibility is the caller's decision.
func (r *JobRepository) Remove(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM jobs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("remove job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove job %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("remove job %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// RemoveByStatus deletes every job in one of the given statuses and returns the count.
func (r *JobRepository) RemoveByStatus(ctx context.Context, statuses ...domain.JobStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM jobs WHERE status IN (?)`, statuses)
	if err != nil {
		return 0, fmt.Errorf("remove jobs by status: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("remove jobs by status: %w", err)
	}
	return res.RowsAffected()
}

// Get retrieves one job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.GetContext(ctx, &job,
		r.db.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// LoadAll returns every job ordered by creation time.
// Jobs left in processing by a crashed worker are reset to pending first.
func (r *JobRepository) LoadAll(ctx context.Context) ([]domain.Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load jobs: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		tx.Rebind(`UPDATE jobs SET status = ? WHERE status = ?`),
		domain.JobStatusPending, domain.JobStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("load jobs: reconcile processing: %w", err)
	}

	var jobs []domain.Job
	err = tx.SelectContext(ctx, &jobs, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("load jobs: commit: %w", err)
	}

	for i := range jobs {
		if jobs[i].Timing == nil {
			jobs[i].Timing = domain.Timing{}
		}
	}
	return jobs, nil
}
