// Package storage implements the scheduler store on PostgreSQL. Every
// operation that touches both a job and its worker runs both writes in one
// transaction; preconditions are re-checked on rows locked with FOR UPDATE,
// so overlapping dispatch cycles cannot double-book a worker.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/replayops/recfleet/internal/scheduler"
	"github.com/replayops/recfleet/internal/scheduler/domain"
	"github.com/replayops/recfleet/shared/postgresql"
)

const jobColumns = "id, status, worker_id, comment, payload, created_at, updated_at"
const workerColumns = "id, current_job_id, last_poll, last_job, created_at, updated_at"

// Store handles all database operations for the scheduling core.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ scheduler.Store = (*Store)(nil)

// NewStore creates a new Store instance.
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// withTx runs fn inside a transaction, committing only when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// jobForUpdate locks and returns the job row inside tx. Jobs are always
// locked before workers to keep lock ordering consistent across operations.
func jobForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("failed to lock job: %w", err)
	}
	return job, nil
}

func workerForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (domain.Worker, error) {
	var worker domain.Worker
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &worker, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Worker{}, domain.ErrWorkerNotFound
		}
		return domain.Worker{}, fmt.Errorf("failed to lock worker: %w", err)
	}
	return worker, nil
}

func (s *Store) CreateJob(ctx context.Context, payload json.RawMessage) (domain.Job, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	now := domain.NowMillis()

	var job domain.Job
	query := `
		INSERT INTO jobs (status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING ` + jobColumns
	err := s.db.GetContext(ctx, &job, query, domain.StatusPending, []byte(payload), now)
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.Int64("job_id", job.ID),
	)
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, filter scheduler.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	// Newest first with a stable tiebreak for consistent pagination.
	query += " ORDER BY created_at DESC, id DESC"

	if filter.PageSize > 0 {
		// Fetch one extra to determine if there are more results.
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) PendingJobs(ctx context.Context) ([]domain.Job, error) {
	var jobs []domain.Job
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
	`
	if err := s.db.SelectContext(ctx, &jobs, query, domain.StatusPending); err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) JobsInStatusRange(ctx context.Context, lo, hi domain.Status) ([]domain.Job, error) {
	names := make([]string, 0, int(hi-lo)+1)
	for st := lo; st <= hi; st++ {
		names = append(names, st.String())
	}
	query, args, err := sqlx.In(`
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status IN (?)
		ORDER BY updated_at ASC, id ASC
	`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to build status range query: %w", err)
	}

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs in status range: %w", err)
	}
	return jobs, nil
}

func (s *Store) AssignJob(ctx context.Context, jobID int64, workerID string) (domain.Job, error) {
	var assigned domain.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		job, err := jobForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		worker, err := workerForUpdate(ctx, tx, workerID)
		if err != nil {
			return err
		}
		// Re-validate under the lock: a concurrent cycle may have taken
		// either side since the dispatcher's scan.
		if job.Status != domain.StatusPending {
			return domain.ErrConflict
		}
		if worker.CurrentJobID != nil {
			return domain.ErrConflict
		}

		now := domain.NowMillis()
		query := `UPDATE jobs SET status = $1, worker_id = $2, updated_at = $3 WHERE id = $4 RETURNING ` + jobColumns
		if err := tx.GetContext(ctx, &assigned, query, domain.StatusAssigned, workerID, now, jobID); err != nil {
			return fmt.Errorf("failed to assign job: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE workers SET current_job_id = $1, last_job = $2, updated_at = $2 WHERE id = $3`,
			jobID, now, workerID,
		)
		if err != nil {
			return fmt.Errorf("failed to bind worker: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}

	s.logger.Info("Job assigned",
		slog.Int64("job_id", jobID),
		slog.String("worker_id", workerID),
	)
	return assigned, nil
}

func (s *Store) AdvanceJob(ctx context.Context, jobID int64, workerID string, status domain.Status, comment string) (domain.Job, error) {
	if !status.Valid() || status == domain.StatusDeleted {
		return domain.Job{}, domain.ErrInvalidInput
	}

	var advanced domain.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		job, err := jobForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !job.Status.Active() || !job.HeldBy(workerID) {
			return domain.ErrConflict
		}
		if status <= job.Status {
			return domain.ErrConflict
		}

		now := domain.NowMillis()
		newComment := job.Comment
		if comment != "" {
			newComment = &comment
		}

		if status.Finished() {
			query := `UPDATE jobs SET status = $1, worker_id = NULL, comment = $2, updated_at = $3 WHERE id = $4 RETURNING ` + jobColumns
			if err := tx.GetContext(ctx, &advanced, query, status, newComment, now, jobID); err != nil {
				return fmt.Errorf("failed to finish job: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE workers SET current_job_id = NULL, updated_at = $1 WHERE id = $2`,
				now, workerID,
			)
			if err != nil {
				return fmt.Errorf("failed to release worker: %w", err)
			}
			return nil
		}

		query := `UPDATE jobs SET status = $1, comment = $2, updated_at = $3 WHERE id = $4 RETURNING ` + jobColumns
		if err := tx.GetContext(ctx, &advanced, query, status, newComment, now, jobID); err != nil {
			return fmt.Errorf("failed to advance job: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}

	s.logger.Info("Job status advanced",
		slog.Int64("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("status", status.String()),
	)
	return advanced, nil
}

func (s *Store) FailJob(ctx context.Context, jobID int64, comment string) (domain.Job, error) {
	var failed domain.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		job, err := jobForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Finished() {
			return domain.ErrConflict
		}

		now := domain.NowMillis()
		newComment := job.Comment
		if comment != "" {
			newComment = &comment
		}

		query := `UPDATE jobs SET status = $1, worker_id = NULL, comment = $2, updated_at = $3 WHERE id = $4 RETURNING ` + jobColumns
		if err := tx.GetContext(ctx, &failed, query, domain.StatusFailed, newComment, now, jobID); err != nil {
			return fmt.Errorf("failed to fail job: %w", err)
		}
		if job.WorkerID != nil {
			_, err = tx.ExecContext(ctx,
				`UPDATE workers SET current_job_id = NULL, updated_at = $1 WHERE id = $2`,
				now, *job.WorkerID,
			)
			if err != nil {
				return fmt.Errorf("failed to release worker: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}

	s.logger.Warn("Job failed",
		slog.Int64("job_id", jobID),
		slog.String("comment", comment),
	)
	return failed, nil
}

func (s *Store) RescheduleJob(ctx context.Context, jobID int64) (domain.Job, error) {
	now := domain.NowMillis()

	var job domain.Job
	query := `UPDATE jobs SET status = $1, worker_id = NULL, updated_at = $2 WHERE id = $3 RETURNING ` + jobColumns
	err := s.db.GetContext(ctx, &job, query, domain.StatusPending, now, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("failed to reschedule job: %w", err)
	}

	s.logger.Info("Job rescheduled",
		slog.Int64("job_id", jobID),
	)
	return job, nil
}

func (s *Store) DeleteJob(ctx context.Context, jobID int64) (domain.Job, error) {
	var deleted domain.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		job, err := jobForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}

		now := domain.NowMillis()
		query := `UPDATE jobs SET status = $1, worker_id = NULL, updated_at = $2 WHERE id = $3 RETURNING ` + jobColumns
		if err := tx.GetContext(ctx, &deleted, query, domain.StatusDeleted, now, jobID); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		if job.WorkerID != nil {
			_, err = tx.ExecContext(ctx,
				`UPDATE workers SET current_job_id = NULL, updated_at = $1 WHERE id = $2`,
				now, *job.WorkerID,
			)
			if err != nil {
				return fmt.Errorf("failed to release worker: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}

	s.logger.Info("Job deleted",
		slog.Int64("job_id", jobID),
	)
	return deleted, nil
}

func (s *Store) CreateWorker(ctx context.Context, id string) (domain.Worker, error) {
	if id == "" {
		return domain.Worker{}, fmt.Errorf("%w: worker id is required", domain.ErrInvalidInput)
	}
	now := domain.NowMillis()

	var worker domain.Worker
	query := `
		INSERT INTO workers (id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + workerColumns
	err := s.db.GetContext(ctx, &worker, query, id, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Worker{}, domain.ErrConflict
		}
		return domain.Worker{}, fmt.Errorf("failed to create worker: %w", err)
	}

	s.logger.Info("Worker registered",
		slog.String("worker_id", id),
	)
	return worker, nil
}

func (s *Store) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	var worker domain.Worker
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`
	if err := s.db.GetContext(ctx, &worker, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Worker{}, domain.ErrWorkerNotFound
		}
		return domain.Worker{}, fmt.Errorf("failed to get worker: %w", err)
	}
	return worker, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	var workers []domain.Worker
	query := `SELECT ` + workerColumns + ` FROM workers ORDER BY id ASC`
	if err := s.db.SelectContext(ctx, &workers, query); err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	return workers, nil
}

func (s *Store) TouchWorkerPoll(ctx context.Context, id string) (domain.Worker, error) {
	now := domain.NowMillis()

	var worker domain.Worker
	query := `UPDATE workers SET last_poll = $1, updated_at = $1 WHERE id = $2 RETURNING ` + workerColumns
	err := s.db.GetContext(ctx, &worker, query, now, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Worker{}, domain.ErrWorkerNotFound
		}
		return domain.Worker{}, fmt.Errorf("failed to record worker poll: %w", err)
	}
	return worker, nil
}
