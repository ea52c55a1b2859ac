package scheduler

import (
	"context"
	"encoding/json"

	"github.com/replayops/recfleet/internal/scheduler/domain"
)

// JobCursor is an opaque pagination position for ListJobs (newest first).
type JobCursor struct {
	CreatedAt int64
	ID        int64
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status   *domain.Status
	PageSize int
	Cursor   *JobCursor
}

// Store is the persistence boundary of the scheduling core. The relational
// store is the single source of truth: there is no in-process cache, and
// transactions are the only synchronization primitive.
//
// The transactional operations (AssignJob, AdvanceJob, FailJob, DeleteJob)
// write the job row and, when a worker is bound, the worker row atomically.
// Each re-validates its preconditions inside the transaction and returns
// domain.ErrConflict when they no longer hold, leaving both rows unchanged.
type Store interface {
	// CreateJob inserts a new pending job with the given opaque payload.
	CreateJob(ctx context.Context, payload json.RawMessage) (domain.Job, error)
	GetJob(ctx context.Context, id int64) (domain.Job, error)
	// ListJobs returns jobs newest first, honoring filter and cursor.
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	// PendingJobs returns all pending jobs oldest first (dispatch FIFO order).
	PendingJobs(ctx context.Context) ([]domain.Job, error)
	// JobsInStatusRange returns jobs whose status ordinal lies in [lo, hi],
	// oldest update first. The stall monitor sweeps [assigned, uploading].
	JobsInStatusRange(ctx context.Context, lo, hi domain.Status) ([]domain.Job, error)

	// AssignJob binds a pending job to an idle worker. Preconditions checked
	// in-transaction: job still pending, worker still has no current job.
	AssignJob(ctx context.Context, jobID int64, workerID string) (domain.Job, error)
	// AdvanceJob moves an active job held by workerID to a strictly later
	// status. A finished target status clears the worker binding on both rows.
	AdvanceJob(ctx context.Context, jobID int64, workerID string, status domain.Status, comment string) (domain.Job, error)
	// FailJob forces a non-terminal job to failed, clearing any worker binding.
	FailJob(ctx context.Context, jobID int64, comment string) (domain.Job, error)
	// RescheduleJob forces the job back to pending with no worker. Single-row
	// update, no worker coupling: a failed job is unassigned by invariant.
	RescheduleJob(ctx context.Context, jobID int64) (domain.Job, error)
	// DeleteJob soft-deletes from any status, clearing the bound worker's
	// current job when present.
	DeleteJob(ctx context.Context, jobID int64) (domain.Job, error)

	CreateWorker(ctx context.Context, id string) (domain.Worker, error)
	GetWorker(ctx context.Context, id string) (domain.Worker, error)
	ListWorkers(ctx context.Context) ([]domain.Worker, error)
	// TouchWorkerPoll refreshes the worker's last_poll heartbeat.
	TouchWorkerPoll(ctx context.Context, id string) (domain.Worker, error)
}
