// Package scheduler is the coordination core: the job state machine, the
// worker registry, the dispatcher, and the stall monitor. Everything else in
// the repository either produces a job (acquisition, control surface) or
// consumes job/worker state (recorder agents, inspection endpoints).
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/replayops/recfleet/internal/scheduler/domain"
	"github.com/replayops/recfleet/internal/telemetry"
)

// Service exposes the job mutation API and the worker registry. All state
// lives in the store; the service adds validation, liveness derivation, and
// logging on top of the store's transactional operations.
type Service struct {
	store     Store
	logger    *slog.Logger
	tolerance time.Duration
}

// NewService creates the scheduling service. tolerance is the heartbeat
// window used by the liveness predicate; it must be a small multiple of the
// recorder poll interval.
func NewService(store Store, logger *slog.Logger, tolerance time.Duration) *Service {
	return &Service{
		store:     store,
		logger:    logger,
		tolerance: tolerance,
	}
}

// CreateJob inserts a new pending job carrying the collaborator's payload.
func (s *Service) CreateJob(ctx context.Context, payload json.RawMessage) (domain.Job, error) {
	job, err := s.store.CreateJob(ctx, payload)
	if err != nil {
		return domain.Job{}, err
	}
	telemetry.JobsCreated.Inc()
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, filter)
}

// Assign binds a pending job to an idle worker. The store re-validates both
// preconditions inside the transaction, so a stale pairing surfaces as
// domain.ErrConflict rather than a double booking.
func (s *Service) Assign(ctx context.Context, jobID int64, workerID string) (domain.Job, error) {
	job, err := s.store.AssignJob(ctx, jobID, workerID)
	if err != nil {
		return domain.Job{}, err
	}
	telemetry.JobsAssigned.Inc()
	return job, nil
}

// UpdateStatus records a worker's status report, moving the job strictly
// forward. Finished statuses release the worker.
func (s *Service) UpdateStatus(ctx context.Context, jobID int64, workerID string, status domain.Status, comment string) (domain.Job, error) {
	job, err := s.store.AdvanceJob(ctx, jobID, workerID, status, comment)
	if err != nil {
		return domain.Job{}, err
	}
	switch status {
	case domain.StatusSuccessful:
		telemetry.JobsSucceeded.Inc()
	case domain.StatusFailed:
		telemetry.JobsFailed.Inc()
	}
	return job, nil
}

// Fail forces a non-terminal job to failed and clears its worker binding.
func (s *Service) Fail(ctx context.Context, jobID int64, comment string) (domain.Job, error) {
	job, err := s.store.FailJob(ctx, jobID, comment)
	if err != nil {
		return domain.Job{}, err
	}
	telemetry.JobsFailed.Inc()
	return job, nil
}

// Reschedule puts a job back into the pending pool. The operation never
// refuses: rescheduling a non-failed job is suspicious but allowed, so an
// operator can recover without fighting the state machine.
func (s *Service) Reschedule(ctx context.Context, jobID int64) (domain.Job, error) {
	current, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if current.Status != domain.StatusFailed {
		s.logger.Warn("Rescheduling a job that is not failed",
			slog.Int64("job_id", jobID),
			slog.String("status", current.Status.String()),
		)
	}
	return s.store.RescheduleJob(ctx, jobID)
}

// MarkDeleted soft-deletes a job from any status, releasing its worker.
func (s *Service) MarkDeleted(ctx context.Context, jobID int64) (domain.Job, error) {
	return s.store.DeleteJob(ctx, jobID)
}

// RegisterWorker adds a worker identity. Registration is an operator action;
// the core never deletes workers.
func (s *Service) RegisterWorker(ctx context.Context, id string) (domain.Worker, error) {
	return s.store.CreateWorker(ctx, id)
}

func (s *Service) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	return s.store.GetWorker(ctx, id)
}

func (s *Service) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	return s.store.ListWorkers(ctx)
}

// Online derives the worker's liveness from its last poll. Never cached:
// dispatch and inspection must both see the true current state.
func (s *Service) Online(worker *domain.Worker) bool {
	return worker.Online(domain.NowMillis(), s.tolerance)
}

// Poll is the worker-facing heartbeat: refreshes last_poll and returns the
// worker's current job when one is assigned, or nil when there is no work.
func (s *Service) Poll(ctx context.Context, workerID string) (domain.Worker, *domain.Job, error) {
	worker, err := s.store.TouchWorkerPoll(ctx, workerID)
	if err != nil {
		return domain.Worker{}, nil, err
	}
	if worker.CurrentJobID == nil {
		return worker, nil, nil
	}
	job, err := s.store.GetJob(ctx, *worker.CurrentJobID)
	if err != nil {
		return domain.Worker{}, nil, err
	}
	return worker, &job, nil
}
