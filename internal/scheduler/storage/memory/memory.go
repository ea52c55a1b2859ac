// Package memory implements the scheduler store on in-process maps. It backs
// the core tests and the `storage: memory` development mode; semantics match
// the Postgres store, with a single mutex standing in for the transaction.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/replayops/recfleet/internal/scheduler"
	"github.com/replayops/recfleet/internal/scheduler/domain"
)

// Store keeps jobs and workers in maps guarded by one mutex.
type Store struct {
	mu      sync.Mutex
	now     func() int64
	nextID  int64
	jobs    map[int64]*domain.Job
	workers map[string]*domain.Worker
}

var _ scheduler.Store = (*Store)(nil)

// New creates an empty store using the wall clock.
func New() *Store {
	return NewWithClock(domain.NowMillis)
}

// NewWithClock creates an empty store with an injectable clock. Tests use it
// to place rows at exact points in the past.
func NewWithClock(now func() int64) *Store {
	return &Store{
		now:     now,
		nextID:  1,
		jobs:    make(map[int64]*domain.Job),
		workers: make(map[string]*domain.Worker),
	}
}

func cloneJob(j *domain.Job) domain.Job {
	out := *j
	if j.WorkerID != nil {
		w := *j.WorkerID
		out.WorkerID = &w
	}
	if j.Comment != nil {
		c := *j.Comment
		out.Comment = &c
	}
	if j.Payload != nil {
		out.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	return out
}

func cloneWorker(w *domain.Worker) domain.Worker {
	out := *w
	if w.CurrentJobID != nil {
		id := *w.CurrentJobID
		out.CurrentJobID = &id
	}
	return out
}

func (s *Store) CreateJob(_ context.Context, payload json.RawMessage) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := &domain.Job{
		ID:        s.nextID,
		Status:    domain.StatusPending,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++
	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (s *Store) GetJob(_ context.Context, id int64) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) ListJobs(_ context.Context, filter scheduler.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if job.CreatedAt > c.CreatedAt || (job.CreatedAt == c.CreatedAt && job.ID >= c.ID) {
				continue
			}
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt != out[k].CreatedAt {
			return out[i].CreatedAt > out[k].CreatedAt
		}
		return out[i].ID > out[k].ID
	})
	// One extra row past the page size lets the caller detect more results.
	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func (s *Store) PendingJobs(_ context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0)
	for _, job := range s.jobs {
		if job.Status == domain.StatusPending {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt != out[k].CreatedAt {
			return out[i].CreatedAt < out[k].CreatedAt
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

func (s *Store) JobsInStatusRange(_ context.Context, lo, hi domain.Status) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0)
	for _, job := range s.jobs {
		if job.Status >= lo && job.Status <= hi {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].UpdatedAt != out[k].UpdatedAt {
			return out[i].UpdatedAt < out[k].UpdatedAt
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

func (s *Store) AssignJob(_ context.Context, jobID int64, workerID string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	worker, ok := s.workers[workerID]
	if !ok {
		return domain.Job{}, domain.ErrWorkerNotFound
	}
	if job.Status != domain.StatusPending {
		return domain.Job{}, domain.ErrConflict
	}
	if worker.CurrentJobID != nil {
		return domain.Job{}, domain.ErrConflict
	}

	now := s.now()
	wid := workerID
	job.Status = domain.StatusAssigned
	job.WorkerID = &wid
	job.UpdatedAt = now

	jid := jobID
	worker.CurrentJobID = &jid
	worker.LastJob = now
	worker.UpdatedAt = now

	return cloneJob(job), nil
}

func (s *Store) AdvanceJob(_ context.Context, jobID int64, workerID string, status domain.Status, comment string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !status.Valid() || status == domain.StatusDeleted {
		return domain.Job{}, domain.ErrInvalidInput
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if !job.Status.Active() || !job.HeldBy(workerID) {
		return domain.Job{}, domain.ErrConflict
	}
	if status <= job.Status {
		return domain.Job{}, domain.ErrConflict
	}

	now := s.now()
	job.Status = status
	job.UpdatedAt = now
	if comment != "" {
		c := comment
		job.Comment = &c
	}
	if status.Finished() {
		job.WorkerID = nil
		if worker, ok := s.workers[workerID]; ok {
			worker.CurrentJobID = nil
			worker.UpdatedAt = now
		}
	}
	return cloneJob(job), nil
}

func (s *Store) FailJob(_ context.Context, jobID int64, comment string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if job.Finished() {
		return domain.Job{}, domain.ErrConflict
	}

	now := s.now()
	if job.WorkerID != nil {
		if worker, ok := s.workers[*job.WorkerID]; ok {
			worker.CurrentJobID = nil
			worker.UpdatedAt = now
		}
	}
	job.Status = domain.StatusFailed
	job.WorkerID = nil
	job.UpdatedAt = now
	if comment != "" {
		c := comment
		job.Comment = &c
	}
	return cloneJob(job), nil
}

func (s *Store) RescheduleJob(_ context.Context, jobID int64) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	job.Status = domain.StatusPending
	job.WorkerID = nil
	job.UpdatedAt = s.now()
	return cloneJob(job), nil
}

func (s *Store) DeleteJob(_ context.Context, jobID int64) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}

	now := s.now()
	if job.WorkerID != nil {
		if worker, ok := s.workers[*job.WorkerID]; ok {
			worker.CurrentJobID = nil
			worker.UpdatedAt = now
		}
	}
	job.Status = domain.StatusDeleted
	job.WorkerID = nil
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (s *Store) CreateWorker(_ context.Context, id string) (domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		return domain.Worker{}, domain.ErrInvalidInput
	}
	if _, exists := s.workers[id]; exists {
		return domain.Worker{}, domain.ErrConflict
	}
	now := s.now()
	worker := &domain.Worker{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.workers[id] = worker
	return cloneWorker(worker), nil
}

func (s *Store) GetWorker(_ context.Context, id string) (domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return domain.Worker{}, domain.ErrWorkerNotFound
	}
	return cloneWorker(worker), nil
}

func (s *Store) ListWorkers(_ context.Context) ([]domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Worker, 0, len(s.workers))
	for _, worker := range s.workers {
		out = append(out, cloneWorker(worker))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *Store) TouchWorkerPoll(_ context.Context, id string) (domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return domain.Worker{}, domain.ErrWorkerNotFound
	}
	now := s.now()
	worker.LastPoll = now
	worker.UpdatedAt = now
	return cloneWorker(worker), nil
}

// SetJobTimestamps rewrites a job's created_at/updated_at. Sweep and FIFO
// tests use it to place rows at exact points in the past.
func (s *Store) SetJobTimestamps(id int64, createdAt, updatedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		job.CreatedAt = createdAt
		job.UpdatedAt = updatedAt
	}
}
