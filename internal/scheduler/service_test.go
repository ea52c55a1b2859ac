package scheduler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replayops/recfleet/internal/scheduler"
	"github.com/replayops/recfleet/internal/scheduler/domain"
	"github.com/replayops/recfleet/internal/scheduler/storage/memory"
)

const testTolerance = 30 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*scheduler.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return scheduler.NewService(store, discardLogger(), testTolerance), store
}

// checkInvariants asserts the two cross-entity invariants over the whole
// store: worker_id is set iff the status is active, and the job/worker
// references mirror each other.
func checkInvariants(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()

	jobs, err := store.JobsInStatusRange(ctx, domain.StatusPending, domain.StatusDeleted)
	require.NoError(t, err)
	workers, err := store.ListWorkers(ctx)
	require.NoError(t, err)

	byID := make(map[string]domain.Worker, len(workers))
	for _, w := range workers {
		byID[w.ID] = w
	}

	for _, job := range jobs {
		if job.Status.Active() {
			require.NotNil(t, job.WorkerID, "active job %d must hold a worker", job.ID)
			worker, ok := byID[*job.WorkerID]
			require.True(t, ok, "job %d references unknown worker %s", job.ID, *job.WorkerID)
			require.NotNil(t, worker.CurrentJobID)
			assert.Equal(t, job.ID, *worker.CurrentJobID)
		} else {
			assert.Nil(t, job.WorkerID, "job %d in status %s must be unbound", job.ID, job.Status)
		}
	}
	for _, worker := range workers {
		if worker.CurrentJobID == nil {
			continue
		}
		job, err := store.GetJob(ctx, *worker.CurrentJobID)
		require.NoError(t, err)
		require.NotNil(t, job.WorkerID)
		assert.Equal(t, worker.ID, *job.WorkerID)
	}
}

func createWorker(t *testing.T, svc *scheduler.Service, id string) domain.Worker {
	t.Helper()
	ctx := context.Background()
	_, err := svc.RegisterWorker(ctx, id)
	require.NoError(t, err)
	// A freshly registered worker is offline until its first poll.
	worker, _, err := svc.Poll(ctx, id)
	require.NoError(t, err)
	return worker
}

func TestService_CreateJob(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"kind":"replay","source":"match-42.replay"}`)
	job, err := svc.CreateJob(ctx, payload)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Nil(t, job.WorkerID)
	assert.JSONEq(t, string(payload), string(job.Payload))
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
	assert.False(t, job.Finished())
	checkInvariants(t, store)
}

func TestService_AssignLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, json.RawMessage(`{"kind":"replay"}`))
	require.NoError(t, err)
	createWorker(t, svc, "rec-1")

	assigned, err := svc.Assign(ctx, job.ID, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, assigned.Status)
	require.NotNil(t, assigned.WorkerID)
	assert.Equal(t, "rec-1", *assigned.WorkerID)

	worker, err := svc.GetWorker(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, worker.CurrentJobID)
	assert.Equal(t, job.ID, *worker.CurrentJobID)
	assert.NotZero(t, worker.LastJob)
	checkInvariants(t, store)

	// Assigning the same job again must conflict.
	createWorker(t, svc, "rec-2")
	_, err = svc.Assign(ctx, job.ID, "rec-2")
	assert.ErrorIs(t, err, domain.ErrConflict)

	// The busy worker cannot take a second job.
	other, err := svc.CreateJob(ctx, json.RawMessage(`{"kind":"post"}`))
	require.NoError(t, err)
	_, err = svc.Assign(ctx, other.ID, "rec-1")
	assert.ErrorIs(t, err, domain.ErrConflict)
	checkInvariants(t, store)
}

func TestService_Assign_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, nil)
	require.NoError(t, err)

	_, err = svc.Assign(ctx, 999, "rec-1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = svc.Assign(ctx, job.ID, "ghost")
	assert.ErrorIs(t, err, domain.ErrWorkerNotFound)
}

func TestService_ConcurrentAssign_SingleWinner(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Many jobs racing for one worker: exactly one assignment may commit.
	const n = 16
	jobIDs := make([]int64, n)
	for i := range jobIDs {
		job, err := svc.CreateJob(ctx, nil)
		require.NoError(t, err)
		jobIDs[i] = job.ID
	}
	createWorker(t, svc, "rec-1")

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Assign(ctx, jobIDs[i], "rec-1")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrConflict)
		}
	}
	assert.Equal(t, 1, wins)
	checkInvariants(t, store)
}

func TestService_ConcurrentAssign_OneJobManyWorkers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, nil)
	require.NoError(t, err)

	const n = 8
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i))
		createWorker(t, svc, ids[i])
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Assign(ctx, job.ID, ids[i])
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	checkInvariants(t, store)
}

func TestService_UpdateStatus(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, nil)
	require.NoError(t, err)
	createWorker(t, svc, "rec-1")
	_, err = svc.Assign(ctx, job.ID, "rec-1")
	require.NoError(t, err)

	recording, err := svc.UpdateStatus(ctx, job.ID, "rec-1", domain.StatusRecording, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRecording, recording.Status)
	require.NotNil(t, recording.WorkerID)
	checkInvariants(t, store)

	// Backwards transitions are refused.
	_, err = svc.UpdateStatus(ctx, job.ID, "rec-1", domain.StatusAssigned, "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Reports from a worker that does not hold the job are refused.
	createWorker(t, svc, "rec-2")
	_, err = svc.UpdateStatus(ctx, job.ID, "rec-2", domain.StatusUploading, "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Deleted is reserved for the soft-delete path.
	_, err = svc.UpdateStatus(ctx, job.ID, "rec-1", domain.StatusDeleted, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	done, err := svc.UpdateStatus(ctx, job.ID, "rec-1", domain.StatusSuccessful, "uploaded 1 clip")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessful, done.Status)
	assert.Nil(t, done.WorkerID)
	require.NotNil(t, done.Comment)
	assert.Equal(t, "uploaded 1 clip", *done.Comment)
	assert.True(t, done.Finished())

	worker, err := svc.GetWorker(ctx, "rec-1")
	require.NoError(t, err)
	assert.Nil(t, worker.CurrentJobID)
	checkInvariants(t, store)

	// Terminal jobs accept no further reports.
	_, err = svc.UpdateStatus(ctx, job.ID, "rec-1", domain.StatusFailed, "")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestService_Fail(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, nil)
	require.NoError(t, err)
	createWorker(t, svc, "rec-1")
	_, err = svc.Assign(ctx, job.ID, "rec-1")
	require.NoError(t, err)

	failed, err := svc.Fail(ctx, job.ID, "render crashed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Nil(t, failed.WorkerID)
	require.NotNil(t, failed.Comment)
	assert.Equal(t, "render crashed", *failed.Comment)

	worker, err := svc.GetWorker(ctx, "rec-1")
	require.NoError(t, err)
	assert.Nil(t, worker.CurrentJobID)
	checkInvariants(t, store)

	// Failing an already terminal job conflicts.
	_, err = svc.Fail(ctx, job.ID, "again")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestService_Reschedule(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))
	store := memory.New()
	svc := scheduler.NewService(store, logger, testTolerance)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, nil)
	require.NoError(t, err)
	createWorker(t, svc, "rec-1")
	_, err = svc.Assign(ctx, job.ID, "rec-1")
	require.NoError(t, err)
	_, err = svc.Fail(ctx, job.ID, "boom")
	require.NoError(t, err)

	buf.Reset()
	back, err := svc.Reschedule(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, back.Status)
	assert.Nil(t, back.WorkerID)
	assert.NotContains(t, buf.String(), "Rescheduling")

	// Rescheduling a non-failed job still goes through but warns.
	_, err = svc.Assign(ctx, job.ID, "rec-1")
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, job.ID, "rec-1", domain.StatusUploading, "")
	require.NoError(t, err)

	buf.Reset()
	forced, err := svc.Reschedule(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, forced.Status)
	assert.Contains(t, buf.String(), "Rescheduling a job that is not failed")

	_, err = svc.Reschedule(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestService_MarkDeleted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Deleting an assigned job clears both sides of the binding.
	job, err := svc.CreateJob(ctx, nil)
	require.NoError(t, err)
	createWorker(t, svc, "rec-1")
	_, err = svc.Assign(ctx, job.ID, "rec-1")
	require.NoError(t, err)

	deleted, err := svc.MarkDeleted(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, deleted.Status)
	assert.Nil(t, deleted.WorkerID)

	worker, err := svc.GetWorker(ctx, "rec-1")
	require.NoError(t, err)
	assert.Nil(t, worker.CurrentJobID)
	checkInvariants(t, store)

	// Deleting jumps straight to deleted from any status, terminal included.
	done, err := svc.CreateJob(ctx, nil)
	require.NoError(t, err)
	_, err = svc.Assign(ctx, done.ID, "rec-1")
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, done.ID, "rec-1", domain.StatusSuccessful, "")
	require.NoError(t, err)
	gone, err := svc.MarkDeleted(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, gone.Status)
	checkInvariants(t, store)
}

func TestService_Poll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Poll(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrWorkerNotFound)

	_, err = svc.RegisterWorker(ctx, "rec-1")
	require.NoError(t, err)

	worker, job, err := svc.Poll(ctx, "rec-1")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NotZero(t, worker.LastPoll)
	assert.True(t, svc.Online(&worker))

	created, err := svc.CreateJob(ctx, json.RawMessage(`{"kind":"replay"}`))
	require.NoError(t, err)
	_, err = svc.Assign(ctx, created.ID, "rec-1")
	require.NoError(t, err)

	_, job, err = svc.Poll(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, created.ID, job.ID)
	assert.Equal(t, domain.StatusAssigned, job.Status)
}

func TestService_RegisterWorker(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	worker, err := svc.RegisterWorker(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", worker.ID)
	assert.Nil(t, worker.CurrentJobID)
	// Not yet polled, so not yet online.
	assert.False(t, svc.Online(&worker))

	_, err = svc.RegisterWorker(ctx, "rec-1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.RegisterWorker(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestService_EndToEnd(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	logger := discardLogger()

	job, err := svc.CreateJob(ctx, json.RawMessage(`{"kind":"replay","source":"finals.replay"}`))
	require.NoError(t, err)
	createWorker(t, svc, "rec-1")

	dispatcher := scheduler.NewDispatcher(svc, logger, time.Minute)
	assigned, err := dispatcher.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, assigned)

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, got.Status)
	worker, err := svc.GetWorker(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, worker.CurrentJobID)
	assert.Equal(t, job.ID, *worker.CurrentJobID)

	_, err = svc.UpdateStatus(ctx, job.ID, "rec-1", domain.StatusUploading, "")
	require.NoError(t, err)
	done, err := svc.UpdateStatus(ctx, job.ID, "rec-1", domain.StatusSuccessful, "done")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccessful, done.Status)
	assert.True(t, done.Finished())
	worker, err = svc.GetWorker(ctx, "rec-1")
	require.NoError(t, err)
	assert.Nil(t, worker.CurrentJobID)
	checkInvariants(t, store)
}
