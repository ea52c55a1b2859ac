package domain

import (
	"encoding/json"
	"time"
)

// Job is a unit of recording/upload work tracked through the status
// lifecycle. Payload is produced by an acquisition collaborator and is
// opaque to the scheduler; it is never mutated after creation.
//
// WorkerID is set exactly while the job is in an active status
// (assigned, recording, uploading). Timestamps are millisecond epoch;
// UpdatedAt is refreshed on every mutation and drives stall detection.
type Job struct {
	ID        int64           `db:"id"`
	Status    Status          `db:"status"`
	WorkerID  *string         `db:"worker_id"`
	Comment   *string         `db:"comment"`
	Payload   json.RawMessage `db:"payload"`
	CreatedAt int64           `db:"created_at"`
	UpdatedAt int64           `db:"updated_at"`
}

// Finished reports whether the job reached a terminal status.
func (j *Job) Finished() bool {
	return j.Status.Finished()
}

// HeldBy reports whether the job is currently bound to the given worker.
func (j *Job) HeldBy(workerID string) bool {
	return j.WorkerID != nil && *j.WorkerID == workerID
}

// NowMillis is the single clock used for persisted timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
