package domain

import "time"

// Worker is a remote recorder identified by a stable id. CurrentJobID mirrors
// the bound job's WorkerID; the two references are updated together inside
// one storage transaction or not at all.
type Worker struct {
	ID           string `db:"id"`
	CurrentJobID *int64 `db:"current_job_id"`
	LastPoll     int64  `db:"last_poll"`
	LastJob      int64  `db:"last_job"`
	CreatedAt    int64  `db:"created_at"`
	UpdatedAt    int64  `db:"updated_at"`
}

// Idle reports whether the worker has no job bound to it.
func (w *Worker) Idle() bool {
	return w.CurrentJobID == nil
}

// Online reports whether the worker's last poll falls within the heartbeat
// tolerance. Liveness is derived on every query, never persisted, so callers
// always see the current state.
func (w *Worker) Online(now int64, tolerance time.Duration) bool {
	return now-w.LastPoll <= tolerance.Milliseconds()
}
