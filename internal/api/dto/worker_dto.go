package dto

type RegisterWorkerRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
}

type WorkerDTO struct {
	WorkerID     string `json:"worker_id"`
	Online       bool   `json:"online"`
	CurrentJobID *int64 `json:"current_job_id,omitempty"`
	LastPoll     int64  `json:"last_poll"`
	LastJob      int64  `json:"last_job"`
	CreatedAt    int64  `json:"created_at"`
}

type ListWorkersResponse struct {
	Workers []WorkerDTO `json:"workers"`
}

// PollResponse carries the heartbeat result back to a recorder agent. Job is
// nil when the worker has nothing assigned.
type PollResponse struct {
	Worker WorkerDTO `json:"worker"`
	Job    *JobDTO   `json:"job,omitempty"`
}

type ReportStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	Comment string `json:"comment"`
}

type ProcessQueueResponse struct {
	Assigned int `json:"assigned"`
}
