package dto

import (
	"encoding/json"

	"github.com/replayops/recfleet/internal/acquire"
	"github.com/replayops/recfleet/internal/scheduler/domain"
)

type CreateJobRequest struct {
	Payload acquire.Payload `json:"payload" binding:"required"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID     int64           `json:"job_id"`
	Status    string          `json:"status"`
	WorkerID  *string         `json:"worker_id,omitempty"`
	Comment   *string         `json:"comment,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// NewJobDTO converts a domain job for the wire.
func NewJobDTO(job domain.Job) JobDTO {
	return JobDTO{
		JobID:     job.ID,
		Status:    job.Status.String(),
		WorkerID:  job.WorkerID,
		Comment:   job.Comment,
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}
