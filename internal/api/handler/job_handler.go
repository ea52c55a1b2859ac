package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/replayops/recfleet/internal/api/dto"
	"github.com/replayops/recfleet/internal/scheduler"
	"github.com/replayops/recfleet/internal/scheduler/domain"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	service    *scheduler.Service
	dispatcher *scheduler.Dispatcher
	bus        KickPublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		service:    deps.Service,
		dispatcher: deps.Dispatcher,
		bus:        deps.Bus,
	}
}

// kick nudges the dispatcher after a mutation that may have made a pairing
// possible. Bus failures are logged and swallowed: dispatch is periodic anyway.
func (h *JobHandler) kick(c *gin.Context, reason string) {
	if h.bus != nil {
		if err := h.bus.PublishKick(c.Request.Context(), reason); err != nil {
			h.logger.Warn("Failed to publish dispatch kick",
				slog.String("reason", reason),
				slog.Any("error", err),
			)
		}
	}
	if h.dispatcher != nil {
		h.dispatcher.Kick()
	}
}

// CreateJob handles POST /api/v1/jobs
// Creates a new pending recording job from a collaborator payload
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	raw, err := req.Payload.Encode()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	job, err := h.service.CreateJob(c.Request.Context(), raw)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job created",
		slog.Int64("job_id", job.ID),
		slog.String("kind", string(req.Payload.Kind)),
	)
	h.kick(c, "job-created")

	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional status filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	var status *domain.Status
	if req.Status != "" {
		s, err := domain.ParseStatus(req.Status)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		status = &s
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := scheduler.JobFilter{
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.NewJobDTO(job)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&scheduler.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			ID:        lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// RescheduleJob handles POST /api/v1/jobs/:job_id/reschedule
// Forces a job back into the pending pool
func (h *JobHandler) RescheduleJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.service.Reschedule(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job rescheduled", slog.Int64("job_id", job.ID))
	h.kick(c, "job-rescheduled")

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Soft-deletes a job from any status, releasing its worker if bound
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.service.MarkDeleted(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job deleted", slog.Int64("job_id", job.ID))
	// A released worker may free a slot for a pending job.
	h.kick(c, "job-deleted")

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ProcessQueue handles POST /api/v1/queue/process
// Runs one dispatch cycle synchronously and reports how many jobs were paired
func (h *JobHandler) ProcessQueue(c *gin.Context) {
	assigned, err := h.dispatcher.ProcessQueue(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ProcessQueueResponse{Assigned: assigned})
}
