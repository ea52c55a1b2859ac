package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/replayops/recfleet/internal/api/dto"
	"github.com/replayops/recfleet/internal/scheduler"
	"github.com/replayops/recfleet/internal/scheduler/domain"
)

// WorkerHandler handles worker registry and agent-facing HTTP requests
type WorkerHandler struct {
	logger     *slog.Logger
	service    *scheduler.Service
	dispatcher *scheduler.Dispatcher
}

// NewWorkerHandler creates a new WorkerHandler instance
func NewWorkerHandler(deps *Dependencies) *WorkerHandler {
	return &WorkerHandler{
		logger:     deps.Logger,
		service:    deps.Service,
		dispatcher: deps.Dispatcher,
	}
}

func (h *WorkerHandler) workerDTO(worker domain.Worker) dto.WorkerDTO {
	return dto.WorkerDTO{
		WorkerID:     worker.ID,
		Online:       h.service.Online(&worker),
		CurrentJobID: worker.CurrentJobID,
		LastPoll:     worker.LastPoll,
		LastJob:      worker.LastJob,
		CreatedAt:    worker.CreatedAt,
	}
}

// RegisterWorker handles POST /api/v1/workers
// Adds a worker identity to the registry (operator action)
func (h *WorkerHandler) RegisterWorker(c *gin.Context) {
	var req dto.RegisterWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	worker, err := h.service.RegisterWorker(c.Request.Context(), req.WorkerID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Worker registered", slog.String("worker_id", worker.ID))

	c.JSON(http.StatusCreated, h.workerDTO(worker))
}

// ListWorkers handles GET /api/v1/workers
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	workers, err := h.service.ListWorkers(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.ListWorkersResponse{Workers: make([]dto.WorkerDTO, len(workers))}
	for i, worker := range workers {
		resp.Workers[i] = h.workerDTO(worker)
	}

	c.JSON(http.StatusOK, resp)
}

// GetWorker handles GET /api/v1/workers/:worker_id
func (h *WorkerHandler) GetWorker(c *gin.Context) {
	worker, err := h.service.GetWorker(c.Request.Context(), c.Param("worker_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, h.workerDTO(worker))
}

// Poll handles POST /api/v1/workers/:worker_id/poll
// The recorder heartbeat: refreshes liveness and returns the current
// assignment, if any
func (h *WorkerHandler) Poll(c *gin.Context) {
	worker, job, err := h.service.Poll(c.Request.Context(), c.Param("worker_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.PollResponse{Worker: h.workerDTO(worker)}
	if job != nil {
		j := dto.NewJobDTO(*job)
		resp.Job = &j
	}

	c.JSON(http.StatusOK, resp)
}

// ReportStatus handles POST /api/v1/workers/:worker_id/jobs/:job_id/status
// Records a worker's progress report, moving the job strictly forward
func (h *WorkerHandler) ReportStatus(c *gin.Context) {
	workerID := c.Param("worker_id")
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	var req dto.ReportStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	job, err := h.service.UpdateStatus(c.Request.Context(), jobID, workerID, status, req.Comment)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job status reported",
		slog.Int64("job_id", job.ID),
		slog.String("worker_id", workerID),
		slog.String("status", job.Status.String()),
	)

	// A finished job releases its worker; let the dispatcher reuse it.
	if job.Finished() && h.dispatcher != nil {
		h.dispatcher.Kick()
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}
