package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/replayops/recfleet/internal/acquire"
	"github.com/replayops/recfleet/internal/api/dto"
	"github.com/replayops/recfleet/internal/scheduler/domain"
)

// Agent is the recorder's main loop: poll, execute, report. One agent runs
// one job at a time; the coordinator never hands out a second job while the
// first is active.
type Agent struct {
	client       *Client
	uploader     Uploader
	renderer     Renderer
	logger       *slog.Logger
	workerID     string
	pollInterval time.Duration
}

// AgentConfig holds agent dependencies and settings
type AgentConfig struct {
	Client       *Client
	Uploader     Uploader
	Renderer     Renderer
	Logger       *slog.Logger
	WorkerID     string
	PollInterval time.Duration
}

// NewAgent creates a recorder agent
func NewAgent(cfg *AgentConfig) *Agent {
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = NewManifestRenderer()
	}
	return &Agent{
		client:       cfg.Client,
		uploader:     cfg.Uploader,
		renderer:     renderer,
		logger:       cfg.Logger,
		workerID:     cfg.WorkerID,
		pollInterval: cfg.PollInterval,
	}
}

// Run polls until the context is canceled. Poll failures are logged and
// retried on the next tick; the coordinator treats a silent worker as
// offline, nothing else breaks.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	a.logger.Info("Recorder agent started",
		slog.String("worker_id", a.workerID),
		slog.Duration("poll_interval", a.pollInterval),
	)

	for {
		if err := a.Step(ctx); err != nil {
			a.logger.Error("Poll cycle failed",
				slog.String("worker_id", a.workerID),
				slog.Any("error", err),
			)
		}

		select {
		case <-ctx.Done():
			a.logger.Info("Recorder agent stopped - context canceled",
				slog.String("worker_id", a.workerID),
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step performs one poll and, when a job is waiting, runs it to completion.
func (a *Agent) Step(ctx context.Context) error {
	resp, err := a.client.Poll(ctx)
	if err != nil {
		return err
	}
	if resp.Job == nil {
		return nil
	}

	job := *resp.Job
	switch job.Status {
	case domain.StatusAssigned.String():
		a.execute(ctx, job)
	case domain.StatusRecording.String(), domain.StatusUploading.String():
		// We crashed mid-job: the partial capture is gone, so surrender the
		// job instead of resuming a stage we cannot reproduce.
		a.logger.Warn("Found job mid-stage after restart, failing it",
			slog.Int64("job_id", job.JobID),
			slog.String("status", job.Status),
		)
		a.reportFailure(ctx, job.JobID, "stage interrupted by agent restart")
	default:
		a.logger.Warn("Polled job in unexpected status",
			slog.Int64("job_id", job.JobID),
			slog.String("status", job.Status),
		)
	}
	return nil
}

// execute drives one job through recording, uploading, and successful. Any
// stage error fails the job with a comment so operators can reschedule it.
func (a *Agent) execute(ctx context.Context, job dto.JobDTO) {
	a.logger.Info("Starting job",
		slog.Int64("job_id", job.JobID),
		slog.String("worker_id", a.workerID),
	)

	payload, err := acquire.Parse(job.Payload)
	if err != nil {
		a.reportFailure(ctx, job.JobID, fmt.Sprintf("bad payload: %v", err))
		return
	}

	if _, err := a.client.ReportStatus(ctx, job.JobID, domain.StatusRecording, ""); err != nil {
		a.logger.Error("Failed to report recording",
			slog.Int64("job_id", job.JobID),
			slog.Any("error", err),
		)
		return
	}

	body, contentType, err := a.renderer.Render(ctx, job, payload)
	if err != nil {
		a.reportFailure(ctx, job.JobID, fmt.Sprintf("render failed: %v", err))
		return
	}

	if _, err := a.client.ReportStatus(ctx, job.JobID, domain.StatusUploading, ""); err != nil {
		a.logger.Error("Failed to report uploading",
			slog.Int64("job_id", job.JobID),
			slog.Any("error", err),
		)
		return
	}

	key := fmt.Sprintf("job-%d/capture.json", job.JobID)
	location, err := a.uploader.Upload(ctx, key, body, contentType)
	if err != nil {
		a.reportFailure(ctx, job.JobID, fmt.Sprintf("upload failed: %v", err))
		return
	}

	if _, err := a.client.ReportStatus(ctx, job.JobID, domain.StatusSuccessful, location); err != nil {
		a.logger.Error("Failed to report success",
			slog.Int64("job_id", job.JobID),
			slog.Any("error", err),
		)
		return
	}

	a.logger.Info("Job complete",
		slog.Int64("job_id", job.JobID),
		slog.String("location", location),
	)
}

// reportFailure is best effort: if the coordinator already reclaimed the job
// the report conflicts, which is fine.
func (a *Agent) reportFailure(ctx context.Context, jobID int64, comment string) {
	if _, err := a.client.ReportStatus(ctx, jobID, domain.StatusFailed, comment); err != nil {
		a.logger.Error("Failed to report job failure",
			slog.Int64("job_id", jobID),
			slog.String("comment", comment),
			slog.Any("error", err),
		)
	}
}
