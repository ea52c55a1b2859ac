package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/replayops/recfleet/internal/scheduler/domain"
	"github.com/replayops/recfleet/internal/telemetry"
)

// StallTimeouts caps how long a job may sit in each active status without a
// progress report before it is reclaimed.
type StallTimeouts struct {
	Assigned  time.Duration
	Recording time.Duration
	Uploading time.Duration
}

// DefaultStallTimeouts returns the production limits: an assigned job should
// start recording quickly, while recording and uploading legitimately take
// minutes.
func DefaultStallTimeouts() StallTimeouts {
	return StallTimeouts{
		Assigned:  90 * time.Second,
		Recording: 10 * time.Minute,
		Uploading: 10 * time.Minute,
	}
}

func (t StallTimeouts) forStatus(status domain.Status) time.Duration {
	switch status {
	case domain.StatusAssigned:
		return t.Assigned
	case domain.StatusRecording:
		return t.Recording
	case domain.StatusUploading:
		return t.Uploading
	default:
		return 0
	}
}

// Monitor periodically reclaims jobs whose updated_at has gone quiet for
// longer than their status allows. It looks only at job staleness, not worker
// liveness: the job's own progress is the signal, a heartbeating worker that
// stopped reporting still loses the job.
type Monitor struct {
	svc      *Service
	logger   *slog.Logger
	interval time.Duration
	timeouts StallTimeouts
}

// NewMonitor creates a stall monitor sweeping at the given period.
func NewMonitor(svc *Service, logger *slog.Logger, interval time.Duration, timeouts StallTimeouts) *Monitor {
	return &Monitor{
		svc:      svc,
		logger:   logger,
		interval: interval,
		timeouts: timeouts,
	}
}

// Run sweeps on a fixed period until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Stall monitor started",
		slog.Duration("interval", m.interval),
		slog.Duration("assigned_timeout", m.timeouts.Assigned),
		slog.Duration("recording_timeout", m.timeouts.Recording),
		slog.Duration("uploading_timeout", m.timeouts.Uploading),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stall monitor stopped - context canceled")
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx, domain.NowMillis())
		}
	}
}

// Sweep fails every job in an active status whose updated_at is older than
// the status timeout. A failure on one job never aborts the rest of the
// sweep. Returns the number of jobs reclaimed.
func (m *Monitor) Sweep(ctx context.Context, now int64) int {
	jobs, err := m.svc.store.JobsInStatusRange(ctx, domain.StatusAssigned, domain.StatusUploading)
	if err != nil {
		m.logger.Error("Stall sweep query failed",
			slog.Any("error", err),
		)
		return 0
	}

	reclaimed := 0
	for _, job := range jobs {
		limit := m.timeouts.forStatus(job.Status)
		if limit <= 0 {
			continue
		}
		age := now - job.UpdatedAt
		if age <= limit.Milliseconds() {
			continue
		}

		m.logger.Warn("Job stalled, reclaiming",
			slog.Int64("job_id", job.ID),
			slog.String("status", job.Status.String()),
			slog.Duration("age", time.Duration(age)*time.Millisecond),
			slog.Duration("limit", limit),
		)

		if _, err := m.svc.Fail(ctx, job.ID, "stalled"); err != nil {
			// The job may have advanced or finished between scan and fail.
			m.logger.Error("Failed to reclaim stalled job",
				slog.Int64("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}
		telemetry.JobsStalled.Inc()
		reclaimed++
	}
	return reclaimed
}
