package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/replayops/recfleet/internal/scheduler/domain"
	"github.com/replayops/recfleet/internal/telemetry"
)

// Dispatcher matches pending jobs to online, idle workers. All dispatch
// decisions run on a single goroutine, so two cycles never race in-process;
// the store's transactional re-check covers dispatchers in other processes.
type Dispatcher struct {
	svc      *Service
	logger   *slog.Logger
	interval time.Duration
	kick     chan struct{}
}

// NewDispatcher creates a dispatcher. interval is the periodic fallback tick
// that covers workers coming online without an explicit signal.
func NewDispatcher(svc *Service, logger *slog.Logger, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		svc:      svc,
		logger:   logger,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a dispatch cycle. The channel holds one pending kick; a cycle
// already scheduled absorbs further signals.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run serializes dispatch cycles until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("Dispatcher started",
		slog.Duration("interval", d.interval),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped - context canceled")
			return ctx.Err()
		case <-d.kick:
		case <-ticker.C:
		}

		if _, err := d.ProcessQueue(ctx); err != nil {
			d.logger.Error("Dispatch cycle failed",
				slog.Any("error", err),
			)
		}
	}
}

// ProcessQueue runs one dispatch cycle and returns the number of assignments
// committed. Pending jobs are paired to idle online workers oldest-job-first;
// a pairing whose preconditions evaporated is skipped, never fatal — the job
// stays pending for the next cycle.
func (d *Dispatcher) ProcessQueue(ctx context.Context) (int, error) {
	telemetry.DispatchCycles.Inc()

	pending, err := d.svc.store.PendingJobs(ctx)
	if err != nil {
		return 0, err
	}
	telemetry.PendingGauge.Set(float64(len(pending)))

	workers, err := d.svc.ListWorkers(ctx)
	if err != nil {
		return 0, err
	}

	idle := make([]domain.Worker, 0, len(workers))
	online := 0
	for _, w := range workers {
		if !d.svc.Online(&w) {
			continue
		}
		online++
		if w.Idle() {
			idle = append(idle, w)
		}
	}
	telemetry.OnlineWorkers.Set(float64(online))

	if len(pending) == 0 || len(idle) == 0 {
		return 0, nil
	}

	assigned := 0
	n := len(pending)
	if len(idle) < n {
		n = len(idle)
	}
	for i := 0; i < n; i++ {
		job := pending[i]
		worker := idle[i]

		if _, err := d.svc.Assign(ctx, job.ID, worker.ID); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				// Someone took the job or the worker since our scan.
				telemetry.AssignConflicts.Inc()
				d.logger.Debug("Assignment skipped - state changed since scan",
					slog.Int64("job_id", job.ID),
					slog.String("worker_id", worker.ID),
				)
				continue
			}
			d.logger.Error("Assignment failed",
				slog.Int64("job_id", job.ID),
				slog.String("worker_id", worker.ID),
				slog.Any("error", err),
			)
			continue
		}
		assigned++
	}

	if assigned > 0 {
		d.logger.Info("Dispatch cycle complete",
			slog.Int("assigned", assigned),
			slog.Int("pending", len(pending)),
			slog.Int("idle_workers", len(idle)),
		)
	}
	return assigned, nil
}
