// Package scheduler runs the periodic renewal reminder worker.
package scheduler

import (
	"context"
	"time"

	"github.com/civicqo/be-billing/internal/logger"
)

// Runner is one reminder cycle.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// Worker drives the reminder service on a fixed interval until the context
// is cancelled. One worker per instance; cross-instance races are absorbed
// by the database constraints the reminder store relies on.
type Worker struct {
	runner   Runner
	interval time.Duration
	log      *logger.Logger
}

// New creates a worker.
func New(runner Runner, interval time.Duration, log *logger.Logger) *Worker {
	return &Worker{runner: runner, interval: interval, log: log}
}

// Run executes one cycle immediately, then ticks until ctx is done. A
// failed cycle is logged and the worker keeps going.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Reminder scheduler started")

	w.runCycle(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Reminder scheduler stopped")
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *Worker) runCycle(ctx context.Context) {
	start := time.Now()
	if err := w.runner.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Error().Err(err).Msg("reminder cycle failed")
		return
	}
	w.log.Debug().Dur("duration", time.Since(start)).Msg("reminder cycle completed")
}
