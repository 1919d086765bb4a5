package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

type cycleRunnerFunc func(ctx context.Context) (domain.CycleSummary, error)

type cycleMetrics interface {
	StartCycle()
	FinishCycle(trigger string, duration time.Duration, err error)
}

// runner serialises cycles inside the process; the advisory lock taken by the
// loader and the tagger keeps other processes out.
type runner struct {
	mu      sync.Mutex
	cycle   cycleRunnerFunc
	metrics cycleMetrics
	timeout time.Duration
	logger  *slog.Logger
}

// run reports false when another cycle was already running here.
func (r *runner) run(ctx context.Context, trigger string) bool {
	if !r.mu.TryLock() {
		r.logger.Info("cycle_skipped", "trigger", trigger, "reason", "already running")
		return false
	}
	defer r.mu.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	if r.metrics != nil {
		r.metrics.StartCycle()
	}
	summary, err := r.cycle(ctx)
	if r.metrics != nil {
		r.metrics.FinishCycle(trigger, time.Since(start), err)
	}

	switch {
	case domain.IsKind(err, domain.ErrLoaderBusy):
		r.logger.Info("cycle_skipped", "trigger", trigger, "reason", "writer lock held elsewhere")
	case err != nil:
		r.logger.Error("cycle_failed", "trigger", trigger, "error", err)
	default:
		attrs := []any{
			"trigger", trigger,
			"collections", len(summary.Load.Collections),
			"failed_collections", summary.Load.Failed(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if summary.Tag != nil {
			attrs = append(attrs,
				"tagged", summary.Tag.Assigned,
				"ambiguous", len(summary.Tag.Ambiguous),
				"unmatched", summary.Tag.Unmatched,
			)
		}
		r.logger.Info("cycle_finished", attrs...)
	}
	return true
}
