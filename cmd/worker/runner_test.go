package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

type cycleMetricsFake struct {
	started  int
	statuses []error
	triggers []string
}

func (f *cycleMetricsFake) StartCycle() { f.started++ }

func (f *cycleMetricsFake) FinishCycle(trigger string, _ time.Duration, err error) {
	f.triggers = append(f.triggers, trigger)
	f.statuses = append(f.statuses, err)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunnerSkipsOverlappingCycles(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	m := &cycleMetricsFake{}
	r := &runner{
		cycle: func(context.Context) (domain.CycleSummary, error) {
			close(entered)
			<-release
			return domain.CycleSummary{}, nil
		},
		metrics: m,
		logger:  quietLogger(),
	}

	done := make(chan bool, 1)
	go func() { done <- r.run(context.Background(), "cron") }()
	<-entered

	if r.run(context.Background(), "event") {
		t.Fatalf("expected overlapping cycle to be skipped")
	}
	close(release)
	if !<-done {
		t.Fatalf("expected first cycle to run")
	}
	if m.started != 1 || len(m.triggers) != 1 || m.triggers[0] != "cron" {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestRunnerReportsBusyAndTimeout(t *testing.T) {
	busy := domain.WrapError(domain.ErrLoaderBusy, "lock", errors.New("held"))
	m := &cycleMetricsFake{}
	r := &runner{
		cycle: func(ctx context.Context) (domain.CycleSummary, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Fatalf("expected cycle context to carry the timeout")
			}
			return domain.CycleSummary{}, busy
		},
		metrics: m,
		timeout: time.Minute,
		logger:  quietLogger(),
	}

	if !r.run(context.Background(), "cron") {
		t.Fatalf("expected cycle to run")
	}
	if len(m.statuses) != 1 || !domain.IsKind(m.statuses[0], domain.ErrLoaderBusy) {
		t.Fatalf("expected busy error to reach metrics, got %+v", m.statuses)
	}
}
