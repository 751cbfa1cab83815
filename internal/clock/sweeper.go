package clock

import (
	"context"
	"log/slog"
	"time"
)

// Task is one unit of scheduled background work. Implementations must
// be idempotent: the sweeper may invoke them again before the previous
// effects are observable.
type Task interface {
	Name() string
	Sweep(ctx context.Context, now time.Time) error
}

// Sweeper periodically runs the registered tasks. It is the sole
// source of time-based state change; clients never drive transitions
// from their own timers.
type Sweeper struct {
	clock    Clock
	interval time.Duration
	log      *slog.Logger
	tasks    []Task
}

func NewSweeper(clock Clock, interval time.Duration, log *slog.Logger, tasks ...Task) *Sweeper {
	return &Sweeper{
		clock:    clock,
		interval: interval,
		log:      log,
		tasks:    tasks,
	}
}

// Run blocks until ctx is canceled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// run once immediately so restarts do not delay overdue resolutions
	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs every task a single time. A failing task is logged
// and does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.clock.Now()
	for _, task := range s.tasks {
		if err := task.Sweep(ctx, now); err != nil {
			s.log.Error("sweep task failed", "task", task.Name(), "err", err)
		}
	}
}
