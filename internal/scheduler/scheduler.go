package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/elonfeng/farewatch/internal/tracker"
)

// Sweeper is the part of tracker.Tracker the scheduler drives.
type Sweeper interface {
	Sweep(ctx context.Context) (*tracker.Report, error)
	SendDailyReport(ctx context.Context, rep *tracker.Report) error
}

// Scheduler runs periodic sweeps and sends the daily report after the
// first successful sweep of each day.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
	onSweep  func(*tracker.Report, error)

	reported store.Date
}

// New creates a new scheduler.
func New(s Sweeper, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{sweeper: s, interval: interval, log: log, now: time.Now}
}

// OnSweep registers fn to be called after every sweep, including ones that
// failed. It is not called for ticks skipped because a sweep was running.
func (s *Scheduler) OnSweep(fn func(*tracker.Report, error)) {
	s.onSweep = fn
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.log.Info("scheduler: initial sweep")
	s.sweep(ctx)

	s.log.Info("scheduler: running", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.log.Info("scheduler: sweeping")
			s.sweep(ctx)
		}
	}
}

// sweep runs one sweep. A failed sweep is logged and the loop keeps going;
// the next tick starts over.
func (s *Scheduler) sweep(ctx context.Context) {
	rep, err := s.sweeper.Sweep(ctx)
	if errors.Is(err, tracker.ErrBusy) {
		s.log.Info("scheduler: sweep already running, skipping tick")
		return
	}
	if s.onSweep != nil {
		s.onSweep(rep, err)
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error("scheduler: sweep failed", "err", err)
		}
		return
	}

	today := store.DateOf(s.now())
	if s.reported == today {
		return
	}
	if err := s.sweeper.SendDailyReport(ctx, rep); err != nil {
		s.log.Error("scheduler: daily report failed", "err", err)
		return
	}
	s.reported = today
}
