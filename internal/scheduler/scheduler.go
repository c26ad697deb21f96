// Package scheduler runs a job on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
)

// Job is one scheduled run.
type Job func(ctx context.Context) error

// retryDelay is how long the loop waits after a failed next-tick lookup.
const retryDelay = 30 * time.Second

// Scheduler calls Job at every tick of Cron, and once at start when
// RunAtStart is set. Ticks that arrive while a run is in progress are
// skipped.
type Scheduler struct {
	Name       string
	Cron       string
	Job        Job
	RunAtStart bool
	Logger     *slog.Logger
	Now        func() time.Time
	After      func(time.Duration) <-chan time.Time

	running atomic.Bool
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) after(d time.Duration) <-chan time.Time {
	if s.After != nil {
		return s.After(d)
	}
	return time.After(d)
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.Cron, t, false)
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Job == nil {
		return errors.New("scheduler: no job")
	}
	if !gronx.New().IsValid(s.Cron) {
		return errors.New("scheduler: invalid cron " + s.Cron)
	}
	s.logger().Info("scheduler_started", "job", s.Name, "cron", s.Cron)
	if s.RunAtStart {
		s.runOnce(ctx)
	}

	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.logger().Error("scheduler_nexttick_failed", "job", s.Name, "cron", s.Cron, "error", err)
			select {
			case <-s.after(retryDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		select {
		case <-s.after(next.Sub(s.now())):
			s.runOnce(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// runOnce runs the job unless a previous run is still going.
func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger().Warn("scheduler_run_skipped", "job", s.Name)
		return
	}
	defer s.running.Store(false)

	start := s.now()
	if err := s.Job(ctx); err != nil {
		s.logger().Error("scheduler_run_failed", "job", s.Name, "error", err)
		return
	}
	s.logger().Info("scheduler_run_done", "job", s.Name, "duration", time.Since(start).String())
}
