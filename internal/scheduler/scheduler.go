package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Resetter zeroes every usage counter.
type Resetter interface {
	Reset(ctx context.Context) (int64, error)
}

// Scheduler runs the periodic usage reset.
type Scheduler struct {
	usage    Resetter
	schedule string
	c        *cron.Cron
	logger   *slog.Logger
}

// NewScheduler builds a scheduler for schedule, a cron spec such as "@daily"
// or "0 0 1 * *". An empty schedule means usage limits are lifetime caps and
// nothing is scheduled.
func NewScheduler(usage Resetter, schedule string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		usage:    usage,
		schedule: schedule,
		c:        cron.New(),
		logger:   logger.With("component", "scheduler"),
	}
}

// Start registers the reset job and starts the cron runner.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		s.logger.Info("usage reset schedule not set, limits are lifetime caps")
		return nil
	}
	if _, err := s.c.AddFunc(s.schedule, s.resetUsage); err != nil {
		return fmt.Errorf("invalid usage reset schedule %q: %w", s.schedule, err)
	}
	s.c.Start()
	s.logger.Info("usage reset scheduled", "schedule", s.schedule)
	return nil
}

func (s *Scheduler) resetUsage() {
	s.logger.Info("running scheduled job: resetting all usage counters")
	n, err := s.usage.Reset(context.Background())
	if err != nil {
		s.logger.Error("error resetting usage counters", "error", err)
		return
	}
	s.logger.Info("usage counters reset", "users", n)
}

// Stop stops the cron runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
