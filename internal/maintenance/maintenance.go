// Package maintenance runs the daily housekeeping jobs next to the queue
// workers.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// CleanupSpec deletes old FAILED requests every night at 03:00.
	CleanupSpec = "0 3 * * *"
	// ResetSpec zeroes subscription usage at midnight.
	ResetSpec = "0 0 * * *"
)

type QueueCleaner interface {
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

type UsageResetter interface {
	ResetUsage(ctx context.Context) (int64, error)
}

type Scheduler struct {
	queue        QueueCleaner
	usage        UsageResetter
	cleanupAfter time.Duration
	logger       *zap.Logger
	now          func() time.Time
	cron         *cron.Cron
}

func New(queue QueueCleaner, usage UsageResetter, cleanupAfter time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:        queue,
		usage:        usage,
		cleanupAfter: cleanupAfter,
		logger:       logger.Named("maintenance"),
		now:          time.Now,
		cron:         cron.New(),
	}
}

// Run schedules both jobs and blocks until ctx is cancelled. Running jobs are
// allowed to finish before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) (int64, error)
	}{
		{"cleanup_failed", CleanupSpec, s.Cleanup},
		{"reset_usage", ResetSpec, s.ResetUsage},
	}
	for _, j := range jobs {
		j := j
		_, err := s.cron.AddFunc(j.spec, func() {
			n, err := j.fn(ctx)
			if err != nil {
				s.logger.Error("job failed", zap.String("job", j.name), zap.Error(err))
				return
			}
			s.logger.Info("job finished", zap.String("job", j.name), zap.Int64("rows", n))
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
	}

	s.cron.Start()
	s.logger.Info("maintenance scheduler started", zap.Int("jobs", len(jobs)))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
	return nil
}

// Cleanup removes FAILED requests older than the retention window.
func (s *Scheduler) Cleanup(ctx context.Context) (int64, error) {
	return s.queue.Cleanup(ctx, s.now().Add(-s.cleanupAfter))
}

func (s *Scheduler) ResetUsage(ctx context.Context) (int64, error) {
	return s.usage.ResetUsage(ctx)
}
