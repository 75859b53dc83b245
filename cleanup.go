package auth

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCleanupSchedule runs every day at 03:00
const DefaultCleanupSchedule = "0 3 * * *"

// TokenCleaner deletes stale tokens
type TokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Pruner drops idle rate limit buckets
type Pruner interface {
	Prune() int
}

// CleanupScheduler runs token cleanup and limiter pruning on a cron
// schedule.
type CleanupScheduler struct {
	cron     *cron.Cron
	schedule string
	cleaners []TokenCleaner
	pruners  []Pruner
	timeout  time.Duration
	logger   Logger
}

func NewCleanupScheduler(schedule string, logger Logger) *CleanupScheduler {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &CleanupScheduler{
		cron:     cron.New(),
		schedule: schedule,
		timeout:  5 * time.Minute,
		logger:   logger,
	}
}

func (c *CleanupScheduler) WithCleaners(cleaners ...TokenCleaner) *CleanupScheduler {
	c.cleaners = append(c.cleaners, cleaners...)
	return c
}

func (c *CleanupScheduler) WithPruners(pruners ...Pruner) *CleanupScheduler {
	c.pruners = append(c.pruners, pruners...)
	return c
}

// Start registers the job and starts the cron runner
func (c *CleanupScheduler) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, func() { c.RunOnce(context.Background()) }); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Info("Token cleanup scheduled", "schedule", c.schedule)
	return nil
}

// Stop halts the runner and waits for a running job
func (c *CleanupScheduler) Stop() {
	<-c.cron.Stop().Done()
}

// RunOnce runs every cleaner and pruner. Failures are logged so one table
// does not block the other.
func (c *CleanupScheduler) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var total int64
	for _, cleaner := range c.cleaners {
		n, err := cleaner.CleanupExpired(ctx)
		if err != nil {
			c.logger.Error("Token cleanup failed", "error", err)
			continue
		}
		total += n
	}

	for _, p := range c.pruners {
		if n := p.Prune(); n > 0 {
			c.logger.Debug("Rate limit buckets pruned", "count", n)
		}
	}

	return total
}
