// Package janitor runs the scheduled sweep of expired cache records. It
// complements the opportunistic per-request cleanup with a predictable
// baseline.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/baldgiev-collab/serpifai/internal/app/metrics"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

// Janitor is a lifecycle-managed cron service.
type Janitor struct {
	cache    storage.CacheStore
	schedule string
	cron     *cron.Cron
	log      *logger.Logger
}

// New builds a janitor. An empty schedule disables it.
func New(cache storage.CacheStore, schedule string, log *logger.Logger) *Janitor {
	if log == nil {
		log = logger.NewDefault("janitor")
	}
	return &Janitor{cache: cache, schedule: schedule, log: log}
}

func (j *Janitor) Name() string { return "janitor" }

// Start schedules the sweep.
func (j *Janitor) Start(context.Context) error {
	if j.schedule == "" || j.cache == nil {
		j.log.Info("cache sweep disabled")
		return nil
	}

	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, j.sweep); err != nil {
		return fmt.Errorf("schedule %q: %w", j.schedule, err)
	}
	j.cron.Start()
	j.log.WithField("schedule", j.schedule).Info("cache sweep scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}
	done := j.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := j.cache.PurgeExpired(ctx)
	if err != nil {
		j.log.WithError(err).Warn("scheduled cache sweep failed")
		return
	}
	metrics.RecordCachePurge("scheduled", removed)
	if removed > 0 {
		j.log.WithField("removed", removed).Info("scheduled cache sweep")
	}
}
