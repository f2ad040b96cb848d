// Package maintenance runs periodic background housekeeping: dependency
// graph validation with self-healing and sibling sequence compaction, per
// namespace.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/store"
	"github.com/mcp-jive/jive/internal/workitem"
)

const tickInterval = time.Minute

// Janitor runs the housekeeping pass on a schedule.
type Janitor struct {
	store    store.Store
	items    *workitem.Repo
	schedule string
	logger   *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	ticker    *time.Ticker
	lastRunAt *time.Time
	createdAt time.Time
	wg        sync.WaitGroup
}

// New creates a janitor. schedule accepts a Go duration ("1h") or a standard
// cron expression ("0 * * * *"); empty means hourly.
func New(st store.Store, items *workitem.Repo, schedule string, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(schedule) == "" {
		schedule = "1h"
	}
	return &Janitor{
		store:     st,
		items:     items,
		schedule:  schedule,
		logger:    logger.Named("maintenance"),
		createdAt: time.Now().UTC(),
	}
}

// Start starts the background loop. It is safe to call Start multiple times.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	if j.ticker != nil {
		j.mu.Unlock()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.ticker = time.NewTicker(tickInterval)
	ticker := j.ticker
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				j.maybeRun(loopCtx, now.UTC())
			}
		}
	}()
}

// Stop stops background scheduling and waits for an in-flight pass.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if j.ticker == nil {
		j.mu.Unlock()
		return
	}
	j.ticker.Stop()
	j.ticker = nil
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	j.mu.Unlock()

	j.wg.Wait()
}

func (j *Janitor) maybeRun(ctx context.Context, now time.Time) {
	j.mu.Lock()
	last := j.lastRunAt
	created := j.createdAt
	j.mu.Unlock()

	due, err := isScheduleDue(j.schedule, last, created, now)
	if err != nil {
		j.logger.Warn("invalid maintenance schedule", zap.String("schedule", j.schedule), zap.Error(err))
		return
	}
	if !due {
		return
	}

	j.mu.Lock()
	j.lastRunAt = &now
	j.mu.Unlock()

	if err := j.RunOnce(ctx); err != nil {
		j.logger.Warn("maintenance pass failed", zap.Error(err))
	}
}

// RunOnce runs one housekeeping pass over every namespace: heal graph
// inconsistencies, then compact sibling sequence numbers.
func (j *Janitor) RunOnce(ctx context.Context) error {
	namespaces, err := j.store.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}
	for _, ns := range namespaces {
		violations, err := j.items.ValidateGraph(ctx, ns, "", true)
		if err != nil {
			j.logger.Warn("graph validation failed", zap.String("namespace", ns), zap.Error(err))
			continue
		}
		compacted, err := j.items.CompactSequences(ctx, ns)
		if err != nil {
			j.logger.Warn("sequence compaction failed", zap.String("namespace", ns), zap.Error(err))
			continue
		}
		if len(violations) > 0 || compacted > 0 {
			j.logger.Info("maintenance pass",
				zap.String("namespace", ns),
				zap.Int("violations_healed", len(violations)),
				zap.Int("sequences_compacted", compacted))
		}
	}
	return nil
}

func isScheduleDue(schedule string, lastRunAt *time.Time, createdAt, now time.Time) (bool, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return false, fmt.Errorf("schedule is required")
	}

	anchor := createdAt.UTC()
	if lastRunAt != nil {
		anchor = lastRunAt.UTC()
	}

	if interval, err := time.ParseDuration(schedule); err == nil {
		if interval <= 0 {
			return false, fmt.Errorf("interval must be > 0")
		}
		return !anchor.Add(interval).After(now.UTC()), nil
	}

	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return false, err
	}
	next := spec.Next(anchor)
	return !next.After(now.UTC()), nil
}
