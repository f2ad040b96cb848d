package progress

import (
	"context"
	"time"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/store"
	"github.com/mcp-jive/jive/internal/workitem"
)

// Analytics is the aggregate view over a time period.
type Analytics struct {
	Period            string         `json:"period"`
	StatusCounts      map[string]int `json:"status_counts"`
	TotalItems        int            `json:"total_items"`
	CompletedItems    int            `json:"completed_items"`
	CompletionRate    float64        `json:"completion_rate"`
	AvgCycleTimeHours float64        `json:"avg_cycle_time_hours"`
	WeeklyVelocity    float64        `json:"weekly_velocity"`
}

// periodDuration maps the accepted time_period values.
func periodDuration(period string) (time.Duration, error) {
	switch period {
	case "", "30d":
		return 30 * 24 * time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, nil
	case "90d":
		return 90 * 24 * time.Hour, nil
	case "all":
		return 0, nil
	}
	return 0, errs.Validation("time_period", "must be 7d, 30d, 90d, or all")
}

// GetAnalytics aggregates status counts, completion rate, average cycle time
// and weekly velocity for the period. Cycle time runs from an item's first
// in_progress event to its completed event.
func (t *Tracker) GetAnalytics(ctx context.Context, ns, period string) (*Analytics, error) {
	window, err := periodDuration(period)
	if err != nil {
		return nil, err
	}
	since := time.Time{}
	if window > 0 {
		since = time.Now().UTC().Add(-window)
	}
	if period == "" {
		period = "30d"
	}

	items, err := t.items.List(ctx, ns, workitem.ListFilter{}, workitem.ListOptions{Limit: 100})
	if err != nil {
		return nil, err
	}

	out := &Analytics{Period: period, StatusCounts: make(map[string]int)}
	for _, item := range items {
		if !since.IsZero() && item.UpdatedAt.Before(since) && item.CreatedAt.Before(since) {
			continue
		}
		out.TotalItems++
		out.StatusCounts[string(item.Status)]++
		if item.Status == workitem.StatusCompleted {
			out.CompletedItems++
		}
	}
	if out.TotalItems > 0 {
		out.CompletionRate = float64(out.CompletedItems) / float64(out.TotalItems)
	}

	rows, err := t.store.Scan(ctx, store.TableProgressEvents, store.Filter{"namespace": ns}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	started := make(map[string]time.Time)
	completed := make(map[string]time.Time)
	for _, row := range rows {
		ev, err := decodeEvent(row)
		if err != nil {
			return nil, err
		}
		if !since.IsZero() && ev.RecordedAt.Before(since) {
			continue
		}
		switch ev.Status {
		case string(workitem.StatusInProgress):
			if first, ok := started[ev.EntityID]; !ok || ev.RecordedAt.Before(first) {
				started[ev.EntityID] = ev.RecordedAt
			}
		case string(workitem.StatusCompleted):
			if last, ok := completed[ev.EntityID]; !ok || ev.RecordedAt.After(last) {
				completed[ev.EntityID] = ev.RecordedAt
			}
		}
	}

	var cycleSum time.Duration
	cycles := 0
	for id, end := range completed {
		if start, ok := started[id]; ok && end.After(start) {
			cycleSum += end.Sub(start)
			cycles++
		}
	}
	if cycles > 0 {
		out.AvgCycleTimeHours = cycleSum.Hours() / float64(cycles)
	}

	// Velocity: completed events per week over the window.
	weeks := 1.0
	if window > 0 {
		weeks = window.Hours() / (7 * 24)
	}
	out.WeeklyVelocity = float64(len(completed)) / weeks
	return out, nil
}

// StatusView is the current progress of a single entity.
type StatusView struct {
	Item        *workitem.WorkItem `json:"item"`
	LatestEvent *Event             `json:"latest_event,omitempty"`
	EventCount  int                `json:"event_count"`
	Blockers    []string           `json:"blockers,omitempty"`
}

// GetStatus resolves the entity and returns its live snapshot with the most
// recent progress event and any incomplete blocking dependencies.
func (t *Tracker) GetStatus(ctx context.Context, ns, entityID string) (*StatusView, error) {
	item, err := t.items.Get(ctx, ns, entityID)
	if err != nil {
		return nil, err
	}
	history, err := t.History(ctx, ns, item.ID)
	if err != nil {
		return nil, err
	}
	blockers, err := t.items.BlockedBy(ctx, ns, item.ID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{Item: item, EventCount: len(history), Blockers: blockers}
	if len(history) > 0 {
		view.LatestEvent = history[len(history)-1]
	}
	return view, nil
}
