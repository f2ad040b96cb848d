// Package progress appends progress events, maintains milestones, and
// aggregates analytics over the stored work items.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/store"
	"github.com/mcp-jive/jive/internal/workitem"
)

// Event is one append-only progress record.
type Event struct {
	ID                 string    `json:"id"`
	EntityID           string    `json:"entity_id"`
	EntityType         string    `json:"entity_type"`
	ProgressPercentage float64   `json:"progress_percentage"`
	Status             string    `json:"status,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	Blockers           []string  `json:"blockers,omitempty"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// Tracker is the progress and analytics engine.
type Tracker struct {
	store  store.Store
	items  *workitem.Repo
	bus    *events.Bus
	logger *zap.Logger
}

// New creates a tracker.
func New(st store.Store, items *workitem.Repo, bus *events.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: st, items: items, bus: bus, logger: logger.Named("progress")}
}

// TrackInput is one progress report.
type TrackInput struct {
	EntityID           string
	ProgressPercentage float64
	Status             string
	Notes              string
	Blockers           []string
}

// Track appends a progress event, updates the live work item, and rolls the
// change up the ancestor chain.
func (t *Tracker) Track(ctx context.Context, ns string, in TrackInput) (*Event, error) {
	if in.ProgressPercentage < 0 || in.ProgressPercentage > 100 {
		return nil, errs.Validation("progress_percentage", "must be within [0,100]")
	}
	item, err := t.items.Get(ctx, ns, in.EntityID)
	if err != nil {
		return nil, err
	}

	event := &Event{
		ID:                 uuid.NewString(),
		EntityID:           item.ID,
		EntityType:         "work_item",
		ProgressPercentage: in.ProgressPercentage,
		Status:             in.Status,
		Notes:              in.Notes,
		Blockers:           in.Blockers,
		RecordedAt:         time.Now().UTC(),
	}
	if err := t.persistEvent(ctx, ns, event); err != nil {
		return nil, err
	}

	patch := map[string]any{"progress_percentage": in.ProgressPercentage}
	if in.Status != "" {
		patch["status"] = in.Status
	} else if in.ProgressPercentage == 100 && item.Status != workitem.StatusCompleted {
		patch["status"] = "completed"
	}
	if _, err := t.items.Update(ctx, ns, item.ID, patch); err != nil {
		return nil, err
	}
	if err := t.items.RollupAncestors(ctx, ns, item.ID); err != nil {
		t.logger.Warn("ancestor rollup failed", zap.String("id", item.ID), zap.Error(err))
	}

	if t.bus != nil {
		t.bus.Publish(events.Event{
			Type:      events.ProgressTracked,
			Namespace: ns,
			EntityID:  item.ID,
			Summary:   fmt.Sprintf("progress %.0f%%: %s", in.ProgressPercentage, item.Title),
		})
	}
	return event, nil
}

// History returns the progress events of one entity, oldest first.
func (t *Tracker) History(ctx context.Context, ns, entityID string) ([]*Event, error) {
	rows, err := t.store.Scan(ctx, store.TableProgressEvents, store.Filter{
		"namespace": ns,
		"entity_id": entityID,
	}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]*Event, 0, len(rows))
	for _, row := range rows {
		ev, err := decodeEvent(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// ReportEntry is one work item's snapshot in a report.
type ReportEntry struct {
	Item    *workitem.WorkItem `json:"item"`
	History []*Event           `json:"history,omitempty"`
}

// Report aggregates progress snapshots, optionally grouped.
type Report struct {
	Total           int                      `json:"total"`
	AverageProgress float64                  `json:"average_progress"`
	StatusCounts    map[string]int           `json:"status_counts"`
	Groups          map[string][]ReportEntry `json:"groups,omitempty"`
	Entries         []ReportEntry            `json:"entries,omitempty"`
}

// GetReport snapshots matching work items; group_by accepts status, priority,
// item_type or assignee; include_history flattens per-item event history in.
func (t *Tracker) GetReport(ctx context.Context, ns string, filter workitem.ListFilter, groupBy string, includeHistory bool) (*Report, error) {
	items, err := t.items.List(ctx, ns, filter, workitem.ListOptions{Limit: 100})
	if err != nil {
		return nil, err
	}

	report := &Report{
		Total:        len(items),
		StatusCounts: make(map[string]int),
	}
	var sum float64
	for _, item := range items {
		sum += item.ProgressPercentage
		report.StatusCounts[string(item.Status)]++

		entry := ReportEntry{Item: item}
		if includeHistory {
			history, err := t.History(ctx, ns, item.ID)
			if err != nil {
				return nil, err
			}
			entry.History = history
		}
		if groupBy == "" {
			report.Entries = append(report.Entries, entry)
			continue
		}
		key, err := groupKey(item, groupBy)
		if err != nil {
			return nil, err
		}
		if report.Groups == nil {
			report.Groups = make(map[string][]ReportEntry)
		}
		report.Groups[key] = append(report.Groups[key], entry)
	}
	if len(items) > 0 {
		report.AverageProgress = sum / float64(len(items))
	}
	return report, nil
}

func groupKey(item *workitem.WorkItem, groupBy string) (string, error) {
	switch groupBy {
	case "status":
		return string(item.Status), nil
	case "priority":
		return string(item.Priority), nil
	case "item_type":
		return string(item.ItemType), nil
	case "assignee":
		if item.Assignee == "" {
			return "unassigned", nil
		}
		return item.Assignee, nil
	}
	return "", errs.Validation("group_by", "must be status, priority, item_type, or assignee")
}

// MilestoneStatus is a stored milestone plus derived scheduling fields.
type MilestoneStatus struct {
	Milestone    *workitem.Milestone `json:"milestone"`
	DaysToTarget int                 `json:"days_to_target"`
	Progress     float64             `json:"progress"`
}

// SetMilestone stores a milestone and reports days to target (negative when
// overdue).
func (t *Tracker) SetMilestone(ctx context.Context, ns string, m *workitem.Milestone) (*MilestoneStatus, error) {
	if m.Title == "" {
		return nil, errs.Validation("title", "must not be empty")
	}
	if m.TargetDate.IsZero() {
		return nil, errs.Validation("target_date", "must be set")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	doc, err := toDoc(m)
	if err != nil {
		return nil, err
	}
	err = t.store.Upsert(ctx, store.TableMilestones, []store.Row{{
		ID:        m.ID,
		Namespace: ns,
		Doc:       doc,
		UpdatedAt: time.Now().UTC(),
	}})
	if err != nil {
		return nil, err
	}
	return t.milestoneStatus(ctx, ns, m)
}

// Milestones returns every milestone with derived status, soonest target
// first.
func (t *Tracker) Milestones(ctx context.Context, ns string) ([]*MilestoneStatus, error) {
	rows, err := t.store.Scan(ctx, store.TableMilestones, store.Filter{"namespace": ns}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]*MilestoneStatus, 0, len(rows))
	for _, row := range rows {
		var m workitem.Milestone
		if err := fromDoc(row.Doc, &m); err != nil {
			return nil, err
		}
		status, err := t.milestoneStatus(ctx, ns, &m)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Milestone.TargetDate.Before(out[j].Milestone.TargetDate)
	})
	return out, nil
}

func (t *Tracker) milestoneStatus(ctx context.Context, ns string, m *workitem.Milestone) (*MilestoneStatus, error) {
	status := &MilestoneStatus{
		Milestone:    m,
		DaysToTarget: int(time.Until(m.TargetDate).Hours() / 24),
	}
	if len(m.AssociatedWorkItemIDs) == 0 {
		return status, nil
	}
	var sum float64
	counted := 0
	for _, id := range m.AssociatedWorkItemIDs {
		item, err := t.items.Get(ctx, ns, id)
		if err != nil {
			if errs.CodeOf(err) == errs.CodeNotFound {
				continue
			}
			return nil, err
		}
		sum += item.ProgressPercentage
		counted++
	}
	if counted > 0 {
		status.Progress = sum / float64(counted)
	}
	return status, nil
}

func (t *Tracker) persistEvent(ctx context.Context, ns string, ev *Event) error {
	doc, err := toDoc(ev)
	if err != nil {
		return err
	}
	return t.store.Upsert(ctx, store.TableProgressEvents, []store.Row{{
		ID:        ev.ID,
		Namespace: ns,
		Doc:       doc,
		UpdatedAt: ev.RecordedAt,
	}})
}

func decodeEvent(row store.Row) (*Event, error) {
	var ev Event
	if err := fromDoc(row.Doc, &ev); err != nil {
		return nil, fmt.Errorf("decode progress event %s: %w", row.ID, err)
	}
	return &ev, nil
}

func toDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc(doc map[string]any, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
