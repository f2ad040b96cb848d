// Package execute tracks work-item executions. The server does not own the
// executing agent, so the engine records lifecycle state and renders
// instructions; cancellation is advisory.
package execute

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/store"
	"github.com/mcp-jive/jive/internal/workitem"
)

// State is the lifecycle state of one execution.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Log is one execution record.
type Log struct {
	ID          string     `json:"id"`
	WorkItemID  string     `json:"work_item_id"`
	State       State      `json:"state"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Readiness is the result of a pre-execution validate call.
type Readiness struct {
	Ready    bool     `json:"ready"`
	Blockers []string `json:"blockers,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Engine drives execution records against the work-item repository.
type Engine struct {
	store  store.Store
	items  *workitem.Repo
	bus    *events.Bus
	logger *zap.Logger
}

// New creates the execution engine.
func New(st store.Store, items *workitem.Repo, bus *events.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, items: items, bus: bus, logger: logger.Named("execute")}
}

// Validate reports whether the item may start executing: every blocking
// dependency must be completed first.
func (e *Engine) Validate(ctx context.Context, ns, identifier string) (*Readiness, error) {
	item, err := e.items.Get(ctx, ns, identifier)
	if err != nil {
		return nil, err
	}
	blockers, err := e.items.BlockedBy(ctx, ns, item.ID)
	if err != nil {
		return nil, err
	}
	ready := &Readiness{Ready: len(blockers) == 0, Blockers: blockers}
	switch item.Status {
	case workitem.StatusCompleted:
		ready.Warnings = append(ready.Warnings, "item is already completed")
	case workitem.StatusCancelled:
		ready.Warnings = append(ready.Warnings, "item is cancelled")
		ready.Ready = false
	}
	return ready, nil
}

// Execute validates readiness, opens a running execution log, and moves the
// item to in_progress. The returned instructions are what the executing agent
// should do.
func (e *Engine) Execute(ctx context.Context, ns, identifier string) (*Log, string, error) {
	item, err := e.items.Get(ctx, ns, identifier)
	if err != nil {
		return nil, "", err
	}
	blockers, err := e.items.BlockedBy(ctx, ns, item.ID)
	if err != nil {
		return nil, "", err
	}
	if len(blockers) > 0 {
		return nil, "", errs.New(errs.CodeValidation, "work item is blocked by incomplete dependencies").
			WithDetail("blockers", blockers)
	}

	now := time.Now().UTC()
	log := &Log{
		ID:         uuid.NewString(),
		WorkItemID: item.ID,
		State:      StateRunning,
		StartedAt:  now,
	}
	if err := e.persist(ctx, ns, log); err != nil {
		return nil, "", err
	}

	if item.Status == workitem.StatusNotStarted || item.Status == workitem.StatusBlocked {
		if _, err := e.items.Update(ctx, ns, item.ID, map[string]any{"status": "in_progress"}); err != nil {
			e.logger.Warn("status transition failed", zap.String("id", item.ID), zap.Error(err))
		}
	}

	e.publish(events.ExecutionStarted, ns, log.ID, "execution started: "+item.Title)
	return log, renderInstructions(item), nil
}

// Status fetches one execution log by id.
func (e *Engine) Status(ctx context.Context, ns, executionID string) (*Log, error) {
	row, err := e.store.Get(ctx, store.TableExecutionLogs, ns, executionID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errs.NotFound("execution", executionID)
		}
		return nil, err
	}
	return decodeLog(row)
}

// ListForItem returns every execution of one work item, newest first.
func (e *Engine) ListForItem(ctx context.Context, ns, workItemID string) ([]*Log, error) {
	rows, err := e.store.Scan(ctx, store.TableExecutionLogs, store.Filter{
		"namespace":    ns,
		"work_item_id": workItemID,
	}, store.ScanOptions{})
	if err != nil {
		return nil, err
	}
	logs := make([]*Log, 0, len(rows))
	for _, row := range rows {
		log, err := decodeLog(row)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].StartedAt.After(logs[j].StartedAt) })
	return logs, nil
}

// Cancel marks a queued or running execution cancelled. The in-flight agent
// is not interrupted; the record is what downstream tooling reads.
func (e *Engine) Cancel(ctx context.Context, ns, executionID, reason string) (*Log, error) {
	log, err := e.Status(ctx, ns, executionID)
	if err != nil {
		return nil, err
	}
	if log.State.Terminal() {
		return nil, errs.Newf(errs.CodeValidation, "execution already %s", log.State).
			WithDetail("state", string(log.State))
	}
	now := time.Now().UTC()
	log.State = StateCancelled
	log.CancelledAt = &now
	log.EndedAt = &now
	if reason != "" {
		log.Notes = appendNote(log.Notes, "cancelled: "+reason)
	}
	if err := e.persist(ctx, ns, log); err != nil {
		return nil, err
	}
	e.publish(events.ExecutionCancelled, ns, log.ID, "execution cancelled: "+log.WorkItemID)
	return log, nil
}

// Complete closes a running execution. A non-empty failure message marks it
// failed; otherwise the work item is completed at 100%.
func (e *Engine) Complete(ctx context.Context, ns, executionID, failure string, artifacts []string, notes string) (*Log, error) {
	log, err := e.Status(ctx, ns, executionID)
	if err != nil {
		return nil, err
	}
	if log.State.Terminal() {
		return nil, errs.Newf(errs.CodeValidation, "execution already %s", log.State).
			WithDetail("state", string(log.State))
	}
	now := time.Now().UTC()
	log.EndedAt = &now
	log.Artifacts = append(log.Artifacts, artifacts...)
	if notes != "" {
		log.Notes = appendNote(log.Notes, notes)
	}
	if failure != "" {
		log.State = StateFailed
		log.Error = failure
	} else {
		log.State = StateCompleted
	}
	if err := e.persist(ctx, ns, log); err != nil {
		return nil, err
	}

	if log.State == StateCompleted {
		patch := map[string]any{"status": "completed", "progress_percentage": 100.0}
		if _, err := e.items.Update(ctx, ns, log.WorkItemID, patch); err != nil {
			e.logger.Warn("completion status update failed", zap.String("id", log.WorkItemID), zap.Error(err))
		} else if err := e.items.RollupAncestors(ctx, ns, log.WorkItemID); err != nil {
			e.logger.Warn("ancestor rollup failed", zap.String("id", log.WorkItemID), zap.Error(err))
		}
	}

	e.publish(events.ExecutionCompleted, ns, log.ID, fmt.Sprintf("execution %s: %s", log.State, log.WorkItemID))
	return log, nil
}

func (e *Engine) persist(ctx context.Context, ns string, log *Log) error {
	data, err := json.Marshal(log)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return e.store.Upsert(ctx, store.TableExecutionLogs, []store.Row{{
		ID:        log.ID,
		Namespace: ns,
		Doc:       doc,
		UpdatedAt: time.Now().UTC(),
	}})
}

func (e *Engine) publish(t events.EventType, ns, id, summary string) {
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: t, Namespace: ns, EntityID: id, Summary: summary})
	}
}

func decodeLog(row store.Row) (*Log, error) {
	data, err := json.Marshal(row.Doc)
	if err != nil {
		return nil, err
	}
	var log Log
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("decode execution log %s: %w", row.ID, err)
	}
	return &log, nil
}

// renderInstructions turns a work item into the brief the executing agent
// receives.
func renderInstructions(item *workitem.WorkItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.Title)
	if item.Description != "" {
		b.WriteString(item.Description + "\n\n")
	}
	if len(item.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for i, c := range item.AcceptanceCriteria {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
