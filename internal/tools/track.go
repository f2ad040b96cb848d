package tools

import (
	"context"
	"time"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/progress"
	"github.com/mcp-jive/jive/internal/workitem"
)

// TrackProgress is jive_track_progress: progress events, reports,
// milestones, analytics and per-item status.
type TrackProgress struct {
	tracker *progress.Tracker
}

// NewTrackProgress creates the tool.
func NewTrackProgress(tracker *progress.Tracker) *TrackProgress {
	return &TrackProgress{tracker: tracker}
}

func (t *TrackProgress) Name() string { return "jive_track_progress" }

func (t *TrackProgress) Description() string {
	return "Record progress updates, build progress reports, manage milestones, and aggregate analytics."
}

func (t *TrackProgress) Schema() map[string]any {
	return schemaObject(map[string]any{
		"action": schemaAction("track", "get_report", "set_milestone", "get_milestones", "get_analytics", "get_status"),
		"namespace":           namespaceProp(),
		"entity_id":           schemaStr("Work item the update or status query applies to."),
		"progress_percentage": schemaNum("Progress within [0,100] (track)."),
		"status":              schemaEnum("Explicit status on track.", "not_started", "in_progress", "completed", "blocked", "cancelled"),
		"notes":               schemaStr("Free-form note attached to the event."),
		"blockers":            schemaStrs("Blocker descriptions attached to the event."),
		"group_by":            schemaEnum("Report grouping.", "status", "priority", "item_type", "assignee"),
		"include_history":     schemaBool("Include per-item event history in the report."),
		"item_type":           schemaEnum("Report filter.", "initiative", "epic", "feature", "story", "task"),
		"assignee":            schemaStr("Report filter."),
		"title":               schemaStr("Milestone title."),
		"description":         schemaStr("Milestone description."),
		"target_date":         schemaStr("Milestone target date, RFC 3339."),
		"work_item_ids":       schemaStrs("Work items associated with the milestone."),
		"success_criteria":    schemaStrs("Milestone success criteria."),
		"priority":            schemaEnum("Milestone priority.", "low", "medium", "high", "critical"),
		"time_period":         schemaEnum("Analytics window.", "7d", "30d", "90d", "all"),
	}, "action")
}

func (t *TrackProgress) Handle(ctx context.Context, call *Call, args map[string]any) (any, error) {
	switch strArg(args, "action") {
	case "track":
		return t.track(ctx, call, args)
	case "get_report":
		return t.report(ctx, call, args)
	case "set_milestone":
		return t.setMilestone(ctx, call, args)
	case "get_milestones":
		return t.tracker.Milestones(ctx, call.Namespace)
	case "get_analytics":
		return t.tracker.GetAnalytics(ctx, call.Namespace, strArg(args, "time_period"))
	case "get_status":
		id, err := requireStr(args, "entity_id")
		if err != nil {
			return nil, err
		}
		return t.tracker.GetStatus(ctx, call.Namespace, id)
	}
	return nil, errs.Newf(errs.CodeInvalidAction, "action %q is not supported by %s", strArg(args, "action"), t.Name())
}

func (t *TrackProgress) track(ctx context.Context, call *Call, args map[string]any) (any, error) {
	id, err := requireStr(args, "entity_id")
	if err != nil {
		return nil, err
	}
	pct, ok := floatArg(args, "progress_percentage")
	if !ok {
		return nil, errs.Validation("progress_percentage", "is required")
	}
	event, err := t.tracker.Track(ctx, call.Namespace, progress.TrackInput{
		EntityID:           id,
		ProgressPercentage: pct,
		Status:             strArg(args, "status"),
		Notes:              strArg(args, "notes"),
		Blockers:           strsArg(args, "blockers"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"event": event}, nil
}

func (t *TrackProgress) report(ctx context.Context, call *Call, args map[string]any) (any, error) {
	filter := workitem.ListFilter{Assignee: strArg(args, "assignee")}
	if v := strArg(args, "item_type"); v != "" {
		filter.Types = []workitem.ItemType{workitem.ItemType(v)}
	}
	if v := strArg(args, "status"); v != "" {
		filter.Statuses = []workitem.Status{workitem.Status(v)}
	}
	return t.tracker.GetReport(ctx, call.Namespace, filter,
		strArg(args, "group_by"), boolArg(args, "include_history"))
}

func (t *TrackProgress) setMilestone(ctx context.Context, call *Call, args map[string]any) (any, error) {
	title, err := requireStr(args, "title")
	if err != nil {
		return nil, err
	}
	raw, err := requireStr(args, "target_date")
	if err != nil {
		return nil, err
	}
	target, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errs.Validation("target_date", "must be an RFC 3339 timestamp")
	}
	return t.tracker.SetMilestone(ctx, call.Namespace, &workitem.Milestone{
		Title:                 title,
		Description:           strArg(args, "description"),
		TargetDate:            target,
		AssociatedWorkItemIDs: strsArg(args, "work_item_ids"),
		SuccessCriteria:       strsArg(args, "success_criteria"),
		Priority:              workitem.Priority(strArg(args, "priority")),
	})
}
