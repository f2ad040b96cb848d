package tools

import (
	"context"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/workitem"
)

// ManageWorkItem is jive_manage_work_item: create, update and delete.
type ManageWorkItem struct {
	items *workitem.Repo
}

// NewManageWorkItem creates the tool.
func NewManageWorkItem(items *workitem.Repo) *ManageWorkItem {
	return &ManageWorkItem{items: items}
}

func (t *ManageWorkItem) Name() string { return "jive_manage_work_item" }

func (t *ManageWorkItem) Description() string {
	return "Create, update or delete work items (initiative/epic/feature/story/task)."
}

func (t *ManageWorkItem) Schema() map[string]any {
	return schemaObject(map[string]any{
		"action":              schemaAction("create", "update", "delete"),
		"namespace":           namespaceProp(),
		"work_item_id":        schemaStr("Target item id (update, delete)."),
		"item_type":           schemaEnum("Hierarchy level (create).", "initiative", "epic", "feature", "story", "task"),
		"title":               schemaStr("Short title, max 200 characters."),
		"description":         schemaStr("Longer description, max 10000 characters."),
		"status":              schemaEnum("Lifecycle state.", "not_started", "in_progress", "completed", "blocked", "cancelled"),
		"priority":            schemaEnum("Priority.", "low", "medium", "high", "critical"),
		"parent_id":           schemaStr("Parent item id; omit for a root item."),
		"complexity":          schemaEnum("Complexity estimate.", "trivial", "simple", "moderate", "complex", "very_complex"),
		"context_tags":        schemaStrs("Free-form context tags."),
		"acceptance_criteria": schemaStrs("Acceptance criteria, one per entry."),
		"effort_estimate":     schemaNum("Relative effort, used as rollup weight."),
		"tags":                schemaStrs("Labels."),
		"assignee":            schemaStr("Assignee identifier."),
		"order_index":         schemaInt("Explicit ordering index among siblings."),
		"progress_percentage": schemaNum("Progress within [0,100] (update only)."),
		"delete_mode":         schemaEnum("What happens to children on delete.", "reparent_children", "delete_descendants"),
	}, "action")
}

func (t *ManageWorkItem) Handle(ctx context.Context, call *Call, args map[string]any) (any, error) {
	switch strArg(args, "action") {
	case "create":
		return t.create(ctx, call, args)
	case "update":
		return t.update(ctx, call, args)
	case "delete":
		return t.delete(ctx, call, args)
	}
	return nil, errs.Newf(errs.CodeInvalidAction, "action %q is not supported by %s", strArg(args, "action"), t.Name())
}

func (t *ManageWorkItem) create(ctx context.Context, call *Call, args map[string]any) (any, error) {
	title, err := requireStr(args, "title")
	if err != nil {
		return nil, err
	}
	itemType, err := requireStr(args, "item_type")
	if err != nil {
		return nil, err
	}
	in := workitem.CreateInput{
		ItemType:           workitem.ItemType(itemType),
		Title:              title,
		Description:        strArg(args, "description"),
		Status:             workitem.Status(strArg(args, "status")),
		Priority:           workitem.Priority(strArg(args, "priority")),
		ParentID:           strPtrArg(args, "parent_id"),
		Complexity:         workitem.Complexity(strArg(args, "complexity")),
		ContextTags:        strsArg(args, "context_tags"),
		AcceptanceCriteria: strsArg(args, "acceptance_criteria"),
		EffortEstimate:     floatPtrArg(args, "effort_estimate"),
		Tags:               strsArg(args, "tags"),
		Assignee:           strArg(args, "assignee"),
	}
	if idx := intArg(args, "order_index", -1); idx >= 0 {
		in.OrderIndex = &idx
	}
	res, err := t.items.Create(ctx, call.Namespace, in)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		call.Warn("%s", w)
	}
	return map[string]any{"work_item": res.Item}, nil
}

var updateKeys = []string{
	"title", "description", "status", "priority", "parent_id", "complexity",
	"context_tags", "acceptance_criteria", "effort_estimate", "tags",
	"assignee", "order_index", "progress_percentage",
}

func (t *ManageWorkItem) update(ctx context.Context, call *Call, args map[string]any) (any, error) {
	id, err := requireStr(args, "work_item_id")
	if err != nil {
		return nil, err
	}
	item, err := t.items.Get(ctx, call.Namespace, id)
	if err != nil {
		return nil, err
	}
	patch := make(map[string]any)
	for _, key := range updateKeys {
		if v, ok := args[key]; ok {
			patch[key] = v
		}
	}
	if len(patch) == 0 {
		return nil, errs.Validation("action", "update requires at least one mutable field")
	}
	updated, err := t.items.Update(ctx, call.Namespace, item.ID, patch)
	if err != nil {
		return nil, err
	}
	return map[string]any{"work_item": updated}, nil
}

func (t *ManageWorkItem) delete(ctx context.Context, call *Call, args map[string]any) (any, error) {
	id, err := requireStr(args, "work_item_id")
	if err != nil {
		return nil, err
	}
	item, err := t.items.Get(ctx, call.Namespace, id)
	if err != nil {
		return nil, err
	}
	deleted, err := t.items.Delete(ctx, call.Namespace, item.ID, workitem.DeleteMode(strArg(args, "delete_mode")))
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": deleted, "work_item_id": item.ID}, nil
}
