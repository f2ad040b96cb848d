package tools

import (
	"context"

	"github.com/mcp-jive/jive/internal/workitem"
)

// GetWorkItem is jive_get_work_item: flexible retrieval by id, exact title
// or semantic match, with selectable detail level.
type GetWorkItem struct {
	items *workitem.Repo
}

// NewGetWorkItem creates the tool.
func NewGetWorkItem(items *workitem.Repo) *GetWorkItem {
	return &GetWorkItem{items: items}
}

func (t *GetWorkItem) Name() string { return "jive_get_work_item" }

func (t *GetWorkItem) Description() string {
	return "Retrieve a single work item by UUID, exact title, or closest semantic match."
}

func (t *GetWorkItem) Schema() map[string]any {
	return schemaObject(map[string]any{
		"work_item_id":         schemaStr("UUID, exact title, or free-text description of the item."),
		"namespace":            namespaceProp(),
		"format":               schemaEnum("Detail level of the response.", "detailed", "summary", "minimal"),
		"include_children":     schemaBool("Include direct children."),
		"include_dependencies": schemaBool("Include dependency edges touching the item."),
	}, "work_item_id")
}

func (t *GetWorkItem) Handle(ctx context.Context, call *Call, args map[string]any) (any, error) {
	id, err := requireStr(args, "work_item_id")
	if err != nil {
		return nil, err
	}
	item, err := t.items.Get(ctx, call.Namespace, id)
	if err != nil {
		return nil, err
	}

	out := map[string]any{"work_item": shape(item, strArg(args, "format"))}

	if boolArg(args, "include_children") {
		children, err := t.items.GetChildren(ctx, call.Namespace, item.ID, false, 0)
		if err != nil {
			return nil, err
		}
		list := make([]any, 0, len(children))
		for _, node := range children {
			list = append(list, shape(node.Item, strArg(args, "format")))
		}
		out["children"] = list
	}
	if boolArg(args, "include_dependencies") {
		deps, err := t.items.GetDependencies(ctx, call.Namespace, item.ID, workitem.DirBoth, false)
		if err != nil {
			return nil, err
		}
		out["dependencies"] = deps
	}
	return out, nil
}

// shape projects an item down to the requested format. detailed is the full
// wire object.
func shape(item *workitem.WorkItem, format string) any {
	switch format {
	case "minimal":
		return map[string]any{
			"id":        item.ID,
			"item_type": item.ItemType,
			"title":     item.Title,
			"status":    item.Status,
		}
	case "summary":
		return map[string]any{
			"id":                  item.ID,
			"item_type":           item.ItemType,
			"title":               item.Title,
			"status":              item.Status,
			"priority":            item.Priority,
			"parent_id":           item.ParentID,
			"progress_percentage": item.ProgressPercentage,
			"assignee":            item.Assignee,
			"updated_at":          item.UpdatedAt,
		}
	}
	return item
}
