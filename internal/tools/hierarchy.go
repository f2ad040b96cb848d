package tools

import (
	"context"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/workitem"
)

// GetHierarchy is jive_get_hierarchy: hierarchy and dependency-graph
// navigation plus graph mutation and validation.
type GetHierarchy struct {
	items *workitem.Repo
}

// NewGetHierarchy creates the tool.
func NewGetHierarchy(items *workitem.Repo) *GetHierarchy {
	return &GetHierarchy{items: items}
}

func (t *GetHierarchy) Name() string { return "jive_get_hierarchy" }

func (t *GetHierarchy) Description() string {
	return "Navigate parent/child relationships and the dependency graph; add, remove and validate dependencies."
}

func (t *GetHierarchy) Schema() map[string]any {
	return schemaObject(map[string]any{
		"action": schemaAction("get", "add_dependency", "remove_dependency", "reorder", "validate"),
		"namespace":    namespaceProp(),
		"work_item_id": schemaStr("Anchor item id (get, reorder, validate scope)."),
		"relationship_type": schemaEnum("What to traverse on get.",
			"children", "descendants", "full_hierarchy", "parents", "ancestors", "dependencies", "dependents"),
		"max_depth":       schemaInt("Depth bound for recursive traversal (0 = unbounded)."),
		"transitive":      schemaBool("Follow blocking edges transitively (dependencies, dependents)."),
		"source_id":       schemaStr("Dependency source item (add/remove_dependency)."),
		"target_id":       schemaStr("Dependency target item (add/remove_dependency)."),
		"dependency_type": schemaEnum("Edge type.", "blocks", "blocked_by", "related", "subtask_of"),
		"new_parent_id":   schemaStr("New parent on reorder; omit to keep, empty string to move to root."),
		"new_index":       schemaInt("Zero-based position among siblings on reorder."),
		"heal":            schemaBool("Repair violations found by validate."),
	}, "action")
}

func (t *GetHierarchy) Handle(ctx context.Context, call *Call, args map[string]any) (any, error) {
	switch strArg(args, "action") {
	case "get":
		return t.get(ctx, call, args)
	case "add_dependency":
		return t.addDependency(ctx, call, args)
	case "remove_dependency":
		return t.removeDependency(ctx, call, args)
	case "reorder":
		return t.reorder(ctx, call, args)
	case "validate":
		return t.validate(ctx, call, args)
	}
	return nil, errs.Newf(errs.CodeInvalidAction, "action %q is not supported by %s", strArg(args, "action"), t.Name())
}

func (t *GetHierarchy) get(ctx context.Context, call *Call, args map[string]any) (any, error) {
	id, err := requireStr(args, "work_item_id")
	if err != nil {
		return nil, err
	}
	item, err := t.items.Get(ctx, call.Namespace, id)
	if err != nil {
		return nil, err
	}

	rel := strArg(args, "relationship_type")
	switch rel {
	case "", "children":
		nodes, err := t.items.GetChildren(ctx, call.Namespace, item.ID, false, 0)
		if err != nil {
			return nil, err
		}
		return map[string]any{"work_item_id": item.ID, "children": nodes}, nil
	case "descendants", "full_hierarchy":
		nodes, err := t.items.GetChildren(ctx, call.Namespace, item.ID, true, intArg(args, "max_depth", 0))
		if err != nil {
			return nil, err
		}
		out := map[string]any{"work_item_id": item.ID, "children": nodes}
		if rel == "full_hierarchy" {
			out["work_item"] = item
		}
		return out, nil
	case "parents", "ancestors":
		ancestors, err := t.items.GetAncestors(ctx, call.Namespace, item.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"work_item_id": item.ID, "ancestors": ancestors}, nil
	case "dependencies":
		deps, err := t.items.GetDependencies(ctx, call.Namespace, item.ID, workitem.DirIn, boolArg(args, "transitive"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"work_item_id": item.ID, "dependencies": deps}, nil
	case "dependents":
		deps, err := t.items.GetDependencies(ctx, call.Namespace, item.ID, workitem.DirOut, boolArg(args, "transitive"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"work_item_id": item.ID, "dependents": deps}, nil
	}
	return nil, errs.Validation("relationship_type", "unknown relationship type")
}

func (t *GetHierarchy) addDependency(ctx context.Context, call *Call, args map[string]any) (any, error) {
	source, err := requireStr(args, "source_id")
	if err != nil {
		return nil, err
	}
	target, err := requireStr(args, "target_id")
	if err != nil {
		return nil, err
	}
	depType := workitem.DependencyType(strArg(args, "dependency_type"))
	if depType == "" {
		depType = workitem.DepBlocks
	}
	dep, err := t.items.AddDependency(ctx, call.Namespace, source, target, depType)
	if err != nil {
		return nil, err
	}
	return map[string]any{"dependency": dep}, nil
}

func (t *GetHierarchy) removeDependency(ctx context.Context, call *Call, args map[string]any) (any, error) {
	source, err := requireStr(args, "source_id")
	if err != nil {
		return nil, err
	}
	target, err := requireStr(args, "target_id")
	if err != nil {
		return nil, err
	}
	depType := workitem.DependencyType(strArg(args, "dependency_type"))
	if depType == "" {
		depType = workitem.DepBlocks
	}
	if err := t.items.RemoveDependency(ctx, call.Namespace, source, target, depType); err != nil {
		return nil, err
	}
	return map[string]any{"removed": true}, nil
}

func (t *GetHierarchy) reorder(ctx context.Context, call *Call, args map[string]any) (any, error) {
	id, err := requireStr(args, "work_item_id")
	if err != nil {
		return nil, err
	}
	item, err := t.items.Reorder(ctx, call.Namespace, id,
		strPtrArg(args, "new_parent_id"), intArg(args, "new_index", 0))
	if err != nil {
		return nil, err
	}
	return map[string]any{"work_item": item}, nil
}

func (t *GetHierarchy) validate(ctx context.Context, call *Call, args map[string]any) (any, error) {
	violations, err := t.items.ValidateGraph(ctx, call.Namespace, strArg(args, "work_item_id"), boolArg(args, "heal"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"valid":      len(violations) == 0,
		"healed":     boolArg(args, "heal"),
		"violations": violations,
	}, nil
}
