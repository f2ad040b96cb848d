package tools

import (
	"context"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/execute"
)

// ExecuteWorkItem is jive_execute_work_item: start, inspect, complete and
// cancel executions.
type ExecuteWorkItem struct {
	engine *execute.Engine
}

// NewExecuteWorkItem creates the tool.
func NewExecuteWorkItem(engine *execute.Engine) *ExecuteWorkItem {
	return &ExecuteWorkItem{engine: engine}
}

func (t *ExecuteWorkItem) Name() string { return "jive_execute_work_item" }

func (t *ExecuteWorkItem) Description() string {
	return "Start an execution for a work item, check readiness, query status, report completion, or cancel."
}

func (t *ExecuteWorkItem) Schema() map[string]any {
	return schemaObject(map[string]any{
		"action":         schemaAction("execute", "validate", "status", "list", "complete", "cancel"),
		"namespace":      namespaceProp(),
		"work_item_id":   schemaStr("Work item to execute, validate, or list executions for."),
		"execution_id":   schemaStr("Execution log id (status, complete, cancel)."),
		"failure_reason": schemaStr("Marks the completion as failed with this reason."),
		"artifacts":      schemaStrs("Artifact references produced by the execution."),
		"notes":          schemaStr("Free-form completion notes."),
		"reason":         schemaStr("Cancellation reason."),
	}, "action")
}

func (t *ExecuteWorkItem) Handle(ctx context.Context, call *Call, args map[string]any) (any, error) {
	switch strArg(args, "action") {
	case "execute":
		id, err := requireStr(args, "work_item_id")
		if err != nil {
			return nil, err
		}
		log, instructions, err := t.engine.Execute(ctx, call.Namespace, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"execution": log, "instructions": instructions}, nil

	case "validate":
		id, err := requireStr(args, "work_item_id")
		if err != nil {
			return nil, err
		}
		readiness, err := t.engine.Validate(ctx, call.Namespace, id)
		if err != nil {
			return nil, err
		}
		for _, w := range readiness.Warnings {
			call.Warn("%s", w)
		}
		return readiness, nil

	case "status":
		id, err := requireStr(args, "execution_id")
		if err != nil {
			return nil, err
		}
		log, err := t.engine.Status(ctx, call.Namespace, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"execution": log}, nil

	case "list":
		id, err := requireStr(args, "work_item_id")
		if err != nil {
			return nil, err
		}
		logs, err := t.engine.ListForItem(ctx, call.Namespace, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"executions": logs, "total": len(logs)}, nil

	case "complete":
		id, err := requireStr(args, "execution_id")
		if err != nil {
			return nil, err
		}
		log, err := t.engine.Complete(ctx, call.Namespace, id,
			strArg(args, "failure_reason"), strsArg(args, "artifacts"), strArg(args, "notes"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"execution": log}, nil

	case "cancel":
		id, err := requireStr(args, "execution_id")
		if err != nil {
			return nil, err
		}
		log, err := t.engine.Cancel(ctx, call.Namespace, id, strArg(args, "reason"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"execution": log}, nil
	}
	return nil, errs.Newf(errs.CodeInvalidAction, "action %q is not supported by %s", strArg(args, "action"), t.Name())
}
