package tools

import (
	"context"

	"github.com/mcp-jive/jive/internal/errs"
	syncsvc "github.com/mcp-jive/jive/internal/sync"
	"github.com/mcp-jive/jive/internal/telemetry"
)

// SyncData is jive_sync_data: the file mirror, backups and consistency
// checks.
type SyncData struct {
	svc *syncsvc.Service
}

// NewSyncData creates the tool.
func NewSyncData(svc *syncsvc.Service) *SyncData {
	return &SyncData{svc: svc}
}

func (t *SyncData) Name() string { return "jive_sync_data" }

func (t *SyncData) Description() string {
	return "Mirror work items to JSON files, inspect sync state, run backups and restores, and validate the mirror."
}

func (t *SyncData) Schema() map[string]any {
	return schemaObject(map[string]any{
		"action":         schemaAction("sync", "status", "validate", "backup", "restore"),
		"namespace":      namespaceProp(),
		"sync_direction": schemaEnum("Which side wins on sync.", "file_to_db", "db_to_file", "bidirectional"),
		"path":           schemaStr("Backup destination or restore source directory."),
	}, "action")
}

func (t *SyncData) Handle(ctx context.Context, call *Call, args map[string]any) (any, error) {
	action := strArg(args, "action")
	spanCtx, span := telemetry.StartSyncSpan(ctx, action, call.Namespace)
	defer span.End()

	switch action {
	case "sync":
		res, err := t.svc.Sync(spanCtx, call.Namespace, syncsvc.Direction(strArg(args, "sync_direction")))
		if err != nil {
			return nil, err
		}
		for _, w := range res.Warnings {
			call.Warn("%s", w)
		}
		return res, nil

	case "status":
		return t.svc.Status(spanCtx, call.Namespace)

	case "validate":
		issues, err := t.svc.Validate(spanCtx, call.Namespace)
		if err != nil {
			return nil, err
		}
		return map[string]any{"valid": len(issues) == 0, "issues": issues}, nil

	case "backup":
		path, err := t.svc.Backup(spanCtx, strArg(args, "path"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"backup_path": path}, nil

	case "restore":
		path, err := requireStr(args, "path")
		if err != nil {
			return nil, err
		}
		restored, err := t.svc.Restore(spanCtx, path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"restored_rows": restored}, nil
	}
	return nil, errs.Newf(errs.CodeInvalidAction, "action %q is not supported by %s", action, t.Name())
}
