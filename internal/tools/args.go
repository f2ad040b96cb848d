package tools

import (
	"strings"

	"github.com/mcp-jive/jive/internal/errs"
)

// Argument extraction helpers. Schema validation has already run, so these
// only need to cope with absent keys and JSON's number decoding.

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func requireStr(args map[string]any, key string) (string, error) {
	s, ok := args[key].(string)
	if !ok || s == "" {
		return "", errs.Validation(key, "is required")
	}
	return s, nil
}

func strPtrArg(args map[string]any, key string) *string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return &s
		}
	}
	return nil
}

func has(args map[string]any, key string) bool {
	_, ok := args[key]
	return ok
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func intArg(args map[string]any, key string, def int) int {
	if f, ok := floatArg(args, key); ok {
		return int(f)
	}
	return def
}

// limitArg reads an optional result-count limit. Absent means "engine
// default" (returned as 0); zero or negative is rejected; above max is
// clamped with a warning on the call.
func limitArg(call *Call, args map[string]any, max int) (int, error) {
	f, ok := floatArg(args, "limit")
	if !ok {
		return 0, nil
	}
	limit := int(f)
	if limit <= 0 {
		return 0, errs.Validation("limit", "must be at least 1")
	}
	if limit > max {
		call.Warn("limit %d exceeds maximum, clamped to %d", limit, max)
		limit = max
	}
	return limit, nil
}

func floatArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func floatPtrArg(args map[string]any, key string) *float64 {
	if f, ok := floatArg(args, key); ok {
		return &f
	}
	return nil
}

func strsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// JSON Schema builders. Every tool schema is a closed object.

func schemaObject(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func schemaStr(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func schemaEnum(desc string, values ...string) map[string]any {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return map[string]any{"type": "string", "description": desc, "enum": vals}
}

func schemaNum(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func schemaInt(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func schemaBool(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func schemaStrs(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": desc,
		"items":       map[string]any{"type": "string"},
	}
}

// namespaceProp is shared by every tool: the per-call namespace override.
func namespaceProp() map[string]any {
	return schemaStr("Tenant namespace override for this call.")
}

// schemaAction deliberately stays an open string: unknown actions reach the
// handler and come back as INVALID_ACTION rather than a schema error.
func schemaAction(actions ...string) map[string]any {
	return schemaStr("Operation to perform: " + strings.Join(actions, ", ") + ".")
}
