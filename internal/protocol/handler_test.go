package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/execute"
	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/progress"
	"github.com/mcp-jive/jive/internal/search"
	"github.com/mcp-jive/jive/internal/store"
	syncsvc "github.com/mcp-jive/jive/internal/sync"
	"github.com/mcp-jive/jive/internal/tools"
	"github.com/mcp-jive/jive/internal/workitem"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	dataDir := t.TempDir()
	st, err := store.NewSQLite(dataDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	emb := embedding.NewHashEmbedder(64)
	engine := search.New(st, emb, nil)
	bus := events.NewBus(16)
	items := workitem.New(st, emb, engine, bus, nil, false)

	registry, err := tools.DefaultRegistry(tools.Deps{
		Items:    items,
		Memory:   memory.New(st, emb, engine, bus, nil),
		Exec:     execute.New(st, items, bus, nil),
		Progress: progress.New(st, items, bus, nil),
		Sync:     syncsvc.New(st, dataDir, t.TempDir(), nil),
		Search:   engine,
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewHandler(tools.NewDispatcher(registry, nil), "default", "1.0.0-test", nil)
}

func roundTrip(t *testing.T, h *Handler, frame string, binding Binding) *Response {
	t.Helper()
	raw := h.HandleMessage(context.Background(), []byte(frame), binding)
	if raw == nil {
		return nil
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("bad response frame %s: %v", raw, err)
	}
	return &resp
}

// callEnvelope unwraps a tools/call response down to the tool envelope.
func callEnvelope(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("rpc error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatal(err)
	}
	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("unexpected content: %+v", result)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].Text), &env); err != nil {
		t.Fatal(err)
	}
	return env
}

func callFrame(id int, tool string, args map[string]any) string {
	params := map[string]any{"name": tool, "arguments": args}
	frame, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": id, "method": "tools/call", "params": params,
	})
	return string(frame)
}

func TestParseError(t *testing.T) {
	h := newHandler(t)
	resp := roundTrip(t, h, "{not json", Binding{Transport: "stdio"})
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp)
	}
}

func TestInvalidRequest(t *testing.T) {
	h := newHandler(t)
	resp := roundTrip(t, h, `{"id":1,"method":"ping"}`, Binding{Transport: "stdio"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp)
	}
}

func TestMethodNotFound(t *testing.T) {
	h := newHandler(t)
	resp := roundTrip(t, h, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, Binding{Transport: "stdio"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp)
	}
}

func TestInitializeHandshake(t *testing.T) {
	h := newHandler(t)
	resp := roundTrip(t, h,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}}}`,
		Binding{Transport: "stdio"})
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatal(err)
	}
	if result.ProtocolVersion != "2024-11-05" || result.ServerInfo.Name != ServerName {
		t.Fatalf("bad handshake: %+v", result)
	}
	if result.Capabilities.Tools.ListChanged {
		t.Fatal("listChanged should be false")
	}
}

func TestInitializeUnsupportedVersionFallsBack(t *testing.T) {
	h := newHandler(t)
	resp := roundTrip(t, h,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`,
		Binding{Transport: "stdio"})
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatal(err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Fatalf("unsupported revision must not be echoed: %+v", result)
	}
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	h := newHandler(t)
	if out := h.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), Binding{Transport: "stdio"}); out != nil {
		t.Fatalf("notification should return nil, got %s", out)
	}
	// Notification form of a normal method is also silent.
	if out := h.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"ping"}`), Binding{Transport: "stdio"}); out != nil {
		t.Fatalf("id-less ping should return nil, got %s", out)
	}
}

func TestToolsList(t *testing.T) {
	h := newHandler(t)
	resp := roundTrip(t, h, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`, Binding{Transport: "http"})
	raw, _ := json.Marshal(resp.Result)
	var result struct {
		Tools []tools.Definition `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Tools) != 8 {
		t.Fatalf("expected 8 tools, got %d", len(result.Tools))
	}
	for _, def := range result.Tools {
		if def.InputSchema["type"] != "object" {
			t.Fatalf("bad schema for %s", def.Name)
		}
	}
}

func TestToolsCallCreatesItem(t *testing.T) {
	h := newHandler(t)
	resp := roundTrip(t, h, callFrame(7, "jive_manage_work_item", map[string]any{
		"action": "create", "item_type": "task", "title": "wire transport",
	}), Binding{Transport: "stdio"})
	env := callEnvelope(t, resp)
	if env["success"] != true {
		t.Fatalf("call failed: %+v", env)
	}
	meta := env["metadata"].(map[string]any)
	if meta["namespace"] != "default" {
		t.Fatalf("metadata namespace wrong: %+v", meta)
	}
}

func TestNamespacePriorityPathWins(t *testing.T) {
	h := newHandler(t)
	resp := roundTrip(t, h, callFrame(1, "jive_manage_work_item", map[string]any{
		"action": "create", "item_type": "task", "title": "scoped", "namespace": "team-b",
	}), Binding{Transport: "http", PathNamespace: "team-a", HeaderNamespace: "team-c"})
	env := callEnvelope(t, resp)
	if env["success"] != true {
		t.Fatalf("create failed: %+v", env)
	}
	if env["metadata"].(map[string]any)["namespace"] != "team-a" {
		t.Fatalf("path namespace should win: %+v", env["metadata"])
	}

	// The item is invisible from the argument namespace.
	miss := callEnvelope(t, roundTrip(t, h, callFrame(2, "jive_get_work_item", map[string]any{
		"work_item_id": "scoped", "namespace": "team-b",
	}), Binding{Transport: "http"}))
	if miss["success"] != false {
		t.Fatalf("expected miss in team-b: %+v", miss)
	}
}

func TestInvalidNamespaceStaysInEnvelope(t *testing.T) {
	h := newHandler(t)
	resp := roundTrip(t, h, callFrame(1, "jive_get_work_item", map[string]any{
		"work_item_id": "x", "namespace": "bad namespace!",
	}), Binding{Transport: "stdio"})
	env := callEnvelope(t, resp)
	errObj := env["error"].(map[string]any)
	if errObj["code"] != "INVALID_NAMESPACE" {
		t.Fatalf("expected INVALID_NAMESPACE, got %+v", env)
	}
}

func TestExplicitEmptyNamespaceRejected(t *testing.T) {
	h := newHandler(t)

	// Empty namespace argument is an error, not a fallthrough to default.
	resp := roundTrip(t, h, callFrame(1, "jive_get_work_item", map[string]any{
		"work_item_id": "x", "namespace": "",
	}), Binding{Transport: "stdio"})
	env := callEnvelope(t, resp)
	errObj := env["error"].(map[string]any)
	if errObj["code"] != "INVALID_NAMESPACE" {
		t.Fatalf("expected INVALID_NAMESPACE for empty argument, got %+v", env)
	}

	// Same for an empty X-Namespace header that was actually sent.
	resp = roundTrip(t, h, callFrame(2, "jive_get_work_item", map[string]any{
		"work_item_id": "x",
	}), Binding{Transport: "http", HeaderSet: true})
	env = callEnvelope(t, resp)
	errObj = env["error"].(map[string]any)
	if errObj["code"] != "INVALID_NAMESPACE" {
		t.Fatalf("expected INVALID_NAMESPACE for empty header, got %+v", env)
	}

	// And for _meta.namespace set to the empty string.
	frame := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"jive_get_work_item","arguments":{"work_item_id":"x"},"_meta":{"namespace":""}}}`
	env = callEnvelope(t, roundTrip(t, h, frame, Binding{Transport: "stdio"}))
	errObj = env["error"].(map[string]any)
	if errObj["code"] != "INVALID_NAMESPACE" {
		t.Fatalf("expected INVALID_NAMESPACE for empty meta, got %+v", env)
	}
}

func TestCallTimeout(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(&slowTool{}); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(tools.NewDispatcher(registry, nil), "default", "test", nil)

	frame := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"jive_slow","arguments":{},"timeout_ms":10}}`
	resp := roundTrip(t, h, frame, Binding{Transport: "stdio"})
	env := callEnvelope(t, resp)
	errObj := env["error"].(map[string]any)
	if errObj["code"] != "TIMEOUT" {
		t.Fatalf("expected TIMEOUT, got %+v", env)
	}
}

type slowTool struct{}

func (s *slowTool) Name() string        { return "jive_slow" }
func (s *slowTool) Description() string { return "waits for the context" }
func (s *slowTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
}
func (s *slowTool) Handle(ctx context.Context, _ *tools.Call, _ map[string]any) (any, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("tool interrupted: %w", ctx.Err())
}
