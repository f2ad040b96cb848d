package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/metrics"
	"github.com/mcp-jive/jive/internal/namespace"
	"github.com/mcp-jive/jive/internal/telemetry"
	"github.com/mcp-jive/jive/internal/tools"
)

// Binding carries transport-level request context into the handler.
type Binding struct {
	// Transport names the carrying transport (stdio, http, websocket).
	Transport string
	// PathNamespace is the /mcp/{namespace} or /ws/{namespace} segment.
	PathNamespace string
	// HeaderNamespace is the X-Namespace header value; HeaderSet records
	// whether the header was present at all, so an explicit empty value
	// is rejected rather than falling through to the default.
	HeaderNamespace string
	HeaderSet       bool
}

// Handler turns raw JSON-RPC frames into tool dispatches.
type Handler struct {
	dispatcher *tools.Dispatcher
	defaultNS  string
	version    string
	logger     *zap.Logger
}

// NewHandler creates a protocol handler.
func NewHandler(dispatcher *tools.Dispatcher, defaultNS, version string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultNS == "" {
		defaultNS = "default"
	}
	return &Handler{
		dispatcher: dispatcher,
		defaultNS:  defaultNS,
		version:    version,
		logger:     logger.Named("protocol"),
	}
}

// Tools returns the registered tool definitions.
func (h *Handler) Tools() []tools.Definition {
	return h.dispatcher.Registry().Definitions()
}

// HandleMessage processes one frame and returns the response bytes, or nil
// when the frame is a notification.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte, binding Binding) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshal(errorResponse(nil, CodeParseError, "parse error: "+err.Error()))
	}
	if req.JSONRPC != Version || req.Method == "" {
		return marshal(errorResponse(req.ID, CodeInvalidRequest, "not a JSON-RPC 2.0 request"))
	}

	metrics.RecordRequest(binding.Transport, req.Method)
	spanCtx, span := telemetry.StartRequestSpan(ctx, binding.Transport, req.Method)
	defer span.End()

	resp := h.route(spanCtx, &req, binding)
	if req.Notification() {
		return nil
	}
	if resp == nil {
		return nil
	}
	return marshal(resp)
}

func (h *Handler) route(ctx context.Context, req *Request, binding Binding) *Response {
	switch req.Method {
	case "initialize":
		return h.initialize(req)
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, map[string]any{"tools": h.dispatcher.Registry().Definitions()})
	case "tools/call":
		return h.call(ctx, req, binding)
	case "shutdown":
		return result(req.ID, map[string]any{})
	}
	return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
}

func (h *Handler) initialize(req *Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid initialize params: "+err.Error())
		}
	}
	// Echo the client's revision only when we actually speak it; otherwise
	// answer with ours and let the client decide whether to proceed.
	protocolVersion := ProtocolVersion
	if supportedProtocolVersions[params.ProtocolVersion] {
		protocolVersion = params.ProtocolVersion
	}
	if params.ClientInfo != nil {
		h.logger.Info("client connected",
			zap.String("client", params.ClientInfo.Name),
			zap.String("client_version", params.ClientInfo.Version),
			zap.String("protocol_version", protocolVersion))
	}
	return result(req.ID, InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    Capabilities{Tools: ToolsCapability{ListChanged: false}},
		ServerInfo:      PeerInfo{Name: ServerName, Version: h.version},
	})
}

func (h *Handler) call(ctx context.Context, req *Request, binding Binding) *Response {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "tool name is required")
	}
	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}

	metaNS, metaSet := "", false
	if params.Meta != nil && params.Meta.Namespace != nil {
		metaNS, metaSet = *params.Meta.Namespace, true
	}
	argNS, argSet := "", false
	if v, ok := args["namespace"]; ok {
		argNS, _ = v.(string)
		argSet = true
	}
	ns, err := namespace.Resolve(namespace.Sources{
		Path:       binding.PathNamespace,
		Header:     binding.HeaderNamespace,
		HeaderSet:  binding.HeaderSet,
		Meta:       metaNS,
		MetaSet:    metaSet,
		ToolArg:    argNS,
		ToolArgSet: argSet,
		Default:    h.defaultNS,
	})
	if err != nil {
		// Namespace failures still travel inside the tool envelope.
		return result(req.ID, envelopeResult(&tools.Envelope{
			Success: false,
			Error:   errs.AsError(err),
		}))
	}

	if params.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	call := &tools.Call{Namespace: ns, RequestID: string(req.ID)}
	env := h.dispatcher.Dispatch(ctx, params.Name, call, args)
	return result(req.ID, envelopeResult(env))
}

// envelopeResult serializes the tool envelope into an MCP text content
// block.
func envelopeResult(env *tools.Envelope) CallResult {
	text, err := json.Marshal(env)
	if err != nil {
		text = []byte(`{"success":false,"error":{"code":"INTERNAL","message":"unserializable result"}}`)
	}
	return CallResult{
		Content: []ToolContent{{Type: "text", Text: string(text)}},
		IsError: !env.Success,
	}
}

func result(id json.RawMessage, v any) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Result: v}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Error: &RPCError{Code: code, Message: message}}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func marshal(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"unserializable response"}}`)
	}
	return data
}
