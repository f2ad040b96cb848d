// Package mcpserver exposes the jive tool registry through the official MCP
// SDK: a stdio session for local agents and an SSE handler mounted under
// /mcp for HTTP clients. The WebSocket surface keeps its own JSON-RPC
// handler in internal/transport because the SDK has no WebSocket transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/metrics"
	"github.com/mcp-jive/jive/internal/namespace"
	"github.com/mcp-jive/jive/internal/protocol"
	"github.com/mcp-jive/jive/internal/telemetry"
	"github.com/mcp-jive/jive/internal/tools"
)

// Server adapts the tool registry to MCP sessions.
type Server struct {
	dispatcher *tools.Dispatcher
	defaultNS  string
	version    string
	logger     *zap.Logger
}

// New creates the MCP server surface over a tool dispatcher.
func New(dispatcher *tools.Dispatcher, defaultNS, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultNS == "" {
		defaultNS = "default"
	}
	if version == "" {
		version = "dev"
	}
	return &Server{
		dispatcher: dispatcher,
		defaultNS:  defaultNS,
		version:    version,
		logger:     logger.Named("mcp"),
	}
}

// binding carries per-session transport context into the tool handlers.
type binding struct {
	transport string
	pathNS    string
	headerNS  string
	headerSet bool
}

// build assembles one mcp.Server with every registered tool bound to the
// session's namespace context. Schemas pass through as raw JSON so the
// open-string action properties survive untouched.
func (s *Server) build(b binding) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    protocol.ServerName,
		Version: s.version,
	}, nil)

	for _, def := range s.dispatcher.Registry().Definitions() {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			s.logger.Error("unserializable tool schema", zap.String("tool", def.Name), zap.Error(err))
			continue
		}
		srv.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: json.RawMessage(schema),
		}, s.toolHandler(b, def.Name))
	}
	return srv
}

// RunStdio serves a single session over stdin/stdout until the context ends.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("stdio transport started")
	return s.build(binding{transport: "stdio"}).Run(ctx, &mcp.StdioTransport{})
}

// SSEHandler returns the HTTP handler for /mcp and /mcp/{namespace}. The
// server is built per request so each session keeps the path and header
// namespace it connected with.
func (s *Server) SSEHandler() http.Handler {
	return mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return s.build(binding{
			transport: "http",
			pathNS:    r.PathValue("namespace"),
			headerNS:  r.Header.Get(namespace.Header),
			headerSet: len(r.Header.Values(namespace.Header)) > 0,
		})
	}, nil)
}

func (s *Server) toolHandler(b binding, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		metrics.RecordRequest(b.transport, "tools/call")
		spanCtx, span := telemetry.StartRequestSpan(ctx, b.transport, "tools/call")
		defer span.End()

		args, err := decodeArguments(req.Params.Arguments)
		if err != nil {
			return envelopeResult(&tools.Envelope{
				Success: false,
				Error:   errs.AsError(errs.Validation("arguments", "must be a JSON object")),
			}), nil
		}

		meta := req.Params.GetMeta()
		metaNS, metaSet := "", false
		if v, ok := meta["namespace"]; ok {
			metaNS, _ = v.(string)
			metaSet = true
		}
		argNS, argSet := "", false
		if v, ok := args["namespace"]; ok {
			argNS, _ = v.(string)
			argSet = true
		}
		ns, err := namespace.Resolve(namespace.Sources{
			Path:       b.pathNS,
			Header:     b.headerNS,
			HeaderSet:  b.headerSet,
			Meta:       metaNS,
			MetaSet:    metaSet,
			ToolArg:    argNS,
			ToolArgSet: argSet,
			Default:    s.defaultNS,
		})
		if err != nil {
			// Namespace failures still travel inside the tool envelope.
			return envelopeResult(&tools.Envelope{
				Success: false,
				Error:   errs.AsError(err),
			}), nil
		}

		if ms, ok := meta["timeout_ms"].(float64); ok && ms > 0 {
			var cancel context.CancelFunc
			spanCtx, cancel = context.WithTimeout(spanCtx, time.Duration(ms)*time.Millisecond)
			defer cancel()
		}

		env := s.dispatcher.Dispatch(spanCtx, name, &tools.Call{Namespace: ns}, args)
		return envelopeResult(env), nil
	}
}

// decodeArguments normalizes the SDK's argument payload into the map the
// dispatcher validates against the tool schema.
func decodeArguments(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	case json.RawMessage:
		if len(t) == 0 || string(t) == "null" {
			return map[string]any{}, nil
		}
		args := map[string]any{}
		if err := json.Unmarshal(t, &args); err != nil {
			return nil, err
		}
		return args, nil
	}
	return nil, fmt.Errorf("unsupported arguments type %T", v)
}

// envelopeResult serializes the tool envelope into a text content block,
// with isError mirroring the envelope's success flag.
func envelopeResult(env *tools.Envelope) *mcp.CallToolResult {
	text, err := json.Marshal(env)
	if err != nil {
		text = []byte(`{"success":false,"error":{"code":"INTERNAL","message":"unserializable result"}}`)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		IsError: !env.Success,
	}
}
