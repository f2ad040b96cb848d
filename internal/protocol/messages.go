// Package protocol implements the MCP JSON-RPC 2.0 surface: message
// framing, the initialize handshake, tool listing and tool calls. Transports
// hand raw frames to the handler and write back whatever it returns.
package protocol

import "encoding/json"

// Version is the JSON-RPC protocol version marker.
const Version = "2.0"

// ProtocolVersion is the newest MCP protocol revision this server speaks.
const ProtocolVersion = "2024-11-05"

// supportedProtocolVersions are the revisions initialize will echo back.
var supportedProtocolVersions = map[string]bool{
	ProtocolVersion: true,
}

// ServerName identifies this server in the initialize handshake.
const ServerName = "mcp-jive"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is one incoming JSON-RPC message. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification reports whether the request expects no response.
func (r *Request) Notification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is one outgoing JSON-RPC message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// InitializeParams is the client half of the handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      *PeerInfo      `json:"clientInfo,omitempty"`
}

// InitializeResult is the server half of the handshake.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      PeerInfo     `json:"serverInfo"`
}

// Capabilities advertises what the server supports.
type Capabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// ToolsCapability describes the tools surface.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// PeerInfo names one side of the handshake.
type PeerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CallParams are the tools/call parameters.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Meta      *CallMeta      `json:"_meta,omitempty"`
	TimeoutMs int            `json:"timeout_ms,omitempty"`
}

// CallMeta is the request metadata block. Namespace is a pointer so an
// explicitly empty value stays distinguishable from an absent one.
type CallMeta struct {
	Namespace *string `json:"namespace,omitempty"`
}

// ToolContent is one content block in a tools/call result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the tools/call result: the envelope serialized as a text
// content block, with isError mirroring the envelope's success flag.
type CallResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}
