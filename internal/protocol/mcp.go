// Package protocol defines the wire-level message types for the two
// external protocols this runtime bookkeeps sessions for: MCP
// (model-context-protocol, client<->server tool/resource exposure) and
// A2A (agent-to-agent handshake plus streaming tasks). These are plain
// JSON-tagged structs, not a running server — grounded on the shape of
// the teacher's pkg/protocol and pkg/a2a wire types, hand-rolled rather
// than imported from mark3labs/mcp-go or a2aproject/a2a-go because the
// spec asks only for wire-compatible bookkeeping, not a protocol runtime
// (see DESIGN.md for the dropped-dependency justification).
package protocol

// ProtocolVersion is the MCP protocolVersion string this runtime
// negotiates, a date-formatted identifier per the published MCP spec.
const ProtocolVersion = "2025-03-26"

// MCPInitializeRequest is the client's opening handshake message.
type MCPInitializeRequest struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]bool `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// ClientInfo identifies the connecting MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies this runtime to the connecting client.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPInitializeResponse is the server's handshake reply: negotiated
// capabilities (intersection of client-declared and server-supported),
// server identity, and a generated session id.
type MCPInitializeResponse struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]bool `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	SessionID       string         `json:"sessionId"`
}

// FrameKind tags a streaming tool-response frame.
type FrameKind string

const (
	FrameProgress FrameKind = "progress"
	FramePartial  FrameKind = "partial"
	FrameFinal    FrameKind = "final"
	FrameError    FrameKind = "error"
)

// Frame is one message in an MCP streaming tool-response sequence,
// terminated by a FrameFinal or FrameError.
type Frame struct {
	Kind    FrameKind `json:"kind"`
	Payload any       `json:"payload"`
}

// IsTerminal reports whether this frame ends a stream.
func (f Frame) IsTerminal() bool {
	return f.Kind == FrameFinal || f.Kind == FrameError
}

// ServerFeatureSet is the statically declared set of MCP features this
// runtime supports; NegotiateCapabilities intersects it with the
// client-declared set and then adds MandatoryFeatures.
var ServerFeatureSet = map[string]bool{
	"tools":     true,
	"resources": true,
	"prompts":   true,
	"logging":   true,
}

// MandatoryFeatures are always present in negotiated server capabilities
// regardless of what the client declared.
var MandatoryFeatures = map[string]bool{
	"tools": true,
}

// NegotiateCapabilities computes server_caps = intersection(client_caps,
// ServerFeatureSet) union MandatoryFeatures.
func NegotiateCapabilities(clientCaps map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range MandatoryFeatures {
		out[k] = true
	}
	for k, v := range clientCaps {
		if v && ServerFeatureSet[k] {
			out[k] = true
		}
	}
	return out
}
