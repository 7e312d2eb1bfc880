package protocol

import "time"

// A2AHandshakeRequest is the peer's opening message declaring its
// identity and capability set.
type A2AHandshakeRequest struct {
	AgentID         string   `json:"agent_id"`
	AgentName       string   `json:"agent_name"`
	Capabilities    []string `json:"capabilities"`
	ProtocolVersion string   `json:"protocol_version"`
}

// A2AHandshakeResponse is this runtime's reply: a generated session id,
// the server's own declared capability set, and an expiry.
type A2AHandshakeResponse struct {
	SessionID          string    `json:"session_id"`
	ServerCapabilities []string  `json:"server_capabilities"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// A2AFrameKind tags one message on an attached A2A stream.
type A2AFrameKind string

const (
	A2AKindHandshake    A2AFrameKind = "handshake"
	A2AKindNegotiate    A2AFrameKind = "negotiate"
	A2AKindTaskStart    A2AFrameKind = "task_start"
	A2AKindTaskProgress A2AFrameKind = "task_progress"
	A2AKindTaskResult   A2AFrameKind = "task_result"
	A2AKindCancel       A2AFrameKind = "cancel"
	A2AKindPing         A2AFrameKind = "ping"
	A2AKindPong         A2AFrameKind = "pong"
)

// knownA2AKinds is the closed set of frame kinds this runtime delivers.
// Anything else fails negotiation with VALIDATION per spec §4.6.
var knownA2AKinds = map[A2AFrameKind]bool{
	A2AKindHandshake: true, A2AKindNegotiate: true, A2AKindTaskStart: true,
	A2AKindTaskProgress: true, A2AKindTaskResult: true, A2AKindCancel: true,
	A2AKindPing: true, A2AKindPong: true,
}

// IsKnownA2AKind reports whether kind is a recognized A2A frame kind.
func IsKnownA2AKind(kind string) bool {
	return knownA2AKinds[A2AFrameKind(kind)]
}

// A2AFrame is one JSON document on an attached stream, tagged by kind.
type A2AFrame struct {
	Kind    A2AFrameKind `json:"kind"`
	Payload any          `json:"payload"`
}

// NegotiationRequest is a request to use a set of skills for a task.
type NegotiationRequest struct {
	RequestedSkills []string `json:"requested_skills"`
	Task            string   `json:"task"`
}

// NegotiationPlan accompanies an accepted negotiation.
type NegotiationPlan struct {
	EstimatedDuration time.Duration `json:"estimated_duration"`
	EstimatedCostUSD  float64       `json:"estimated_cost_usd"`
}

// NegotiationResponse is the outcome of a negotiate call.
type NegotiationResponse struct {
	Accepted bool             `json:"accepted"`
	Reason   string           `json:"reason,omitempty"`
	Plan     *NegotiationPlan `json:"plan,omitempty"`
}
