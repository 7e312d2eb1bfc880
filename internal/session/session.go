// Package session implements MCP and A2A session bookkeeping: creation
// with capability negotiation, activity tracking, a janitor that closes
// idle sessions, and (for A2A) live stream attach/detach and skill
// negotiation — grounded on the teacher's pkg/session in-memory Service
// shape (session keyed by id, RWMutex-guarded map, last-activity
// timestamp) generalized from its app/user-scoped conversation sessions
// to the spec's protocol-handshake sessions.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heavyforge/heavyforge/internal/clock"
	"github.com/heavyforge/heavyforge/internal/errs"
	"github.com/heavyforge/heavyforge/internal/protocol"
)

// MCPSession is one negotiated MCP client<->server session.
type MCPSession struct {
	ID                string
	ClientInfo        protocol.ClientInfo
	ProtocolVersion   string
	ClientCapabilities map[string]bool
	ServerCapabilities map[string]bool
	CreatedAt         time.Time
	LastActivity      time.Time
	ExpiresAt         *time.Time
	Active            bool
}

// A2ASession additionally holds the peer agent's declared identity and
// capabilities, and a live stream attachment flag.
type A2ASession struct {
	ID                 string
	AgentID            string
	AgentCapabilities  []string
	ProtocolVersion    string
	CreatedAt          time.Time
	LastActivity       time.Time
	ExpiresAt          *time.Time
	Active             bool
	StreamAttached     bool
}

// Stream is the live bi-directional channel an A2A session attaches, a
// channel of frames closed by the producer when done or cancelled; the
// consumer treats a closed channel as end-of-stream.
type Stream chan protocol.A2AFrame

// Registry is the process-wide MCP+A2A session store. It exposes only
// transactional operations; callers never see its internal maps.
type Registry struct {
	mu      sync.RWMutex
	mcp     map[string]*MCPSession
	a2a     map[string]*A2ASession
	streams map[string]Stream

	timeout time.Duration
	clock   clock.Clock
}

// NewRegistry builds an empty registry. timeout is the janitor's idle
// threshold (SESSION_TIMEOUT_MINUTES).
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		mcp:     make(map[string]*MCPSession),
		a2a:     make(map[string]*A2ASession),
		streams: make(map[string]Stream),
		timeout: timeout,
		clock:   clock.System,
	}
}

// CreateMCP negotiates server capabilities against the client's declared
// set and registers a new session.
func (r *Registry) CreateMCP(clientInfo protocol.ClientInfo, clientCaps map[string]bool) *MCPSession {
	now := r.clock.Now()
	s := &MCPSession{
		ID:                 uuid.New().String(),
		ClientInfo:         clientInfo,
		ProtocolVersion:    protocol.ProtocolVersion,
		ClientCapabilities: clientCaps,
		ServerCapabilities: protocol.NegotiateCapabilities(clientCaps),
		CreatedAt:          now,
		LastActivity:       now,
		Active:             true,
	}
	r.mu.Lock()
	r.mcp[s.ID] = s
	r.mu.Unlock()
	return s
}

// GetMCP returns the MCP session registered under id.
func (r *Registry) GetMCP(id string) (*MCPSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.mcp[id]
	return s, ok
}

// TouchMCP refreshes last-activity for id.
func (r *Registry) TouchMCP(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.mcp[id]
	if !ok {
		return errs.New(errs.NotFound, "session: unknown mcp session "+id)
	}
	s.LastActivity = r.clock.Now()
	return nil
}

// CloseMCP marks id inactive.
func (r *Registry) CloseMCP(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.mcp[id]
	if !ok {
		return errs.New(errs.NotFound, "session: unknown mcp session "+id)
	}
	s.Active = false
	return nil
}

// CreateA2A registers a new A2A session for agentID with its declared
// capabilities.
func (r *Registry) CreateA2A(agentID string, caps []string) *A2ASession {
	now := r.clock.Now()
	s := &A2ASession{
		ID:                uuid.New().String(),
		AgentID:           agentID,
		AgentCapabilities: caps,
		ProtocolVersion:   protocol.ProtocolVersion,
		CreatedAt:         now,
		LastActivity:      now,
		Active:            true,
	}
	r.mu.Lock()
	r.a2a[s.ID] = s
	r.mu.Unlock()
	return s
}

// GetA2A returns the A2A session registered under id.
func (r *Registry) GetA2A(id string) (*A2ASession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.a2a[id]
	return s, ok
}

// TouchA2A refreshes last-activity for id.
func (r *Registry) TouchA2A(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.a2a[id]
	if !ok {
		return errs.New(errs.NotFound, "session: unknown a2a session "+id)
	}
	s.LastActivity = r.clock.Now()
	return nil
}

// CloseA2A marks id inactive and detaches any live stream.
func (r *Registry) CloseA2A(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.a2a[id]
	if !ok {
		return errs.New(errs.NotFound, "session: unknown a2a session "+id)
	}
	s.Active = false
	s.StreamAttached = false
	if st, ok := r.streams[id]; ok {
		close(st)
		delete(r.streams, id)
	}
	return nil
}

// AttachStream registers a live channel for id, used to deliver and
// receive A2AFrame messages for the session's duration.
func (r *Registry) AttachStream(id string, bufSize int) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.a2a[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "session: unknown a2a session "+id)
	}
	st := make(Stream, bufSize)
	r.streams[id] = st
	s.StreamAttached = true
	return st, nil
}

// DetachStream unregisters and closes the live channel for id.
func (r *Registry) DetachStream(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.a2a[id]
	if !ok {
		return errs.New(errs.NotFound, "session: unknown a2a session "+id)
	}
	if st, ok := r.streams[id]; ok {
		close(st)
		delete(r.streams, id)
	}
	s.StreamAttached = false
	return nil
}

// Deliver sends frame on id's attached stream, rejecting unknown frame
// kinds with VALIDATION per spec §4.6.
func (r *Registry) Deliver(id string, frame protocol.A2AFrame) error {
	if !protocol.IsKnownA2AKind(string(frame.Kind)) {
		return errs.New(errs.Validation, "session: unknown frame kind "+string(frame.Kind))
	}
	r.mu.RLock()
	st, ok := r.streams[id]
	r.mu.RUnlock()
	if !ok {
		return errs.New(errs.NotFound, "session: no stream attached for "+id)
	}
	st <- frame
	return nil
}

// Negotiate accepts a skill request iff requestedSkills is a subset of
// the A2A session's declared agent capabilities.
func (r *Registry) Negotiate(id string, req protocol.NegotiationRequest, plan *protocol.NegotiationPlan) (protocol.NegotiationResponse, error) {
	s, ok := r.GetA2A(id)
	if !ok {
		return protocol.NegotiationResponse{}, errs.New(errs.NotFound, "session: unknown a2a session "+id)
	}
	have := make(map[string]bool, len(s.AgentCapabilities))
	for _, c := range s.AgentCapabilities {
		have[c] = true
	}
	for _, want := range req.RequestedSkills {
		if !have[want] {
			return protocol.NegotiationResponse{Accepted: false, Reason: "missing skill: " + want}, nil
		}
	}
	return protocol.NegotiationResponse{Accepted: true, Plan: plan}, nil
}

// SweepIdle closes every session (MCP and A2A) whose last-activity is
// older than the registry's configured timeout, or whose ExpiresAt has
// passed. Returns the ids closed. Intended to be called periodically by
// a janitor goroutine.
func (r *Registry) SweepIdle() []string {
	if r.timeout <= 0 {
		return nil
	}
	now := r.clock.Now()
	var closed []string

	r.mu.Lock()
	for id, s := range r.mcp {
		if !s.Active {
			continue
		}
		if now.Sub(s.LastActivity) > r.timeout || (s.ExpiresAt != nil && now.After(*s.ExpiresAt)) {
			s.Active = false
			closed = append(closed, id)
		}
	}
	for id, s := range r.a2a {
		if !s.Active {
			continue
		}
		if now.Sub(s.LastActivity) > r.timeout || (s.ExpiresAt != nil && now.After(*s.ExpiresAt)) {
			s.Active = false
			s.StreamAttached = false
			if st, ok := r.streams[id]; ok {
				close(st)
				delete(r.streams, id)
			}
			closed = append(closed, id)
		}
	}
	r.mu.Unlock()
	return closed
}

// RunJanitor sweeps idle sessions every interval until stop is closed.
func (r *Registry) RunJanitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.SweepIdle()
		case <-stop:
			return
		}
	}
}
