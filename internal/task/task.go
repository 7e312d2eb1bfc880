// Package task implements the task-execution registry shared by the MCP
// and A2A session layers and by MAOF: task id, parent session, type,
// parameters, monotone progress, result/error, cancellation, and
// timestamps — grounded on the teacher's pkg/task.Task state machine and
// InMemoryService, generalized from its A2A-only HITL state machine to
// the spec's simpler pending/running/completed/failed/cancelled set and
// its progress-fraction + cooperative-cancellation contract.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heavyforge/heavyforge/internal/clock"
	"github.com/heavyforge/heavyforge/internal/errs"
)

// Type tags what kind of operation a task records.
type Type string

const (
	TypeMCPTool  Type = "mcp-tool"
	TypeA2ATask  Type = "a2a-task"
	TypeWorkflow Type = "workflow"
)

// Status is the task-execution state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is one task-execution record.
type Task struct {
	ID             string
	ParentSession  string
	Type           Type
	Name           string
	Params         map[string]any
	Cancellable    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time

	mu       sync.Mutex
	status   Status
	progress float64
	stage    string
	result   any
	errMsg   string

	cancel context.CancelFunc
}

// Status returns the current status (thread-safe).
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the current progress fraction and stage label.
func (t *Task) Progress() (float64, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress, t.stage
}

// Result returns the completed result, if any.
func (t *Task) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Error returns the failure message, if any.
func (t *Task) Error() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// Registry is the process-wide task-execution store. It exposes only
// transactional operations; callers never see its internal map.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	clock clock.Clock
}

// NewRegistry builds an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task), clock: clock.System}
}

// Create registers a new task in StatusPending, bound to a child context
// of parent so Cancel can deliver a cancellation signal cooperatively.
func (r *Registry) Create(parent context.Context, parentSession string, typ Type, name string, params map[string]any, cancellable bool) (*Task, context.Context) {
	now := r.clock.Now()
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		ID:            uuid.New().String(),
		ParentSession: parentSession,
		Type:          typ,
		Name:          name,
		Params:        params,
		Cancellable:   cancellable,
		CreatedAt:     now,
		UpdatedAt:     now,
		status:        StatusPending,
		cancel:        cancel,
	}
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
	return t, ctx
}

// Get returns the task registered under id.
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List returns every task for a parent session.
func (r *Registry) List(parentSession string) []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Task
	for _, t := range r.tasks {
		if t.ParentSession == parentSession {
			out = append(out, t)
		}
	}
	return out
}

// UpdateProgress sets fraction (clamped to at most 1) and stage, and
// transitions pending -> running. An update whose fraction is below the
// current progress is ignored entirely, stage included, so progress never
// moves backward (spec's monotonicity invariant).
func (r *Registry) UpdateProgress(id string, fraction float64, stage string) error {
	t, ok := r.Get(id)
	if !ok {
		return errs.New(errs.NotFound, "task: unknown task "+id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return nil
	}
	if fraction < t.progress {
		return nil
	}
	if t.status == StatusPending {
		t.status = StatusRunning
	}
	if fraction > t.progress {
		t.progress = fraction
	}
	if fraction > 1 {
		t.progress = 1
	}
	t.stage = stage
	t.UpdatedAt = r.clock.Now()
	return nil
}

// Complete marks id completed with result, unless it is already terminal
// (a task cancelled moments earlier must not flip back to completed).
func (r *Registry) Complete(id string, result any) error {
	t, ok := r.Get(id)
	if !ok {
		return errs.New(errs.NotFound, "task: unknown task "+id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return nil
	}
	t.status = StatusCompleted
	t.progress = 1
	t.result = result
	t.UpdatedAt = r.clock.Now()
	return nil
}

// Fail marks id failed with err.
func (r *Registry) Fail(id string, err error) error {
	t, ok := r.Get(id)
	if !ok {
		return errs.New(errs.NotFound, "task: unknown task "+id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return nil
	}
	t.status = StatusFailed
	if err != nil {
		t.errMsg = err.Error()
	}
	t.UpdatedAt = r.clock.Now()
	return nil
}

// Cancel transitions id to cancelled and delivers the cancellation signal
// to its context, if it is still pending or running and cancellable.
// Idempotent: a second Cancel call on an already-cancelled task is a
// no-op that does not emit a second transition event.
func (r *Registry) Cancel(id string, reason string) error {
	t, ok := r.Get(id)
	if !ok {
		return errs.New(errs.NotFound, "task: unknown task "+id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return nil
	}
	if !t.Cancellable {
		return errs.New(errs.Conflict, "task: "+id+" is not cancellable")
	}
	t.status = StatusCancelled
	t.errMsg = reason
	t.UpdatedAt = r.clock.Now()
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}
