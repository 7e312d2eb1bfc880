// Package agent composes the Model Integration Layer and the Dynamic
// Intelligence Engine into the single object every orchestration layer
// (Heavy-Analysis, MAOF) drives: a named role with its own memory, its own
// default template, and one path to Generate a response.
package agent

import (
	"context"

	"github.com/heavyforge/heavyforge/internal/die"
	"github.com/heavyforge/heavyforge/internal/mil"
)

// Status is the agent's lifecycle state as seen by an orchestrator.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Agent is a thin composition of DIE (prompt + memory) and MIL (model
// dispatch): it owns no orchestration logic of its own.
type Agent struct {
	ID       string
	Role     string
	Gateway  *mil.Gateway
	Memory   *die.ContextualMemory
	Template string
	Policy   mil.RoutingPolicy

	status      Status
	callCount   int
	totalTokens int
	totalCostUSD float64
}

// New builds an Agent. gateway must be non-nil; memory defaults to a
// fresh ContextualMemory if nil.
func New(id, role string, gateway *mil.Gateway, memory *die.ContextualMemory) *Agent {
	if memory == nil {
		memory = die.NewContextualMemory()
	}
	return &Agent{
		ID:      id,
		Role:    role,
		Gateway: gateway,
		Memory:  memory,
		status:  StatusIdle,
	}
}

// Status returns the agent's current lifecycle state.
func (a *Agent) Status() Status { return a.status }

// Counters returns the running totals of calls, tokens, and cost this
// agent has accumulated across its lifetime.
func (a *Agent) Counters() (calls int, tokens int, costUSD float64) {
	return a.callCount, a.totalTokens, a.totalCostUSD
}

// Generate runs one LLM call for this agent: it marks the agent running,
// dispatches through the gateway, folds the prompt and response into
// memory, updates counters, and marks the agent done or failed.
func (a *Agent) Generate(ctx context.Context, req mil.Request) (mil.Response, error) {
	a.status = StatusRunning
	if req.Policy == nil {
		req.Policy = &a.Policy
	}
	if req.TaskType == "" {
		req.TaskType = a.Role
	}

	resp, err := a.Gateway.Generate(ctx, req)
	if err != nil {
		a.status = StatusFailed
		return mil.Response{}, err
	}

	a.callCount++
	a.totalTokens += resp.TotalTokens()
	a.totalCostUSD += resp.CostUSD
	a.Memory.UpdateContext(map[string]any{
		"last_prompt":   req.Prompt,
		"last_response": resp.Content,
	})
	a.status = StatusDone
	return resp, nil
}
