// Package heavy implements the Heavy-Analysis Orchestrator: it turns one
// user query into N parallel agent perspectives and synthesizes their
// results, the way a "deep research" ensemble would.
package heavy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heavyforge/heavyforge/internal/mil"
)

// WorkerState is the lifecycle of one fan-out worker.
type WorkerState string

const (
	WorkerQueued     WorkerState = "QUEUED"
	WorkerProcessing WorkerState = "PROCESSING"
	WorkerCompleted  WorkerState = "COMPLETED"
	WorkerFailed     WorkerState = "FAILED"
	WorkerCancelled  WorkerState = "CANCELLED"
)

// DefaultNumAgents is the default fan-out width when the caller doesn't
// specify one.
const DefaultNumAgents = 4

// DefaultTotalTimeout is T_total, the global wall-clock deadline.
const DefaultTotalTimeout = 300 * time.Second

// ProgressUpdate is one totally-ordered, monotone-in-time observation of a
// worker's state.
type ProgressUpdate struct {
	WorkerIndex int
	State       WorkerState
	Stage       string
	At          time.Time
}

// Progress tracks per-worker state and the ordered log of updates an
// external observer can replay.
type Progress struct {
	mu      sync.Mutex
	numAgents int
	states  []WorkerState
	stages  []string
	results []string
	log     []ProgressUpdate
	startedAt time.Time
}

// NewProgress initializes every worker as QUEUED.
func NewProgress(numAgents int) *Progress {
	p := &Progress{
		numAgents: numAgents,
		states:    make([]WorkerState, numAgents),
		stages:    make([]string, numAgents),
		results:   make([]string, numAgents),
		startedAt: time.Now(),
	}
	for i := range p.states {
		p.states[i] = WorkerQueued
	}
	return p
}

// Update records a new state for worker i, appending to the ordered log.
func (p *Progress) Update(i int, state WorkerState, stage string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[i] = state
	p.stages[i] = stage
	p.log = append(p.log, ProgressUpdate{WorkerIndex: i, State: state, Stage: stage, At: time.Now()})
}

// SetResult records worker i's textual result (used on completion).
func (p *Progress) SetResult(i int, result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[i] = result
}

// Snapshot returns the current state of every worker.
func (p *Progress) Snapshot() []WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerState, len(p.states))
	copy(out, p.states)
	return out
}

// Log returns the full ordered update history.
func (p *Progress) Log() []ProgressUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProgressUpdate, len(p.log))
	copy(out, p.log)
	return out
}

// Elapsed returns wall-clock time since the progress tracker started.
func (p *Progress) Elapsed() time.Duration {
	return time.Since(p.startedAt)
}

// WorkerResult is one fan-out worker's outcome.
type WorkerResult struct {
	Index         int
	SubQuery      string
	Status        string // "success" or "error"
	Response      string
	ExecutionTime time.Duration
	TokensUsed    int
	CostUSD       float64
	ModelUsed     string
	Provider      string
	FailureReason string
}

// Orchestrator runs the decompose/fan-out/collect/synthesize pipeline
// over a Gateway.
type Orchestrator struct {
	Gateway      *mil.Gateway
	NumAgents    int
	TotalTimeout time.Duration
	WorkerTimeout time.Duration
	Policy       mil.RoutingPolicy
}

// NewOrchestrator builds an Orchestrator with spec defaults; zero-valued
// fields on cfg fall back to DefaultNumAgents / DefaultTotalTimeout.
func NewOrchestrator(gateway *mil.Gateway, cfg Orchestrator) *Orchestrator {
	o := cfg
	o.Gateway = gateway
	if o.NumAgents <= 0 {
		o.NumAgents = DefaultNumAgents
	}
	if o.TotalTimeout <= 0 {
		o.TotalTimeout = DefaultTotalTimeout
	}
	return &o
}

var fallbackPerspectives = []string{
	"Research %s in depth, citing concrete facts.",
	"Analyze %s from first principles and identify key tradeoffs.",
	"Verify the most common claims about %s and flag anything dubious.",
	"Provide an alternative, contrarian view on %s.",
	"Summarize the practical implications of %s for a non-expert.",
	"Identify the biggest risks associated with %s.",
}

// Decompose turns query into n sub-queries. It tries an LLM call first;
// when the gateway has no usable provider (CAPACITY/no_eligible_model) it
// falls back to a deterministic template producing canonical
// perspectives, cycling through the fallback list if n exceeds it.
func (o *Orchestrator) Decompose(ctx context.Context, query string, n int) ([]string, error) {
	resp, err := o.Gateway.Generate(ctx, mil.Request{
		SystemPrompt: "Decompose the user's query into exactly " + fmt.Sprint(n) + " distinct, non-overlapping research sub-questions, one per line.",
		Prompt:       query,
		MaxTokens:    400,
		Policy:       &o.Policy,
	})
	if err == nil {
		lines := splitNonEmptyLines(resp.Content)
		if len(lines) >= n {
			return lines[:n], nil
		}
	}
	return o.fallbackDecompose(query, n), nil
}

func (o *Orchestrator) fallbackDecompose(query string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		tmpl := fallbackPerspectives[i%len(fallbackPerspectives)]
		out[i] = fmt.Sprintf(tmpl, query)
	}
	return out
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Run executes the full decompose -> fan-out -> collect -> synthesize
// pipeline for one query, returning the synthesized answer and the raw
// per-worker results in worker-index order.
func (o *Orchestrator) Run(ctx context.Context, query string) (string, []WorkerResult, error) {
	n := o.NumAgents
	subQueries, err := o.Decompose(ctx, query, n)
	if err != nil {
		return "", nil, err
	}

	progress := NewProgress(n)
	results := make([]WorkerResult, n)

	totalCtx, cancel := context.WithTimeout(ctx, o.TotalTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(totalCtx)
	for i, sq := range subQueries {
		i, sq := i, sq
		g.Go(func() error {
			results[i] = o.runWorker(gctx, progress, i, sq)
			return nil
		})
	}
	_ = g.Wait()

	// Any worker that never reached a terminal state (global timeout
	// fired before its own goroutine updated progress) is recorded as a
	// cancelled timeout.
	for i := range results {
		if results[i].SubQuery == "" {
			results[i] = WorkerResult{
				Index:         i,
				SubQuery:      subQueries[i],
				Status:        "error",
				FailureReason: "timeout",
			}
			progress.Update(i, WorkerCancelled, "timeout")
		}
	}

	synthesis, err := o.synthesize(ctx, results)
	return synthesis, results, err
}

func (o *Orchestrator) runWorker(ctx context.Context, progress *Progress, i int, subQuery string) WorkerResult {
	progress.Update(i, WorkerProcessing, "dispatching")

	workerCtx := ctx
	var cancel context.CancelFunc
	if o.WorkerTimeout > 0 {
		workerCtx, cancel = context.WithTimeout(ctx, o.WorkerTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := o.Gateway.Generate(workerCtx, mil.Request{
		Prompt:    subQuery,
		MaxTokens: 600,
		Policy:    &o.Policy,
		TaskType:  "heavy-analysis-worker",
	})
	elapsed := time.Since(start)

	if err != nil {
		reason := "error"
		if workerCtx.Err() == context.DeadlineExceeded {
			reason = "timeout"
		}
		progress.Update(i, WorkerFailed, reason)
		return WorkerResult{
			Index:         i,
			SubQuery:      subQuery,
			Status:        "error",
			Response:      err.Error(),
			ExecutionTime: elapsed,
			FailureReason: reason,
		}
	}

	progress.Update(i, WorkerCompleted, "done")
	progress.SetResult(i, resp.Content)
	return WorkerResult{
		Index:         i,
		SubQuery:      subQuery,
		Status:        "success",
		Response:      resp.Content,
		ExecutionTime: elapsed,
		TokensUsed:    resp.TotalTokens(),
		CostUSD:       resp.CostUSD,
		ModelUsed:     resp.ModelUsed,
		Provider:      resp.Provider,
	}
}

// synthesize implements phase 4: zero successes produces a deterministic
// failure summary, exactly one success is returned verbatim, and two or
// more successes are combined with an LLM synthesis call over their
// concatenation (worker-index order).
func (o *Orchestrator) synthesize(ctx context.Context, results []WorkerResult) (string, error) {
	sorted := make([]WorkerResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var successes []WorkerResult
	var failures []WorkerResult
	for _, r := range sorted {
		if r.Status == "success" {
			successes = append(successes, r)
		} else {
			failures = append(failures, r)
		}
	}

	if len(successes) == 0 {
		var sb strings.Builder
		sb.WriteString("All agents failed:\n")
		for _, f := range failures {
			sb.WriteString(fmt.Sprintf("- worker %d (%s): %s\n", f.Index, f.FailureReason, f.Response))
		}
		return sb.String(), nil
	}

	if len(successes) == 1 {
		return successes[0].Response, nil
	}

	var combined strings.Builder
	for _, s := range successes {
		combined.WriteString(fmt.Sprintf("[perspective %d] %s\n\n", s.Index, s.Response))
	}

	resp, err := o.Gateway.Generate(ctx, mil.Request{
		SystemPrompt: "Synthesize the following independent perspectives into one coherent, well-organized answer.",
		Prompt:       combined.String(),
		MaxTokens:    1200,
		Policy:       &o.Policy,
		TaskType:     "heavy-analysis-synthesis",
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
