package maof

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/heavyforge/heavyforge/internal/clock"
	"github.com/heavyforge/heavyforge/internal/errs"
	"github.com/heavyforge/heavyforge/internal/mil"
)

// DefaultTaskTimeout is the per-MAOF-task deadline default (spec §5).
const DefaultTaskTimeout = 300 * time.Second

// maxBackoff caps the exponential retry delay before jitter.
const maxBackoff = 30 * time.Second

// Executor runs one workflow's DAG to completion: scheduling ready tasks
// up to MaxParallel at once, retrying retriable failures with backoff,
// and enforcing the workflow's cost/duration budget.
type Executor struct {
	DAG    *DAG
	Team   *Team
	Policy ExecutionPolicy
	Clock  clock.Clock
}

// NewExecutor builds an Executor with DefaultPolicy fields filled in
// where the caller left them zero.
func NewExecutor(dag *DAG, team *Team, policy ExecutionPolicy) *Executor {
	if policy.MaxParallel <= 0 {
		policy.MaxParallel = 4
	}
	if policy.MaxDuration <= 0 {
		policy.MaxDuration = 24 * time.Hour
	}
	if policy.RetryBaseDelay <= 0 {
		policy.RetryBaseDelay = 1 * time.Second
	}
	if policy.OnFailure == "" {
		policy.OnFailure = FailFast
	}
	return &Executor{DAG: dag, Team: team, Policy: policy, Clock: clock.System}
}

type runState struct {
	mu            sync.Mutex
	state         map[string]TaskState
	attempts      map[string]int
	results       map[string]TaskResult
	resultOrder   []string
	totalTokens   int
	totalCostUSD  float64
	startedAt     time.Time
	events        []Event
	budgetFailed  bool
	budgetReason  string
	cancels       map[string]context.CancelFunc
	dispatched    map[string]bool
	input         map[string]string
}

func (rs *runState) log(taskID, kind, detail string) {
	rs.events = append(rs.events, Event{At: time.Now(), TaskID: taskID, Kind: kind, Detail: detail})
}

// Run executes the full DAG for the given workflow input, returning the
// output contract, the append-only event log, and an error only for
// setup failures (budget/duration violations surface through Output).
func (e *Executor) Run(ctx context.Context, input map[string]string) (Output, []Event, error) {
	rs := &runState{
		state:      make(map[string]TaskState),
		attempts:   make(map[string]int),
		results:    make(map[string]TaskResult),
		cancels:    make(map[string]context.CancelFunc),
		dispatched: make(map[string]bool),
		startedAt:  time.Now(),
		input:      input,
	}
	for _, id := range e.DAG.IDs() {
		rs.state[id] = TaskPending
	}

	runCtx, cancel := context.WithTimeout(ctx, e.Policy.MaxDuration)
	defer cancel()

	sem := make(chan struct{}, e.Policy.MaxParallel)
	var wg sync.WaitGroup

	var dispatch func(ids []string)
	dispatch = func(ids []string) {
		sort.Strings(ids)
		for _, id := range ids {
			id := id
			rs.mu.Lock()
			if rs.dispatched[id] || rs.budgetFailed {
				rs.mu.Unlock()
				continue
			}
			rs.dispatched[id] = true
			rs.state[id] = TaskReady
			rs.log(id, "ready", "")
			rs.mu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
				case <-runCtx.Done():
					return
				}
				defer func() { <-sem }()

				if !e.admitBudget(rs, id) {
					return
				}

				e.runTask(runCtx, rs, id)

				rs.mu.Lock()
				newlyReady := e.newlyReadyLocked(rs)
				rs.mu.Unlock()
				dispatch(newlyReady)
			}()
		}
	}

	dispatch(e.rootsLocked())
	wg.Wait()

	return e.buildOutput(rs), append([]Event(nil), rs.events...), nil
}

// rootsLocked returns every task with no dependencies.
func (e *Executor) rootsLocked() []string {
	var roots []string
	for _, id := range e.DAG.IDs() {
		t, _ := e.DAG.Task(id)
		if len(t.Dependencies) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// newlyReadyLocked scans every undispatched task whose dependencies have
// all reached completed, failed or skipped. Under the fail_fast policy a
// task with any failed or skipped dependency is marked skipped rather than
// dispatched; otherwise it is returned for dispatch. Caller holds rs.mu.
func (e *Executor) newlyReadyLocked(rs *runState) []string {
	var out []string
	for _, id := range e.DAG.IDs() {
		if rs.dispatched[id] {
			continue
		}
		t, _ := e.DAG.Task(id)
		allDone := true
		anySkippedOrFailed := false
		for _, dep := range t.Dependencies {
			switch rs.state[dep] {
			case TaskCompleted:
			case TaskFailed, TaskSkipped:
				anySkippedOrFailed = true
			default:
				allDone = false
			}
		}
		if !allDone {
			continue
		}
		if anySkippedOrFailed && e.Policy.OnFailure == FailFast {
			rs.dispatched[id] = true
			rs.state[id] = TaskSkipped
			rs.log(id, "skipped", "upstream failure, fail_fast policy")
			continue
		}
		out = append(out, id)
	}
	return out
}

// admitBudget checks the budget/duration caps before dispatching id. On
// violation the whole workflow is marked budget_exceeded, no further tasks
// are admitted, and every task currently in flight has its per-attempt
// context cancelled immediately rather than left to run to its own timeout.
func (e *Executor) admitBudget(rs *runState, id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.budgetFailed {
		return false
	}

	estCost := 0.0
	if n := len(rs.resultOrder); n > 0 {
		estCost = rs.totalCostUSD / float64(n)
	}
	reason := ""
	switch {
	case e.Policy.MaxCostUSD > 0 && rs.totalCostUSD+estCost > e.Policy.MaxCostUSD:
		reason = fmt.Sprintf("total_cost=%.4f max=%.4f", rs.totalCostUSD, e.Policy.MaxCostUSD)
	case e.Policy.MaxDuration > 0 && time.Since(rs.startedAt) > e.Policy.MaxDuration:
		reason = "duration exceeded"
	default:
		return true
	}

	rs.budgetFailed = true
	rs.budgetReason = "budget_exceeded"
	rs.log(id, "budget_exceeded", reason)
	for runningID, cancel := range rs.cancels {
		cancel()
		rs.log(runningID, "cancelled", "budget_exceeded")
	}
	rs.cancels = make(map[string]context.CancelFunc)
	return false
}

// runTask executes one task to a terminal state, retrying retriable
// failures with exponential backoff and jitter.
func (e *Executor) runTask(ctx context.Context, rs *runState, id string) {
	spec, _ := e.DAG.Task(id)

	rs.mu.Lock()
	rs.state[id] = TaskRunning
	rs.log(id, "started", "")
	rs.mu.Unlock()

	worker, ok := e.Team.Assign(spec)
	if !ok {
		e.finishTask(rs, id, TaskResult{TaskID: id, Error: "no agent available for role " + spec.Role}, TaskFailed)
		return
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}

	start := time.Now()
	var lastErr error
	attempt := 0
	for attempt < spec.MaxAttempts {
		attempt++
		rs.mu.Lock()
		rs.attempts[id] = attempt
		rs.mu.Unlock()

		taskCtx, cancel := context.WithTimeout(ctx, timeout)
		rs.mu.Lock()
		rs.cancels[id] = cancel
		rs.mu.Unlock()

		resp, err := worker.Generate(taskCtx, mil.Request{
			Prompt:   e.resolveInput(rs, spec),
			TaskType: "maof-task",
		})

		rs.mu.Lock()
		delete(rs.cancels, id)
		rs.mu.Unlock()
		cancel()

		if err == nil {
			e.finishTask(rs, id, TaskResult{
				TaskID:        id,
				Output:        resp.Content,
				TokensUsed:    resp.TotalTokens(),
				CostUSD:       resp.CostUSD,
				Attempts:      attempt,
				ExecutionTime: time.Since(start),
			}, TaskCompleted)
			return
		}

		lastErr = err
		if !errs.IsRetriable(err) || attempt >= spec.MaxAttempts {
			break
		}

		rs.mu.Lock()
		rs.state[id] = TaskRetryScheduled
		rs.log(id, "retry", fmt.Sprintf("attempt %d failed: %v", attempt, err))
		rs.mu.Unlock()

		delay := backoffDelay(e.Policy.RetryBaseDelay, attempt)
		select {
		case <-e.Clock.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = spec.MaxAttempts
		}
	}

	e.finishTask(rs, id, TaskResult{
		TaskID:        id,
		Error:         errorMessage(lastErr),
		Attempts:      attempt,
		ExecutionTime: time.Since(start),
	}, TaskFailed)
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// backoffDelay computes base*2^(attempt-1) with +/-20% jitter, capped at
// maxBackoff, per spec §4.4.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > maxBackoff {
			d = maxBackoff
			break
		}
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	scaled := time.Duration(float64(d) * jitter)
	if scaled > maxBackoff {
		scaled = maxBackoff
	}
	return scaled
}

func (e *Executor) finishTask(rs *runState, id string, result TaskResult, final TaskState) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.state[id] = final
	rs.results[id] = result
	rs.resultOrder = append(rs.resultOrder, id)
	rs.totalTokens += result.TokensUsed
	rs.totalCostUSD += result.CostUSD
	if final == TaskCompleted {
		rs.log(id, "completed", "")
	} else {
		rs.log(id, "failed", result.Error)
	}
}

// resolveInput renders a task's input mapping: "$<task>.output" resolves
// to a completed predecessor's output; "$input.<key>" resolves to the
// workflow input; anything else is passed through literally.
func (e *Executor) resolveInput(rs *runState, spec *TaskSpec) string {
	var sb strings.Builder
	sb.WriteString(spec.Name)
	if spec.Criteria != "" {
		sb.WriteString("\n")
		sb.WriteString(spec.Criteria)
	}
	keys := make([]string, 0, len(spec.Input))
	for k := range spec.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		resolved := e.resolveRef(rs, spec.Input[k])
		sb.WriteString(fmt.Sprintf("\n%s: %s", k, resolved))
	}
	return sb.String()
}

func (e *Executor) resolveRef(rs *runState, ref string) string {
	if !strings.HasPrefix(ref, "$") {
		return ref
	}
	body := strings.TrimPrefix(ref, "$")
	parts := strings.SplitN(body, ".", 2)
	if len(parts) != 2 {
		return ref
	}
	source, field := parts[0], parts[1]
	if source == "input" {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		return rs.input[field]
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	res, ok := rs.results[source]
	if !ok {
		return ""
	}
	if field == "output" {
		return res.Output
	}
	return res.Output
}

// buildOutput renders the final output contract from run state.
func (e *Executor) buildOutput(rs *runState) Output {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	out := Output{
		Results:      make(map[string]string, len(rs.results)),
		ResultOrder:  append([]string(nil), rs.resultOrder...),
		TotalTokens:  rs.totalTokens,
		TotalCostUSD: rs.totalCostUSD,
		ExecutionTime: time.Since(rs.startedAt),
	}
	for id, res := range rs.results {
		t, _ := e.DAG.Task(id)
		name := id
		if t != nil && t.Name != "" {
			name = t.Name
		}
		out.Results[name] = res.Output
		switch rs.state[id] {
		case TaskCompleted:
			out.CompletedTasks = append(out.CompletedTasks, id)
		case TaskFailed:
			out.FailedTasks = append(out.FailedTasks, id)
		}
	}

	switch {
	case rs.budgetFailed:
		out.Status = StatusFailed
	case len(out.FailedTasks) > 0:
		out.Status = StatusFailed
	default:
		out.Status = StatusCompleted
	}
	return out
}
