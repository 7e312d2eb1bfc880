package heavy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/heavyforge/heavyforge/internal/mil"
)

// CollapseStrategy selects how a QuantumTask's parallel thread results
// reduce to a single collapsed answer.
type CollapseStrategy string

const (
	CollapseFirstSuccess CollapseStrategy = "first-success"
	CollapseBestScore    CollapseStrategy = "best-score"
	CollapseConsensus    CollapseStrategy = "consensus"
	CollapseCombined     CollapseStrategy = "combined"
	CollapseWeighted     CollapseStrategy = "weighted"
)

// ThreadStatus is the lifecycle of one quantum execution thread: a
// Heavy-Analysis worker run against a single Variation rather than an
// auto-decomposed sub-query.
type ThreadStatus string

const (
	ThreadPending   ThreadStatus = "pending"
	ThreadRunning   ThreadStatus = "running"
	ThreadCompleted ThreadStatus = "completed"
	ThreadFailed    ThreadStatus = "failed"
	ThreadCancelled ThreadStatus = "cancelled"
)

// DefaultQuantumMaxParallel is the fan-out width cap applied when a
// QuantumTask doesn't set MaxParallel.
const DefaultQuantumMaxParallel = 5

// Variation is one execution configuration a QuantumTask fans out to: a
// role tag, an optional provider/model pin, prompt modifiers, parameter
// overrides, and a weight consumed by the weighted/consensus strategies.
type Variation struct {
	Name             string
	Description      string
	AgentRole        string
	ProviderOverride string
	ModelOverride    string            // pinned "provider/model-id"; wins over ProviderOverride
	PromptModifiers  map[string]string // recognized keys: "prefix", "suffix", "system"
	Parameters       map[string]any    // recognized keys: "max_tokens", "temperature"
	Weight           float64           // 0 treated as 1 (unweighted)
}

// MetricsConfig weighs the per-thread metrics used by best-score and
// weighted collapse. Normalization gives an explicit [min, max] per metric;
// metrics without one normalize against the observed range of the thread
// set itself.
type MetricsConfig struct {
	Weights       map[string]float64
	Normalization map[string][2]float64
}

// DefaultMetricsConfig mirrors the platform's own default metric weighting:
// execution time, success, completeness, accuracy.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Weights: map[string]float64{
			"execution_time": 0.2,
			"success_rate":   0.3,
			"completeness":   0.3,
			"accuracy":       0.2,
		},
	}
}

func (c MetricsConfig) normRange(metric string) (lo, hi float64, ok bool) {
	r, present := c.Normalization[metric]
	if !present {
		return 0, 0, false
	}
	return r[0], r[1], true
}

// QuantumTask generalizes Heavy-Analysis: instead of N auto-decomposed
// sub-queries it fans one task description out across explicit
// Variations, scores the resulting threads, and collapses them per
// CollapseStrategy.
type QuantumTask struct {
	Name             string
	Description      string
	TaskDescription  string
	CollapseStrategy CollapseStrategy
	Metrics          MetricsConfig
	Variations       []Variation
	MaxParallel      int
	Timeout          time.Duration
}

// ThreadResult is one variation's outcome, scored against the task's
// MetricsConfig.
type ThreadResult struct {
	VariationName string
	Status        ThreadStatus
	Response      string
	Error         string
	ExecutionTime time.Duration
	Metrics       map[string]float64
	TotalScore    float64
	TokensUsed    int
	CostUSD       float64
	Provider      string
	ModelUsed     string
}

// CollapsedResult is the reduction of every ThreadResult down to one
// answer, per CollapseStrategy.
type CollapsedResult struct {
	Strategy CollapseStrategy
	Response string
	Winner   string // variation credited for the collapsed response; "" for combined
	Score    float64
}

// RunQuantum fans task.TaskDescription out across every Variation (bounded
// by MaxParallel), collects a ThreadResult per variation, scores them
// against task.Metrics, and collapses them per task.CollapseStrategy.
func (o *Orchestrator) RunQuantum(ctx context.Context, task QuantumTask) (CollapsedResult, []ThreadResult, error) {
	if len(task.Variations) == 0 {
		return CollapsedResult{}, nil, fmt.Errorf("heavy: quantum task %q has no variations", task.Name)
	}

	maxParallel := task.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultQuantumMaxParallel
	}
	if maxParallel > len(task.Variations) {
		maxParallel = len(task.Variations)
	}
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = DefaultTotalTimeout
	}
	metrics := task.Metrics
	if len(metrics.Weights) == 0 {
		metrics = DefaultMetricsConfig()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// earlyCtx is only actually used to short-circuit first-success: the
	// literal collapse the strategy name describes, cancelling every
	// other thread the instant one variation succeeds.
	earlyCtx, earlyCancel := context.WithCancel(runCtx)
	defer earlyCancel()
	var collapseOnce sync.Once

	results := make([]ThreadResult, len(task.Variations))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, v := range task.Variations {
		i, v := i, v
		wg.Add(1)
		go func() {
			defer wg.Done()

			threadCtx := runCtx
			if task.CollapseStrategy == CollapseFirstSuccess {
				threadCtx = earlyCtx
			}

			select {
			case sem <- struct{}{}:
			case <-threadCtx.Done():
				results[i] = ThreadResult{VariationName: v.Name, Status: ThreadCancelled, Error: "cancelled before dispatch"}
				return
			}
			defer func() { <-sem }()

			results[i] = o.runThread(threadCtx, task, v)
			if task.CollapseStrategy == CollapseFirstSuccess && results[i].Status == ThreadCompleted {
				collapseOnce.Do(earlyCancel)
			}
		}()
	}
	wg.Wait()

	for i, r := range results {
		if r.VariationName == "" {
			results[i] = ThreadResult{VariationName: task.Variations[i].Name, Status: ThreadCancelled, Error: "timeout"}
		}
	}

	scoreThreads(results, metrics, task.TaskDescription)

	collapsed, err := o.collapse(ctx, task, results)
	return collapsed, results, err
}

// runThread dispatches one variation's generation call, applying its
// provider/model pin, prompt modifiers, and parameter overrides.
func (o *Orchestrator) runThread(ctx context.Context, task QuantumTask, v Variation) ThreadResult {
	req := mil.Request{
		Prompt:    applyPromptModifiers(task.TaskDescription, v.PromptModifiers),
		MaxTokens: 600,
		TaskType:  "quantum-thread",
	}
	if sys, ok := v.PromptModifiers["system"]; ok {
		req.SystemPrompt = sys
	} else if v.AgentRole != "" {
		req.SystemPrompt = "You are acting as a " + v.AgentRole + "."
	}
	if v.ModelOverride != "" {
		req.ModelID = v.ModelOverride
	}

	policy := o.Policy
	if v.ProviderOverride != "" && v.ModelOverride == "" {
		policy.PreferProvider = v.ProviderOverride
	}
	req.Policy = &policy

	if mt, ok := numericParam(v.Parameters, "max_tokens"); ok {
		req.MaxTokens = int(mt)
	}
	if t, ok := numericParam(v.Parameters, "temperature"); ok {
		req.Temperature = t
	}

	start := time.Now()
	resp, err := o.Gateway.Generate(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		status := ThreadFailed
		if ctx.Err() != nil {
			status = ThreadCancelled
		}
		return ThreadResult{
			VariationName: v.Name,
			Status:        status,
			Error:         err.Error(),
			ExecutionTime: elapsed,
		}
	}

	return ThreadResult{
		VariationName: v.Name,
		Status:        ThreadCompleted,
		Response:      resp.Content,
		ExecutionTime: elapsed,
		TokensUsed:    resp.TotalTokens(),
		CostUSD:       resp.CostUSD,
		Provider:      resp.Provider,
		ModelUsed:     resp.ModelUsed,
	}
}

func applyPromptModifiers(base string, mods map[string]string) string {
	prompt := base
	if prefix, ok := mods["prefix"]; ok {
		prompt = prefix + "\n" + prompt
	}
	if suffix, ok := mods["suffix"]; ok {
		prompt = prompt + "\n" + suffix
	}
	return prompt
}

func numericParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// scoreThreads fills in Metrics and TotalScore for every thread, in place.
// execution_time normalizes (inverted, faster is better) against the
// observed range across completed threads unless cfg overrides it;
// success_rate is binary; completeness is a length-saturation heuristic;
// accuracy is a keyword-overlap proxy against the task description, the
// only signal available without a ground-truth grader.
func scoreThreads(results []ThreadResult, cfg MetricsConfig, taskDescription string) {
	minTime, maxTime, haveRange := 0.0, 0.0, false
	for _, r := range results {
		if r.Status != ThreadCompleted {
			continue
		}
		t := r.ExecutionTime.Seconds()
		if !haveRange {
			minTime, maxTime, haveRange = t, t, true
			continue
		}
		if t < minTime {
			minTime = t
		}
		if t > maxTime {
			maxTime = t
		}
	}
	if lo, hi, ok := cfg.normRange("execution_time"); ok {
		minTime, maxTime = lo, hi
	}

	for i := range results {
		r := &results[i]
		completed := r.Status == ThreadCompleted

		successRate := 0.0
		if completed {
			successRate = 1.0
		}

		execScore := 0.0
		if completed {
			execScore = 1.0
			if maxTime > minTime {
				execScore = 1 - (r.ExecutionTime.Seconds()-minTime)/(maxTime-minTime)
			}
		}

		completeness := 0.0
		accuracy := 0.0
		if completed {
			completeness = completenessScore(r.Response)
			accuracy = accuracyScore(taskDescription, r.Response)
		}

		metrics := map[string]float64{
			"success_rate":   successRate,
			"execution_time": execScore,
			"completeness":   completeness,
			"accuracy":       accuracy,
		}
		r.Metrics = metrics

		total := 0.0
		for name, weight := range cfg.Weights {
			total += weight * metrics[name]
		}
		r.TotalScore = total
	}
}

// completenessScore saturates at a fixed response length; short answers
// (truncation, refusal) score low, anything past the saturation point
// scores 1.
func completenessScore(response string) float64 {
	const saturationChars = 280.0
	n := float64(len(strings.TrimSpace(response)))
	if n <= 0 {
		return 0
	}
	if n >= saturationChars {
		return 1
	}
	return n / saturationChars
}

// accuracyScore proxies "does the response actually engage with the task"
// by the fraction of the task description's distinct significant words
// (len > 3) that reappear in the response — the only signal available
// without a ground-truth grader.
func accuracyScore(taskDescription, response string) float64 {
	want := significantWords(taskDescription)
	if len(want) == 0 {
		return 1
	}
	got := significantWords(response)
	matched := 0
	for w := range want {
		if got[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

func significantWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 3 {
			out[w] = true
		}
	}
	return out
}

// collapse reduces results to one CollapsedResult per task.CollapseStrategy.
func (o *Orchestrator) collapse(ctx context.Context, task QuantumTask, results []ThreadResult) (CollapsedResult, error) {
	strategy := task.CollapseStrategy
	if strategy == "" {
		strategy = CollapseBestScore
	}

	var completed []ThreadResult
	for _, r := range results {
		if r.Status == ThreadCompleted {
			completed = append(completed, r)
		}
	}
	if len(completed) == 0 {
		return CollapsedResult{Strategy: strategy, Response: "all quantum threads failed"}, nil
	}

	switch strategy {
	case CollapseFirstSuccess:
		winner := completed[0]
		for _, r := range completed[1:] {
			if r.ExecutionTime < winner.ExecutionTime {
				winner = r
			}
		}
		return CollapsedResult{Strategy: strategy, Response: winner.Response, Winner: winner.VariationName, Score: winner.TotalScore}, nil

	case CollapseBestScore:
		winner := bestScored(completed)
		return CollapsedResult{Strategy: strategy, Response: winner.Response, Winner: winner.VariationName, Score: winner.TotalScore}, nil

	case CollapseWeighted:
		winner := bestWeighted(completed, task.Variations)
		return CollapsedResult{Strategy: strategy, Response: winner.Response, Winner: winner.VariationName, Score: winner.TotalScore}, nil

	case CollapseConsensus:
		winner, weight := consensusWinner(completed, task.Variations)
		return CollapsedResult{Strategy: strategy, Response: winner.Response, Winner: winner.VariationName, Score: weight}, nil

	case CollapseCombined:
		return o.combineThreads(ctx, task, completed)

	default:
		winner := bestScored(completed)
		return CollapsedResult{Strategy: CollapseBestScore, Response: winner.Response, Winner: winner.VariationName, Score: winner.TotalScore}, nil
	}
}

func bestScored(completed []ThreadResult) ThreadResult {
	winner := completed[0]
	for _, r := range completed[1:] {
		if r.TotalScore > winner.TotalScore {
			winner = r
		}
	}
	return winner
}

func variationWeight(variations []Variation, name string) float64 {
	for _, v := range variations {
		if v.Name == name {
			if v.Weight > 0 {
				return v.Weight
			}
			return 1
		}
	}
	return 1
}

// bestWeighted multiplies each completed thread's score by its variation's
// weight before comparing, so a low-weight variation can't win purely on
// metric score the way best-score allows.
func bestWeighted(completed []ThreadResult, variations []Variation) ThreadResult {
	winner := completed[0]
	winnerScore := winner.TotalScore * variationWeight(variations, winner.VariationName)
	for _, r := range completed[1:] {
		s := r.TotalScore * variationWeight(variations, r.VariationName)
		if s > winnerScore {
			winner, winnerScore = r, s
		}
	}
	winner.TotalScore = winnerScore
	return winner
}

// consensusWinner groups completed threads by normalized response text,
// weighting each group by the sum of its members' variation weights, and
// returns the highest-scored member of the heaviest group.
func consensusWinner(completed []ThreadResult, variations []Variation) (ThreadResult, float64) {
	type group struct {
		weight  float64
		members []ThreadResult
	}
	groups := make(map[string]*group)
	var order []string
	for _, r := range completed {
		key := strings.ToLower(strings.TrimSpace(r.Response))
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.weight += variationWeight(variations, r.VariationName)
		g.members = append(g.members, r)
	}

	var winner *group
	for _, key := range order {
		g := groups[key]
		if winner == nil || g.weight > winner.weight {
			winner = g
		}
	}

	rep := winner.members[0]
	for _, m := range winner.members[1:] {
		if m.TotalScore > rep.TotalScore {
			rep = m
		}
	}
	return rep, winner.weight
}

// combineThreads synthesizes every completed thread's response into one
// answer via an LLM call, the quantum-task analogue of Orchestrator's
// own multi-perspective synthesis.
func (o *Orchestrator) combineThreads(ctx context.Context, task QuantumTask, completed []ThreadResult) (CollapsedResult, error) {
	if len(completed) == 1 {
		return CollapsedResult{Strategy: CollapseCombined, Response: completed[0].Response, Winner: completed[0].VariationName, Score: completed[0].TotalScore}, nil
	}

	var combined strings.Builder
	for _, r := range completed {
		combined.WriteString(fmt.Sprintf("[%s] %s\n\n", r.VariationName, r.Response))
	}

	resp, err := o.Gateway.Generate(ctx, mil.Request{
		SystemPrompt: "Combine the following independent variation results for \"" + task.TaskDescription + "\" into one coherent answer.",
		Prompt:       combined.String(),
		MaxTokens:    1200,
		Policy:       &o.Policy,
		TaskType:     "quantum-combine",
	})
	if err != nil {
		return CollapsedResult{}, err
	}
	return CollapsedResult{Strategy: CollapseCombined, Response: resp.Content}, nil
}
