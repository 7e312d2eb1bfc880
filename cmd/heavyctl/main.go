// Command heavyctl is an offline composition root exercising the core
// runtime end to end: model routing, the Heavy-Analysis Orchestrator, the
// Multi-Agent Orchestration Framework, and the Memory Graph, all driven
// from one process with no HTTP layer and no live vendor credentials
// required (falls back to the deterministic echo provider).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/heavyforge/heavyforge/internal/agent"
	"github.com/heavyforge/heavyforge/internal/config"
	"github.com/heavyforge/heavyforge/internal/die"
	"github.com/heavyforge/heavyforge/internal/heavy"
	"github.com/heavyforge/heavyforge/internal/maof"
	"github.com/heavyforge/heavyforge/internal/memgraph"
	"github.com/heavyforge/heavyforge/internal/mil"
	"github.com/heavyforge/heavyforge/internal/mil/cache"
	"github.com/heavyforge/heavyforge/internal/mil/provider"
	"github.com/heavyforge/heavyforge/internal/mil/ratelimit"
	"github.com/heavyforge/heavyforge/internal/rtlog"
)

// CLI is the top-level kong command tree.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Analyze  AnalyzeCmd  `cmd:"" help:"Run the Heavy-Analysis Orchestrator over a query."`
	Quantum  QuantumCmd  `cmd:"" help:"Fan a task description out across named variations and collapse the results."`
	Workflow WorkflowCmd `cmd:"" help:"Run a minimal MAOF plan/execute/review workflow."`
	Graph    GraphCmd    `cmd:"" help:"Ingest text into the Memory Graph and run a blocking analysis."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("heavyctl"),
		kong.Description("AI-workforce runtime composition root."),
	)
	rtlog.Init(rtlog.ParseLevel(cli.LogLevel), os.Stderr, cli.LogFormat)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// VersionCmd prints a fixed version string ("heavyctl dev"); it does not
// read build information from the binary.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Println("heavyctl dev")
	return nil
}

// buildGateway wires a Gateway the same way every subcommand needs it:
// model registry from config-declared defaults, an echo provider always
// present as the zero-credential fallback, real vendor adapters added
// only when their API key is configured, an LRU response cache, and a
// token-bucket/spend limiter.
func buildGateway(cfg *config.Config) (*mil.Gateway, error) {
	providers := []mil.Provider{provider.NewEcho()}
	if key := cfg.ProviderAPIKeys["openai"]; key != "" {
		providers = append(providers, provider.NewOpenAI(key, ""))
	}
	if key := cfg.ProviderAPIKeys["anthropic"]; key != "" {
		providers = append(providers, provider.NewAnthropic(key, ""))
	}

	reg, err := mil.NewRegistry(providers...)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(256, time.Hour)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		BucketCapacity:  float64(cfg.RateLimitRequestsPerMinute),
		RefillPerSecond: float64(cfg.RateLimitRequestsPerMinute) / 60.0,
	}, nil)

	gw := mil.NewGateway(reg, c, limiter, nil)
	gw.DefaultTargets["default"] = "echo/echo-fast"
	gw.DefaultTargets["reasoning"] = "echo/echo-reasoning"
	return gw, nil
}

// AnalyzeCmd drives the Heavy-Analysis Orchestrator.
type AnalyzeCmd struct {
	Query     string `arg:"" help:"User query to decompose and analyze."`
	NumAgents int    `name:"num-agents" help:"Fan-out width (2-8)." default:"4"`
}

func (c *AnalyzeCmd) Run(cli *CLI) error {
	if c.NumAgents < 2 || c.NumAgents > 8 {
		return fmt.Errorf("num-agents must be in [2, 8], got %d", c.NumAgents)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	orch := heavy.NewOrchestrator(gw, heavy.Orchestrator{
		NumAgents:    c.NumAgents,
		Policy:       mil.RoutingPolicy{WeightQuality: 1},
		TotalTimeout: 60 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	start := time.Now()
	synthesis, results, err := orch.Run(ctx, c.Query)
	if err != nil {
		return err
	}

	fmt.Printf("query: %s\n", c.Query)
	fmt.Printf("agents: %d, elapsed: %s\n\n", c.NumAgents, time.Since(start))
	for _, r := range results {
		fmt.Printf("  [%d] %s: %s\n", r.Index, r.Status, strings.TrimSpace(r.Response))
	}
	fmt.Printf("\nsynthesis:\n%s\n", synthesis)
	return nil
}

// QuantumCmd drives a QuantumTask: one task description fanned out across
// named variations (each running under its own agent-role system prompt)
// and reduced by a collapse strategy, instead of Analyze's auto-decomposed
// sub-queries.
type QuantumCmd struct {
	Task        string   `arg:"" help:"Task description every variation works against."`
	Roles       []string `help:"Agent role per variation." default:"researcher,analyst,critic"`
	Strategy    string   `help:"Collapse strategy: first-success, best-score, consensus, combined, weighted." default:"best-score"`
	MaxParallel int      `name:"max-parallel" help:"Fan-out width cap." default:"0"`
}

func (c *QuantumCmd) Run(cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	variations := make([]heavy.Variation, len(c.Roles))
	for i, role := range c.Roles {
		variations[i] = heavy.Variation{
			Name:      fmt.Sprintf("%s-%d", role, i+1),
			AgentRole: role,
			Weight:    1,
		}
	}

	orch := heavy.NewOrchestrator(gw, heavy.Orchestrator{
		Policy: mil.RoutingPolicy{WeightQuality: 1},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	start := time.Now()
	collapsed, threads, err := orch.RunQuantum(ctx, heavy.QuantumTask{
		Name:             "cli-quantum",
		TaskDescription:  c.Task,
		CollapseStrategy: heavy.CollapseStrategy(c.Strategy),
		Variations:       variations,
		MaxParallel:      c.MaxParallel,
	})
	if err != nil {
		return err
	}

	fmt.Printf("task: %s\n", c.Task)
	fmt.Printf("strategy: %s, elapsed: %s\n\n", collapsed.Strategy, time.Since(start))
	for _, th := range threads {
		fmt.Printf("  [%s] %s (score=%.3f): %s\n", th.VariationName, th.Status, th.TotalScore, strings.TrimSpace(th.Response))
	}
	fmt.Printf("\ncollapsed (winner=%s, score=%.3f):\n%s\n", collapsed.Winner, collapsed.Score, collapsed.Response)
	return nil
}

// WorkflowCmd builds and runs a minimal dynamic MAOF plan
// (plan -> execute -> review) over a team of echo-backed agents.
type WorkflowCmd struct {
	Goal string `arg:"" help:"Workflow goal string."`
}

func (c *WorkflowCmd) Run(cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	team := maof.NewTeam()
	for _, role := range []string{"planner", "executor", "reviewer"} {
		a := agent.New(role+"-1", role, gw, die.NewContextualMemory())
		team.Add(a.ID, role, a)
	}

	reg := maof.NewRegistry()
	wf := maof.NewWorkflow(c.Goal, team, nil, maof.DefaultPolicy(3), reg)
	dag, err := wf.Build()
	if err != nil {
		return err
	}

	exec := maof.NewExecutor(dag, team, wf.Policy)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	out, events, err := exec.Run(ctx, map[string]string{"goal": c.Goal})
	if err != nil {
		return err
	}

	fmt.Printf("goal: %s\n", c.Goal)
	fmt.Printf("status: %s, completed: %d, failed: %d\n", out.Status, len(out.CompletedTasks), len(out.FailedTasks))
	fmt.Printf("total_tokens: %d, total_cost_usd: %.6f\n\n", out.TotalTokens, out.TotalCostUSD)
	for _, name := range out.ResultOrder {
		fmt.Printf("  %s -> %s\n", name, strings.TrimSpace(out.Results[name]))
	}
	fmt.Printf("\n%d events logged\n", len(events))
	slog.Info("workflow complete", "goal", c.Goal, "status", out.Status)
	return nil
}

// GraphCmd ingests a text fragment and runs a blocking_analysis query,
// the seed scenario from spec §8.
type GraphCmd struct {
	Text    string `arg:"" help:"Text fragment to ingest."`
	Service string `name:"service" help:"Service name to run blocking_analysis against." required:""`
}

func (c *GraphCmd) Run(cli *CLI) error {
	gr := memgraph.New()
	ing := memgraph.NewIngestor("heavyctl")
	res := ing.Ingest(gr, c.Text, "cli", memgraph.SourceInfo{Source: "cli", Timestamp: time.Now()})

	fmt.Printf("ingested: %d nodes, %d edges\n", res.NodesCreated, res.EdgesCreated)
	fmt.Printf("services: %v\n", res.Services)
	fmt.Printf("envvars: %v\n", res.EnvVars)
	fmt.Printf("incidents: %v\n\n", res.Incidents)

	planner := memgraph.NewPlanner(gr)
	ans, err := planner.Query(memgraph.QueryBlockingAnalysis, "", c.Service)
	if err != nil {
		return err
	}
	fmt.Println(ans.Text)
	for _, e := range ans.Evidence {
		fmt.Printf("  - [%s] %s\n", e.Type, e.Description)
	}
	return nil
}
