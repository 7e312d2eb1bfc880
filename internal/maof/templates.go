package maof

import "strings"

// Template is a fixed task list and dependency pattern, instantiated when
// a goal's keywords match.
type Template struct {
	Name     string
	Keywords []string
	Build    func(goal string) []TaskSpec
}

// Registry holds named workflow templates, matched against a goal's
// keywords before falling back to a minimal dynamic plan.
type Registry struct {
	templates []Template
}

// NewRegistry builds a template registry with the spec's built-in
// templates already registered.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(researchReportTemplate())
	r.Register(codeReviewTemplate())
	return r
}

// Register adds t to the registry.
func (r *Registry) Register(t Template) { r.templates = append(r.templates, t) }

// Match returns the first template whose keywords all appear in goal
// (case-insensitive), or false if none match.
func (r *Registry) Match(goal string) (Template, bool) {
	g := strings.ToLower(goal)
	for _, t := range r.templates {
		matched := true
		for _, kw := range t.Keywords {
			if !strings.Contains(g, kw) {
				matched = false
				break
			}
		}
		if matched {
			return t, true
		}
	}
	return Template{}, false
}

// Plan builds the task list for goal: a matching template if one exists,
// otherwise the minimal dynamic {plan -> execute -> review} pattern with
// roles planner/executor/reviewer per spec §4.4.
func (r *Registry) Plan(goal string) []TaskSpec {
	if t, ok := r.Match(goal); ok {
		return t.Build(goal)
	}
	return minimalPlan(goal)
}

func minimalPlan(goal string) []TaskSpec {
	return []TaskSpec{
		{ID: "plan", Name: "plan", Role: "planner", Input: map[string]string{"goal": goal}, MaxAttempts: 2},
		{ID: "execute", Name: "execute", Role: "executor", Input: map[string]string{"plan": "$plan.output"}, Dependencies: []string{"plan"}, MaxAttempts: 2},
		{ID: "review", Name: "review", Role: "reviewer", Input: map[string]string{"result": "$execute.output"}, Dependencies: []string{"execute"}, MaxAttempts: 2},
	}
}

func researchReportTemplate() Template {
	return Template{
		Name:     "research_report",
		Keywords: []string{"research"},
		Build: func(goal string) []TaskSpec {
			return []TaskSpec{
				{ID: "research", Name: "research", Role: "researcher", Input: map[string]string{"goal": goal}, MaxAttempts: 2},
				{ID: "analyze", Name: "analyze", Role: "analyst", Input: map[string]string{"findings": "$research.output"}, Dependencies: []string{"research"}, MaxAttempts: 2},
				{ID: "write", Name: "write", Role: "writer", Input: map[string]string{"analysis": "$analyze.output"}, Dependencies: []string{"analyze"}, MaxAttempts: 2},
				{ID: "review", Name: "review", Role: "reviewer", Input: map[string]string{"draft": "$write.output"}, Dependencies: []string{"write"}, MaxAttempts: 2},
			}
		},
	}
}

func codeReviewTemplate() Template {
	return Template{
		Name:     "code_review",
		Keywords: []string{"code", "review"},
		Build: func(goal string) []TaskSpec {
			return []TaskSpec{
				{ID: "implement", Name: "implement", Role: "coder", Input: map[string]string{"goal": goal}, MaxAttempts: 2},
				{ID: "review", Name: "review", Role: "reviewer", Input: map[string]string{"diff": "$implement.output"}, Dependencies: []string{"implement"}, MaxAttempts: 3},
				{ID: "validate", Name: "validate", Role: "validator", Input: map[string]string{"review": "$review.output"}, Dependencies: []string{"review"}, MaxAttempts: 2},
			}
		},
	}
}
