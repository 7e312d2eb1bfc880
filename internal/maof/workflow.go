package maof

import "github.com/heavyforge/heavyforge/internal/errs"

// Workflow is the spec's top-level object: a goal, an agent team, a task
// DAG, an execution policy, and (once Run is called) runtime state.
type Workflow struct {
	Goal     string
	Team     *Team
	Tasks    []TaskSpec
	Policy   ExecutionPolicy
	Registry *Registry
}

// NewWorkflow builds a Workflow. If tasks is empty, Build uses registry to
// instantiate a template matching goal's keywords, or a minimal dynamic
// {plan -> execute -> review} plan otherwise.
func NewWorkflow(goal string, team *Team, tasks []TaskSpec, policy ExecutionPolicy, registry *Registry) *Workflow {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Workflow{Goal: goal, Team: team, Tasks: tasks, Policy: policy, Registry: registry}
}

// Build validates (or derives) the task list into an executable DAG.
func (w *Workflow) Build() (*DAG, error) {
	tasks := w.Tasks
	if len(tasks) == 0 {
		tasks = w.Registry.Plan(w.Goal)
	}
	if w.Team == nil {
		return nil, errs.New(errs.Validation, "maof: workflow has no team")
	}
	return NewDAG(tasks, w.Team.Roles())
}
