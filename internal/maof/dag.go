package maof

import (
	"github.com/heavyforge/heavyforge/internal/errs"
)

// DAG is the validated dependency graph of one workflow's tasks.
type DAG struct {
	tasks map[string]*TaskSpec
	order []string // stable input order, used for task-id ascending tie-break
}

// NewDAG validates specs (acyclic, every dependency id exists, every role
// mentioned is covered by teamRoles) and returns a DAG ready to schedule.
func NewDAG(specs []TaskSpec, teamRoles map[string]bool) (*DAG, error) {
	tasks := make(map[string]*TaskSpec, len(specs))
	order := make([]string, 0, len(specs))
	for i := range specs {
		s := specs[i]
		if s.ID == "" {
			return nil, errs.New(errs.Validation, "maof: task missing id")
		}
		if _, dup := tasks[s.ID]; dup {
			return nil, errs.New(errs.Validation, "maof: duplicate task id "+s.ID)
		}
		if s.MaxAttempts <= 0 {
			s.MaxAttempts = 1
		}
		tasks[s.ID] = &s
		order = append(order, s.ID)
	}

	for _, s := range tasks {
		for _, dep := range s.Dependencies {
			if _, ok := tasks[dep]; !ok {
				return nil, errs.New(errs.Validation, "maof: task "+s.ID+" depends on unknown task "+dep)
			}
		}
		if s.Role != "" && teamRoles != nil && !teamRoles[s.Role] {
			return nil, errs.New(errs.Validation, "maof: no team member covers role "+s.Role).
				WithDetails(map[string]any{"task": s.ID, "role": s.Role})
		}
	}

	d := &DAG{tasks: tasks, order: order}
	if d.hasCycle() {
		return nil, errs.New(errs.Validation, "maof: task graph is not acyclic")
	}
	return d, nil
}

// hasCycle runs a standard three-color DFS over the dependency edges.
func (d *DAG) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.tasks))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range d.tasks[id].Dependencies {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, id := range d.order {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Task returns the spec for id.
func (d *DAG) Task(id string) (*TaskSpec, bool) {
	t, ok := d.tasks[id]
	return t, ok
}

// IDs returns every task id in declaration order.
func (d *DAG) IDs() []string {
	return append([]string(nil), d.order...)
}

// dependents returns the ids of tasks that list id as a dependency.
func (d *DAG) dependents(id string) []string {
	var out []string
	for _, tid := range d.order {
		for _, dep := range d.tasks[tid].Dependencies {
			if dep == id {
				out = append(out, tid)
				break
			}
		}
	}
	return out
}
