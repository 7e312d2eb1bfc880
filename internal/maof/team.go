package maof

import (
	"context"

	"github.com/heavyforge/heavyforge/internal/mil"
)

// Worker is the subset of agent.Agent the scheduler depends on, narrowed
// to an interface so tests can substitute a deterministic stub.
type Worker interface {
	Generate(ctx context.Context, req mil.Request) (mil.Response, error)
}

// Team is the set of agents a workflow can assign tasks to, indexed by id
// and by role for auto-assignment.
type Team struct {
	byID   map[string]Worker
	byRole map[string][]string // role -> agent ids, in registration order
}

// NewTeam builds an empty team.
func NewTeam() *Team {
	return &Team{byID: make(map[string]Worker), byRole: make(map[string][]string)}
}

// Add registers an agent under id, covering role.
func (t *Team) Add(id, role string, w Worker) {
	t.byID[id] = w
	t.byRole[role] = append(t.byRole[role], id)
}

// Roles returns the set of roles the team covers, for DAG validation.
func (t *Team) Roles() map[string]bool {
	out := make(map[string]bool, len(t.byRole))
	for r := range t.byRole {
		out[r] = true
	}
	return out
}

// Assign resolves a TaskSpec to a concrete Worker: a pinned AssignedID
// wins; otherwise the first agent registered under Role is used.
func (t *Team) Assign(spec *TaskSpec) (Worker, bool) {
	if spec.AssignedID != "" {
		w, ok := t.byID[spec.AssignedID]
		return w, ok
	}
	ids := t.byRole[spec.Role]
	if len(ids) == 0 {
		return nil, false
	}
	w, ok := t.byID[ids[0]]
	return w, ok
}
