package task_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavyforge/heavyforge/internal/task"
)

func TestCreateStartsPending(t *testing.T) {
	r := task.NewRegistry()
	tk, ctx := r.Create(context.Background(), "sess-1", task.TypeMCPTool, "calculate", map[string]any{"expr": "2+2"}, true)

	assert.Equal(t, task.StatusPending, tk.Status())
	assert.NoError(t, ctx.Err())

	got, ok := r.Get(tk.ID)
	require.True(t, ok)
	assert.Same(t, tk, got)
}

func TestUpdateProgressIsMonotoneAndTransitionsToRunning(t *testing.T) {
	r := task.NewRegistry()
	tk, _ := r.Create(context.Background(), "sess-1", task.TypeA2ATask, "research", nil, true)

	require.NoError(t, r.UpdateProgress(tk.ID, 0.3, "fetching"))
	assert.Equal(t, task.StatusRunning, tk.Status())
	frac, stage := tk.Progress()
	assert.Equal(t, 0.3, frac)
	assert.Equal(t, "fetching", stage)

	// A lower fraction must never move progress backward.
	require.NoError(t, r.UpdateProgress(tk.ID, 0.1, "should be ignored"))
	frac, stage = tk.Progress()
	assert.Equal(t, 0.3, frac)
	assert.Equal(t, "fetching", stage)

	require.NoError(t, r.UpdateProgress(tk.ID, 1.5, "done"))
	frac, _ = tk.Progress()
	assert.Equal(t, 1.0, frac, "progress must clamp to 1")
}

func TestCompleteAndFailAreTerminalAndFinal(t *testing.T) {
	r := task.NewRegistry()
	tk, _ := r.Create(context.Background(), "sess-1", task.TypeWorkflow, "run", nil, true)

	require.NoError(t, r.Complete(tk.ID, map[string]any{"answer": 42}))
	assert.Equal(t, task.StatusCompleted, tk.Status())
	assert.Equal(t, map[string]any{"answer": 42}, tk.Result())

	// Failing an already-terminal task is a silent no-op, never an error.
	require.NoError(t, r.Fail(tk.ID, errors.New("too late")))
	assert.Equal(t, task.StatusCompleted, tk.Status())
	assert.Empty(t, tk.Error())
}

func TestCancelIsIdempotentAndDeliversContextCancellation(t *testing.T) {
	r := task.NewRegistry()
	tk, ctx := r.Create(context.Background(), "sess-1", task.TypeMCPTool, "longop", nil, true)

	require.NoError(t, r.Cancel(tk.ID, "user requested"))
	assert.Equal(t, task.StatusCancelled, tk.Status())
	assert.Equal(t, "user requested", tk.Error())
	assert.Error(t, ctx.Err(), "cancel must deliver the cancellation signal")

	// A second cancel is a no-op: status and reason are unchanged.
	require.NoError(t, r.Cancel(tk.ID, "second call"))
	assert.Equal(t, task.StatusCancelled, tk.Status())
	assert.Equal(t, "user requested", tk.Error())
}

func TestCancelNonCancellableTaskConflicts(t *testing.T) {
	r := task.NewRegistry()
	tk, _ := r.Create(context.Background(), "sess-1", task.TypeMCPTool, "atomic", nil, false)

	err := r.Cancel(tk.ID, "nope")
	assert.Error(t, err)
	assert.Equal(t, task.StatusPending, tk.Status())
}

func TestListFiltersByParentSession(t *testing.T) {
	r := task.NewRegistry()
	a, _ := r.Create(context.Background(), "sess-a", task.TypeMCPTool, "t1", nil, true)
	_, _ = r.Create(context.Background(), "sess-b", task.TypeMCPTool, "t2", nil, true)

	list := r.List("sess-a")
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestUnknownTaskOperationsReturnNotFound(t *testing.T) {
	r := task.NewRegistry()
	assert.Error(t, r.UpdateProgress("nope", 0.5, "x"))
	assert.Error(t, r.Complete("nope", nil))
	assert.Error(t, r.Fail("nope", nil))
	assert.Error(t, r.Cancel("nope", "x"))
}
