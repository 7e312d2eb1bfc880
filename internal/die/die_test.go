package die_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavyforge/heavyforge/internal/die"
	"github.com/heavyforge/heavyforge/internal/errs"
)

func TestContextualMemory_UpdateContextMergesInPlace(t *testing.T) {
	m := die.NewContextualMemory()
	m.UpdateContext(map[string]any{"task": "analysis", "status": "in_progress"})
	m.UpdateContext(map[string]any{"priority": "high"})

	got := m.ShortTerm()
	assert.Equal(t, "analysis", got["task"])
	assert.Equal(t, "in_progress", got["status"])
	assert.Equal(t, "high", got["priority"])
}

func TestContextualMemory_CompressesPastThreshold(t *testing.T) {
	m := die.NewContextualMemory().WithThreshold(3)
	m.UpdateContext(map[string]any{"a": "1"})
	m.UpdateContext(map[string]any{"b": "2"})
	m.UpdateContext(map[string]any{"c": "3"})
	m.UpdateContext(map[string]any{"d": "4"}) // pushes short-term to 4 > threshold 3

	assert.Empty(t, m.ShortTerm())
	summary := m.SummarySnapshot()
	assert.Contains(t, summary["recent_context"], "1")
	assert.Contains(t, summary["recent_context"], "4")
}

func TestContextualMemory_LongTermNeverCompresses(t *testing.T) {
	m := die.NewContextualMemory().WithThreshold(1)
	m.SetLongTerm("user_type", "developer")
	m.UpdateContext(map[string]any{"a": "1", "b": "2"})

	assert.Equal(t, "developer", m.LongTermSnapshot()["user_type"])
}

func TestPromptTemplate_RenderOmitsEmptySections(t *testing.T) {
	tmpl := die.PromptTemplate{Role: "Assistant", Task: "Summarize the text"}
	out, err := tmpl.Render(nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "Constraints:")
	assert.NotContains(t, out, "Examples:")
}

func TestPromptTemplate_RenderSubstitutesPlaceholders(t *testing.T) {
	tmpl := die.PromptTemplate{
		Role:   "You are a {role_type} assistant",
		Task:   "Help with {task_type}",
		Format: "Provide {output_format} response",
	}
	out, err := tmpl.Render(map[string]any{
		"role_type":     "coding",
		"task_type":     "debugging",
		"output_format": "structured",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "coding assistant")
	assert.Contains(t, out, "debugging")
	assert.Contains(t, out, "structured response")
}

func TestPromptTemplate_RenderConstraintsAndExamples(t *testing.T) {
	tmpl := die.PromptTemplate{
		Role:        "Assistant",
		Task:        "Summarize the text",
		Format:      "Brief summary",
		Constraints: []string{"Keep under 100 words", "Focus on key points"},
	}
	out, err := tmpl.Render(nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Constraints:")
	assert.Contains(t, out, "Keep under 100 words")
	assert.Contains(t, out, "Focus on key points")
}

func TestPromptTemplate_UnboundPlaceholderIsValidation(t *testing.T) {
	tmpl := die.PromptTemplate{Task: "Do {thing}"}
	_, err := tmpl.Render(nil)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestPromptTemplate_NonSerializableVariableIsValidation(t *testing.T) {
	tmpl := die.PromptTemplate{Task: "Do {thing}"}
	_, err := tmpl.Render(map[string]any{"thing": func() {}})
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestGenerator_UnknownTemplateIsValidation(t *testing.T) {
	g := die.NewGenerator()
	m := die.NewContextualMemory()
	_, err := g.GeneratePrompt("nonexistent", nil, m, "assistant", "gpt-4")
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestGenerator_GeneratePromptBasic(t *testing.T) {
	g := die.NewGenerator()
	g.RegisterTemplate("basic", die.PromptTemplate{
		Role:   "You are a {role_type} assistant",
		Task:   "Help with {task_type}",
		Format: "Provide {output_format} response",
	})

	m := die.NewContextualMemory()
	m.UpdateContext(map[string]any{"last_action": "greeting"})

	out, err := g.GeneratePrompt("basic", map[string]any{
		"role_type":     "coding",
		"task_type":     "debugging",
		"output_format": "structured",
	}, m, "developer_assistant", "gpt-4")
	require.NoError(t, err)
	assert.Contains(t, out, "coding assistant")
	assert.Contains(t, out, "debugging")
	assert.Contains(t, out, "structured response")
}

func TestGenerator_ClaudeFamilyGetsTurnMarkers(t *testing.T) {
	g := die.NewGenerator()
	g.RegisterTemplate("t", die.PromptTemplate{Role: "Assistant", Task: "Answer the question"})
	m := die.NewContextualMemory()

	claude, err := g.GeneratePrompt("t", nil, m, "assistant", "claude-3.5-sonnet")
	require.NoError(t, err)
	assert.Contains(t, claude, "Human:")
	assert.Contains(t, claude, "Assistant:")

	gpt, err := g.GeneratePrompt("t", nil, m, "assistant", "gpt-4")
	require.NoError(t, err)
	assert.NotContains(t, gpt, "Human:")
}

func TestGenerator_ContextIncludesMemory(t *testing.T) {
	g := die.NewGenerator()
	g.RegisterTemplate("t", die.PromptTemplate{Role: "Assistant", Task: "Continue the conversation"})

	m := die.NewContextualMemory()
	m.UpdateContext(map[string]any{"user_question": "What is Python?"})
	m.Compress()

	out, err := g.GeneratePrompt("t", nil, m, "tutor", "gpt-4")
	require.NoError(t, err)
	assert.Contains(t, out, "What is Python?")
}
