package die

import (
	"strings"
	"sync"

	"github.com/heavyforge/heavyforge/internal/errs"
)

// Generator assembles final prompts from registered templates, a
// variables mapping, an agent's contextual memory, and the target
// model's preferred wire format. Unlike the model registry, the template
// set is operator-curated and legitimately redefined at runtime, so
// registration here allows overwrites rather than using the
// register-once internal/registry.BaseRegistry.
type Generator struct {
	mu        sync.RWMutex
	templates map[string]PromptTemplate
}

// NewGenerator builds an empty template registry.
func NewGenerator() *Generator {
	return &Generator{templates: make(map[string]PromptTemplate)}
}

// RegisterTemplate adds or replaces a named template.
func (g *Generator) RegisterTemplate(name string, t PromptTemplate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.templates[name] = t
}

// isClaudeFamily reports whether targetModel names an Anthropic Claude
// model, by substring match on the common "claude" naming convention.
func isClaudeFamily(targetModel string) bool {
	return strings.Contains(strings.ToLower(targetModel), "claude")
}

// GeneratePrompt renders templateName with variables and the memory's
// context, then adapts the result to the target model's preferred
// format: Claude-family targets get Human:/Assistant: turn markers,
// everything else is returned as a plain prompt string.
func (g *Generator) GeneratePrompt(templateName string, variables map[string]any, memory *ContextualMemory, agentRole string, targetModel string) (string, error) {
	g.mu.RLock()
	tmpl, ok := g.templates[templateName]
	g.mu.RUnlock()
	if !ok {
		return "", errs.New(errs.Validation, "die: template "+templateName+" not found").
			WithDetails(map[string]any{"template": templateName})
	}

	if memory != nil {
		if block := memory.contextBlock(); block != "" {
			if tmpl.Context != "" {
				tmpl.Context = tmpl.Context + "\n" + block
			} else {
				tmpl.Context = block
			}
		}
	}

	body, err := tmpl.Render(variables)
	if err != nil {
		return "", err
	}

	if agentRole != "" {
		body = "Acting as: " + agentRole + "\n\n" + body
	}

	if isClaudeFamily(targetModel) {
		return "Human: " + body + "\n\nAssistant:", nil
	}
	return body, nil
}
