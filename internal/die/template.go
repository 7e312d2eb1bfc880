package die

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/heavyforge/heavyforge/internal/errs"
)

// PromptTemplate is a named prompt skeleton. Sections render in a fixed
// order (role, task, format, context, constraints, examples); any section
// that ends up empty after substitution is omitted entirely.
type PromptTemplate struct {
	Role        string
	Task        string
	Format      string
	Context     string
	Constraints []string
	Examples    []string
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// substitute replaces every {name} occurrence in s with variables[name],
// formatted with fmt.Sprintf("%v", ...). It returns a VALIDATION error
// naming the first unbound placeholder it finds.
func substitute(s string, variables map[string]any) (string, error) {
	var missing string
	result := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := match[1 : len(match)-1]
		v, ok := variables[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return match
		}
		return fmt.Sprintf("%v", v)
	})
	if missing != "" {
		return "", errs.New(errs.Validation, "die: unbound placeholder {"+missing+"}").
			WithDetails(map[string]any{"placeholder": missing})
	}
	return result, nil
}

// validateVariables rejects variables whose values cannot be rendered as
// plain text (functions, channels, maps of non-primitives). Strings,
// numbers, bools, and nil are always fine.
func validateVariables(variables map[string]any) error {
	for k, v := range variables {
		switch v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			continue
		default:
			return errs.New(errs.Validation, "die: variable "+k+" is not serializable").
				WithDetails(map[string]any{"variable": k})
		}
	}
	return nil
}

// Render substitutes variables into every section and joins the
// non-empty ones in order: role, task, format, context, constraints,
// examples.
func (t PromptTemplate) Render(variables map[string]any) (string, error) {
	if err := validateVariables(variables); err != nil {
		return "", err
	}

	var blocks []string

	if t.Role != "" {
		s, err := substitute(t.Role, variables)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, s)
	}
	if t.Task != "" {
		s, err := substitute(t.Task, variables)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, s)
	}
	if t.Format != "" {
		s, err := substitute(t.Format, variables)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, s)
	}
	if t.Context != "" {
		s, err := substitute(t.Context, variables)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, "Context: "+s)
	}
	if len(t.Constraints) > 0 {
		blocks = append(blocks, "Constraints:\n- "+strings.Join(t.Constraints, "\n- "))
	}
	if len(t.Examples) > 0 {
		blocks = append(blocks, "Examples:\n- "+strings.Join(t.Examples, "\n- "))
	}

	return strings.Join(blocks, "\n\n"), nil
}
