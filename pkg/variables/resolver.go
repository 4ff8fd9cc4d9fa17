// Package variables merges variable sources, validates them against the
// runbook's declared specs and produces the frozen map handed to template
// rendering. Precedence, highest first: explicit overrides, a variables file,
// prefixed environment variables, interactive prompts for missing required
// specs, declared defaults.
package variables

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/template"
)

// DefaultEnvPrefix scopes which environment variables are scraped.
const DefaultEnvPrefix = "PLAYBOOK_VAR_"

// Prompter asks the operator for a variable value.
type Prompter interface {
	PromptVariable(spec *models.VariableSpec) (string, error)
}

// Resolver computes the resolved-variables map for a run.
type Resolver struct {
	specs       map[string]*models.VariableSpec
	interactive bool
	prompter    Prompter
}

func NewResolver(specs map[string]*models.VariableSpec, interactive bool, prompter Prompter) *Resolver {
	return &Resolver{specs: specs, interactive: interactive, prompter: prompter}
}

// Sources carries the pre-loaded variable layers.
type Sources struct {
	Overrides map[string]any
	File      map[string]any
	Env       map[string]any
}

// Resolve merges the sources, prompts for missing required variables when
// allowed, applies defaults and validates everything against the specs.
func (r *Resolver) Resolve(src Sources) (map[string]any, error) {
	merged := make(map[string]any)

	// Reverse precedence order: later layers win.
	for name, spec := range r.specs {
		if spec.Default != nil {
			merged[name] = spec.Default
		}
	}

	for _, layer := range []map[string]any{src.Env, src.File, src.Overrides} {
		for name, value := range layer {
			merged[name] = value
		}
	}

	if err := r.promptMissing(merged); err != nil {
		return nil, err
	}

	if err := r.validate(merged); err != nil {
		return nil, err
	}

	return merged, nil
}

func (r *Resolver) promptMissing(merged map[string]any) error {
	missing := make([]string, 0)

	for name, spec := range r.specs {
		if spec.Required && merged[name] == nil {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)

	if !r.interactive || r.prompter == nil || !isatty.IsTerminal(os.Stdin.Fd()) {
		return errdefs.New(errdefs.CodeVarMissingRequired,
			"required variables not supplied: %s", strings.Join(missing, ", ")).
			WithSuggestion("pass them with --var NAME=value or a --vars-file")
	}

	for _, name := range missing {
		spec := r.specs[name]

		for {
			raw, err := r.prompter.PromptVariable(spec)
			if err != nil {
				return errdefs.Wrap(errdefs.CodeVarMissingRequired, err,
					"prompt for variable %q failed", name)
			}

			value, err := validateValue(raw, spec)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid value: %v\n", err)

				continue
			}

			merged[name] = value

			break
		}
	}

	return nil
}

func (r *Resolver) validate(merged map[string]any) error {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		spec := r.specs[name]

		value, ok := merged[name]
		if !ok || value == nil {
			if spec.Required {
				return errdefs.New(errdefs.CodeVarMissingRequired,
					"required variable %q is missing", name)
			}

			continue
		}

		validated, err := validateValue(value, spec)
		if err != nil {
			return err
		}

		merged[name] = validated
	}

	return nil
}

// validateValue coerces value to the declared type and checks constraints.
func validateValue(value any, spec *models.VariableSpec) (any, error) {
	coerced, err := template.Coerce(value, spec.Type)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeVarCoercionFailed, err,
			"variable %q has the wrong type", spec.Name)
	}

	if len(spec.Choices) > 0 {
		if !inChoices(coerced, spec) {
			choices := make([]string, len(spec.Choices))
			for i, c := range spec.Choices {
				choices[i] = fmt.Sprint(c)
			}

			return nil, errdefs.New(errdefs.CodeVarBadChoice,
				"variable %q value %v not in allowed choices: [%s]",
				spec.Name, coerced, strings.Join(choices, ", "))
		}
	}

	if spec.Type == models.TypeInt || spec.Type == models.TypeFloat {
		n := toFloat(coerced)

		if spec.Min != nil && n < *spec.Min {
			return nil, errdefs.New(errdefs.CodeVarOutOfRange,
				"variable %q value %v is below minimum %v", spec.Name, coerced, *spec.Min)
		}

		if spec.Max != nil && n > *spec.Max {
			return nil, errdefs.New(errdefs.CodeVarOutOfRange,
				"variable %q value %v is above maximum %v", spec.Name, coerced, *spec.Max)
		}
	}

	if spec.Type == models.TypeString && spec.Pattern != "" {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.CodeVarCoercionFailed, err,
				"variable %q has an invalid pattern", spec.Name)
		}

		if !re.MatchString(coerced.(string)) {
			return nil, errdefs.New(errdefs.CodeVarOutOfRange,
				"variable %q value %q does not match pattern %q", spec.Name, coerced, spec.Pattern)
		}
	}

	return coerced, nil
}

// inChoices compares after coercing each declared choice, so "1" matches the
// int choice 1.
func inChoices(value any, spec *models.VariableSpec) bool {
	for _, choice := range spec.Choices {
		coerced, err := template.Coerce(choice, spec.Type)
		if err != nil {
			continue
		}

		if fmt.Sprint(coerced) == fmt.Sprint(value) {
			return true
		}
	}

	return false
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
