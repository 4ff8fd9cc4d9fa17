// Package template renders templated runbook fields against the resolved
// variables and the run's execution state. The surface syntax is a small
// expression language: `{{NAME}}` substitution, `{{NAME | default('x')}}`,
// filters (upper, lower, join, env), `{{if}}`/`{{range}}` blocks, and the
// runtime predicates has_succeeded / has_failed. Everything is compiled down
// to text/template.
package template

import (
	"fmt"
	"os"
	"strings"
	texttemplate "text/template"

	"github.com/playbook-run/playbook/pkg/errdefs"
)

// StatusSource answers the runtime predicates against current engine state.
type StatusSource interface {
	HasSucceeded(nodeID string) bool
	HasFailed(nodeID string) bool
	HasRun(nodeID string) bool
	IsSkipped(nodeID string) bool
}

// noStatus is used before any node has run (validation, variable preview).
type noStatus struct{}

func (noStatus) HasSucceeded(string) bool { return false }
func (noStatus) HasFailed(string) bool    { return false }
func (noStatus) HasRun(string) bool       { return false }
func (noStatus) IsSkipped(string) bool    { return false }

// Renderer renders template strings against a frozen variable snapshot.
type Renderer struct {
	vars   map[string]any
	status StatusSource
}

func NewRenderer(vars map[string]any, status StatusSource) *Renderer {
	if status == nil {
		status = noStatus{}
	}

	return &Renderer{vars: vars, status: status}
}

// Vars returns the variable snapshot the renderer was built with.
func (r *Renderer) Vars() map[string]any { return r.vars }

// Render renders input; fieldPath names the runbook field for error reports.
func (r *Renderer) Render(fieldPath, input string) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	tmpl, err := texttemplate.New(fieldPath).
		Option("missingkey=error").
		Funcs(r.funcs()).
		Parse(Rewrite(input))
	if err != nil {
		return "", errdefs.Wrap(errdefs.CodeTemplate, err, "invalid template in %s", fieldPath).
			WithContext("template", input)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, r.vars); err != nil {
		return "", errdefs.Wrap(errdefs.CodeTemplate, err, "cannot render %s", fieldPath).
			WithContext("template", input)
	}

	return buf.String(), nil
}

// RenderMap renders every string leaf of a parameter map, recursing into
// nested maps and lists.
func (r *Renderer) RenderMap(fieldPath string, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))

	for key, value := range params {
		rendered, err := r.renderValue(fieldPath+"."+key, value)
		if err != nil {
			return nil, err
		}

		out[key] = rendered
	}

	return out, nil
}

func (r *Renderer) renderValue(fieldPath string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.Render(fieldPath, v)
	case map[string]any:
		return r.RenderMap(fieldPath, v)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := r.renderValue(fmt.Sprintf("%s[%d]", fieldPath, i), item)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

func (r *Renderer) funcs() texttemplate.FuncMap {
	return texttemplate.FuncMap{
		"default": func(def, value any) any {
			if value == nil {
				return def
			}

			if s, ok := value.(string); ok && s == "" {
				return def
			}

			return value
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join": func(sep string, items any) (string, error) {
			switch list := items.(type) {
			case []string:
				return strings.Join(list, sep), nil
			case []any:
				parts := make([]string, len(list))
				for i, item := range list {
					parts[i] = fmt.Sprint(item)
				}

				return strings.Join(parts, sep), nil
			default:
				return "", fmt.Errorf("join expects a list, got %T", items)
			}
		},
		"env":           os.Getenv,
		"has_succeeded": r.status.HasSucceeded,
		"has_failed":    r.status.HasFailed,
		"has_run":       r.status.HasRun,
		"is_skipped":    r.status.IsSkipped,
	}
}

// Truthy interprets a rendered literal as a boolean: "false", "0", "no" and
// the empty string are falsy, everything else is truthy.
func Truthy(rendered string) bool {
	switch strings.ToLower(strings.TrimSpace(rendered)) {
	case "false", "0", "no", "":
		return false
	default:
		return true
	}
}
