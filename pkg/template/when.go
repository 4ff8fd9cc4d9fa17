package template

import (
	"strings"

	"github.com/expr-lang/expr"

	"github.com/playbook-run/playbook/pkg/errdefs"
)

// EvalWhen evaluates a node's gating condition. Template-style conditions
// (`{{ has_succeeded("build") }}`) are rendered and checked for a falsy
// literal; anything else is treated as a boolean expression over the
// variables and the runtime predicates (`ENV == "prod" and has_run("build")`).
func (r *Renderer) EvalWhen(fieldPath, condition string) (bool, error) {
	condition = strings.TrimSpace(condition)

	switch condition {
	case "", "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	}

	if strings.Contains(condition, "{{") {
		rendered, err := r.Render(fieldPath, condition)
		if err != nil {
			return false, err
		}

		return Truthy(rendered), nil
	}

	env := make(map[string]any, len(r.vars)+4)
	for k, v := range r.vars {
		env[k] = v
	}

	env["has_succeeded"] = r.status.HasSucceeded
	env["has_failed"] = r.status.HasFailed
	env["has_run"] = r.status.HasRun
	env["is_skipped"] = r.status.IsSkipped

	program, err := expr.Compile(condition, expr.Env(env))
	if err != nil {
		return false, errdefs.Wrap(errdefs.CodeTemplate, err, "invalid condition in %s", fieldPath).
			WithContext("condition", condition)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, errdefs.Wrap(errdefs.CodeTemplate, err, "cannot evaluate condition in %s", fieldPath).
			WithContext("condition", condition)
	}

	switch v := result.(type) {
	case bool:
		return v, nil
	case string:
		return Truthy(v), nil
	case nil:
		return false, nil
	default:
		return true, nil
	}
}
