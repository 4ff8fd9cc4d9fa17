package template

import (
	"strings"
	texttemplate "text/template"

	"github.com/playbook-run/playbook/pkg/errdefs"
)

// CheckSyntax parses a template without executing it, so validation can
// reject malformed fields before a run starts. Non-template strings pass.
func CheckSyntax(fieldPath, input string) error {
	if !strings.Contains(input, "{{") {
		return nil
	}

	dummy := NewRenderer(nil, nil)

	_, err := texttemplate.New(fieldPath).
		Funcs(dummy.funcs()).
		Parse(Rewrite(input))
	if err != nil {
		return errdefs.Wrap(errdefs.CodeTemplate, err, "invalid template in %s", fieldPath).
			WithContext("template", input)
	}

	return nil
}
