package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/playbook-run/playbook/pkg/models"
	"github.com/playbook-run/playbook/pkg/template"
)

// Registry holds the closed set of plugins known to the process.
type Registry struct {
	logger  *slog.Logger
	plugins map[string]Plugin
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger,
		plugins: make(map[string]Plugin),
	}
}

func (r *Registry) Register(p Plugin) {
	meta := p.Metadata()
	r.plugins[meta.Name] = p
	r.logger.Debug("Registered plugin", "plugin", meta.Name, "functions", len(meta.Functions))
}

// Lookup returns the plugin registered under name.
func (r *Registry) Lookup(name string) (Plugin, error) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q not registered", name)
	}

	return p, nil
}

// Names lists the registered plugins.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}

	return names
}

// Call validates params against the function's declared schema and executes
// it. Validation failures and unknown functions are returned as errors; the
// runner records them as a NOK attempt.
func (r *Registry) Call(ctx context.Context, pluginName, function string, params map[string]any, config map[string]any) (any, error) {
	p, err := r.Lookup(pluginName)
	if err != nil {
		return nil, err
	}

	meta := p.Metadata()

	sig, ok := meta.Functions[function]
	if !ok {
		return nil, fmt.Errorf("function %q not found in plugin %q", function, pluginName)
	}

	if sig.Parameters != nil {
		coerced, err := coerceParams(sig.Parameters, params)
		if err != nil {
			return nil, fmt.Errorf("invalid parameters for %s.%s: %w", pluginName, function, err)
		}

		params = coerced

		if err := validateParams(sig.Parameters, params); err != nil {
			return nil, fmt.Errorf("invalid parameters for %s.%s: %w", pluginName, function, err)
		}
	}

	return p.Execute(ctx, function, params, config)
}

// coerceParams applies the declared-type conversions to rendered parameters.
// Templates yield strings, so "3" is accepted where an integer is declared.
func coerceParams(schema *Schema, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))

	for name, value := range params {
		prop, ok := schema.Properties[name]
		if !ok || prop.Type == "" {
			out[name] = value

			continue
		}

		declared, ok := schemaTypes[prop.Type]
		if !ok {
			out[name] = value

			continue
		}

		coerced, err := template.Coerce(value, declared)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}

		out[name] = coerced
	}

	return out, nil
}

// schemaTypes maps JSON Schema type names onto the coercion table.
var schemaTypes = map[string]models.VariableType{
	"string":  models.TypeString,
	"integer": models.TypeInt,
	"number":  models.TypeFloat,
	"boolean": models.TypeBool,
	"array":   models.TypeList,
	"object":  models.TypeDict,
}

func validateParams(schema *Schema, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(params),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return nil
}
