package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoPlugin is a minimal plugin for registry tests.
type echoPlugin struct {
	lastParams map[string]any
	lastConfig map[string]any
}

func (p *echoPlugin) Metadata() Metadata {
	return Metadata{
		Name:    "echo",
		Version: "0.1.0",
		Functions: map[string]Function{
			"say": {
				Description: "Repeat a message n times",
				Parameters: ObjectSchema(map[string]*Property{
					"message": {Type: "string"},
					"times":   {Type: "integer"},
				}, "message"),
			},
			"boom": {
				Description: "Always fails",
			},
		},
	}
}

func (p *echoPlugin) Execute(ctx context.Context, function string, params map[string]any, config map[string]any) (any, error) {
	p.lastParams = params
	p.lastConfig = config

	switch function {
	case "say":
		return params["message"], nil
	case "boom":
		return nil, fmt.Errorf("boom")
	default:
		return nil, fmt.Errorf("unknown function %q", function)
	}
}

func testRegistry(t *testing.T) (*Registry, *echoPlugin) {
	t.Helper()

	registry := NewRegistry(slog.Default())
	p := &echoPlugin{}
	registry.Register(p)

	return registry, p
}

func TestRegistry_LookupUnknownPlugin(t *testing.T) {
	registry, _ := testRegistry(t)

	_, err := registry.Lookup("ghost")
	require.Error(t, err)
}

func TestRegistry_CallValidatesSchema(t *testing.T) {
	registry, _ := testRegistry(t)
	ctx := context.Background()

	// Missing required parameter.
	_, err := registry.Call(ctx, "echo", "say", map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message")

	// Wrong type that cannot be coerced.
	_, err = registry.Call(ctx, "echo", "say", map[string]any{
		"message": "hi",
		"times":   "lots",
	}, nil)
	require.Error(t, err)

	result, err := registry.Call(ctx, "echo", "say", map[string]any{"message": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestRegistry_CoercesRenderedStrings(t *testing.T) {
	registry, p := testRegistry(t)

	// Rendered templates hand over strings; declared types pull them back.
	_, err := registry.Call(context.Background(), "echo", "say", map[string]any{
		"message": "hi",
		"times":   "3",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.lastParams["times"])
}

func TestRegistry_UnknownFunction(t *testing.T) {
	registry, _ := testRegistry(t)

	_, err := registry.Call(context.Background(), "echo", "shout", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shout")
}

func TestRegistry_PluginErrorsPropagate(t *testing.T) {
	registry, _ := testRegistry(t)

	_, err := registry.Call(context.Background(), "echo", "boom", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRegistry_ConfigReachesPlugin(t *testing.T) {
	registry, p := testRegistry(t)

	config := map[string]any{"endpoint": "https://example.com"}

	_, err := registry.Call(context.Background(), "echo", "say", map[string]any{"message": "hi"}, config)
	require.NoError(t, err)
	assert.Equal(t, config, p.lastConfig)
}
