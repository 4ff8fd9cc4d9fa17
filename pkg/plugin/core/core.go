// Package core is the built-in plugin shipped with every playbook binary. It
// provides small operational helpers so runbooks work without external
// plugins: pausing, emitting markers and probing HTTP endpoints.
package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/playbook-run/playbook/pkg/plugin"
)

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "core",
		Version:     "1.0.0",
		Description: "Built-in operational helpers",
		Functions: map[string]plugin.Function{
			"sleep": {
				Description: "Pause for a number of seconds",
				Parameters: plugin.ObjectSchema(map[string]*plugin.Property{
					"seconds": {Type: "number", Minimum: floatPtr(0)},
				}, "seconds"),
			},
			"echo": {
				Description: "Return the given message",
				Parameters: plugin.ObjectSchema(map[string]*plugin.Property{
					"message": {Type: "string"},
				}, "message"),
			},
			"fail": {
				Description: "Fail with the given message",
				Parameters: plugin.ObjectSchema(map[string]*plugin.Property{
					"message": {Type: "string"},
				}),
			},
			"http_check": {
				Description: "Probe a URL and fail unless it returns 2xx",
				Parameters: plugin.ObjectSchema(map[string]*plugin.Property{
					"url":             {Type: "string"},
					"timeout_seconds": {Type: "number", Minimum: floatPtr(0)},
				}, "url"),
			},
		},
	}
}

func (p *Plugin) Execute(ctx context.Context, function string, params map[string]any, config map[string]any) (any, error) {
	switch function {
	case "sleep":
		return p.sleep(ctx, params)
	case "echo":
		return params["message"], nil
	case "fail":
		message, _ := params["message"].(string)
		if message == "" {
			message = "failed on request"
		}

		return nil, fmt.Errorf("%s", message)
	case "http_check":
		return p.httpCheck(ctx, params)
	default:
		return nil, fmt.Errorf("unknown function %q", function)
	}
}

func (p *Plugin) sleep(ctx context.Context, params map[string]any) (any, error) {
	seconds := toFloat(params["seconds"])

	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return fmt.Sprintf("slept %gs", seconds), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Plugin) httpCheck(ctx context.Context, params map[string]any) (any, error) {
	url, _ := params["url"].(string)

	timeout := 10 * time.Second
	if t := toFloat(params["timeout_seconds"]); t > 0 {
		timeout = time.Duration(t * float64(time.Second))
	}

	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("probe %s: unexpected status %d", url, resp.StatusCode)
	}

	return fmt.Sprintf("%s -> %d", url, resp.StatusCode), nil
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

func floatPtr(f float64) *float64 { return &f }
