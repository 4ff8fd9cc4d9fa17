// Package models defines the core domain models for runbook execution.
package models

import (
	"fmt"
	"time"
)

// NodeKind discriminates the three node handlers.
type NodeKind string

const (
	KindManual   NodeKind = "Manual"
	KindCommand  NodeKind = "Command"
	KindFunction NodeKind = "Function"
)

// Runbook is the declarative description of a workflow. It is immutable after
// parsing; Nodes preserves declaration order from the source file.
type Runbook struct {
	Title       string    `toml:"title"       validate:"required"`
	Description string    `toml:"description" validate:"required"`
	Version     string    `toml:"version"     validate:"required"`
	Author      string    `toml:"author"      validate:"required"`
	CreatedAt   time.Time `toml:"created_at"`

	Nodes     []*Node                  `toml:"-"`
	Variables map[string]*VariableSpec `toml:"-"`

	// PluginConfig holds [runbook.plugin_config.<name>] tables, merged under
	// per-node plugin_config at execution time.
	PluginConfig map[string]map[string]any `toml:"-"`

	// Digest is the sha256 of the source file, recorded on every run for
	// resume consistency checks.
	Digest string `toml:"-"`
}

// Node returns the node with the given id, or nil.
func (rb *Runbook) Node(id string) *Node {
	for _, n := range rb.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// Node is one step of a runbook. Kind-specific fields are populated according
// to Kind; the rest stay zero.
type Node struct {
	ID          string   `toml:"-"`
	Kind        NodeKind `toml:"type" validate:"required"`
	Name        string   `toml:"name"`
	Description string   `toml:"description"`

	// DependsOn is the raw dependency expression from the file. The planner
	// expands it into concrete edges.
	DependsOn DependencyExpr `toml:"depends_on"`

	Critical bool `toml:"critical"`
	Skip     bool `toml:"skip"`

	// Timeout in seconds; 0 means the engine default applies.
	Timeout int `toml:"timeout"`

	// When is an optional gating condition evaluated at dispatch time.
	When string `toml:"when"`

	PromptBefore string `toml:"prompt_before"`
	PromptAfter  string `toml:"prompt_after"`

	// Command nodes.
	Command     string `toml:"command_name"`
	Interactive bool   `toml:"interactive"`

	// Function nodes.
	Plugin       string         `toml:"plugin"`
	Function     string         `toml:"function"`
	Params       map[string]any `toml:"function_params"`
	PluginConfig map[string]any `toml:"plugin_config"`
}

// DisplayName is the node name, falling back to the id.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}

	return n.ID
}

// DependencyExpr is the raw depends_on value: absent, a single string
// (including the "^" and "*" shorthands), or a list of identifiers each
// optionally qualified with :success or :failure.
type DependencyExpr struct {
	Set    bool
	Single string
	Many   []string
}

// UnmarshalTOML accepts either a string or an array of strings.
func (d *DependencyExpr) UnmarshalTOML(v any) error {
	switch value := v.(type) {
	case string:
		d.Set = true
		d.Single = value
	case []any:
		d.Set = true
		d.Many = make([]string, 0, len(value))

		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("depends_on entries must be strings, got %T", item)
			}

			d.Many = append(d.Many, s)
		}
	default:
		return fmt.Errorf("depends_on must be a string or an array of strings, got %T", v)
	}

	return nil
}
