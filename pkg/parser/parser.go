// Package parser reads runbook TOML files into domain models. The file has a
// [runbook] metadata section, an optional [variables] table and one table per
// node; node declaration order is preserved because the planner and the
// implicit-dependency rules depend on it.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/playbook-run/playbook/pkg/errdefs"
	"github.com/playbook-run/playbook/pkg/models"
)

const fileSuffix = ".playbook.toml"

var validate = validator.New()

type runbookMeta struct {
	Title        string                    `toml:"title"       validate:"required"`
	Description  string                    `toml:"description" validate:"required"`
	Version      string                    `toml:"version"     validate:"required"`
	Author       string                    `toml:"author"      validate:"required"`
	CreatedAt    any                       `toml:"created_at"  validate:"required"`
	PluginConfig map[string]map[string]any `toml:"plugin_config"`
}

// Parse reads and validates a runbook file.
func Parse(path string) (*models.Runbook, error) {
	if !strings.HasSuffix(path, fileSuffix) {
		return nil, errdefs.New(errdefs.CodeParse, "runbook file must have a %s extension", fileSuffix).
			WithContext("file", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeParse, err, "cannot read runbook file %s", path).
			WithSuggestion("check the file path and ensure the file exists")
	}

	rb, err := ParseBytes(data)
	if err != nil {
		return nil, err
	}

	rb.Digest = digest(data)

	return rb, nil
}

// ParseBytes parses runbook TOML content. The digest is left empty.
func ParseBytes(data []byte) (*models.Runbook, error) {
	var raw map[string]toml.Primitive

	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeParse, err, "invalid TOML").
			WithSuggestion("check the TOML syntax and ensure all required fields are present")
	}

	metaPrim, ok := raw["runbook"]
	if !ok {
		return nil, errdefs.New(errdefs.CodeParse, "missing required [runbook] section")
	}

	var meta runbookMeta
	if err := md.PrimitiveDecode(metaPrim, &meta); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeParse, err, "invalid [runbook] section")
	}

	if err := validate.Struct(&meta); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeParse, err, "incomplete [runbook] section").
			WithSuggestion("title, description, version, author and created_at are required")
	}

	createdAt, err := parseCreatedAt(meta.CreatedAt)
	if err != nil {
		return nil, err
	}

	rb := &models.Runbook{
		Title:        meta.Title,
		Description:  meta.Description,
		Version:      meta.Version,
		Author:       meta.Author,
		CreatedAt:    createdAt,
		PluginConfig: meta.PluginConfig,
		Variables:    make(map[string]*models.VariableSpec),
	}

	if varsPrim, ok := raw["variables"]; ok {
		var specs map[string]*models.VariableSpec
		if err := md.PrimitiveDecode(varsPrim, &specs); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeParse, err, "invalid [variables] section")
		}

		for name, spec := range specs {
			spec.Name = name
			if spec.Type == "" {
				spec.Type = models.TypeString
			}

			rb.Variables[name] = spec
		}
	}

	// Every remaining top-level table is a node; walk md.Keys to keep the
	// declaration order of the file.
	seen := make(map[string]bool)

	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}

		id := key[0]
		if id == "runbook" || id == "variables" || seen[id] {
			continue
		}

		seen[id] = true

		node, err := decodeNode(md, raw[id], id)
		if err != nil {
			return nil, err
		}

		rb.Nodes = append(rb.Nodes, node)
	}

	if len(rb.Nodes) == 0 {
		return nil, errdefs.New(errdefs.CodeParse, "runbook defines no nodes")
	}

	return rb, nil
}

func decodeNode(md toml.MetaData, prim toml.Primitive, id string) (*models.Node, error) {
	node := &models.Node{ID: id}

	if err := md.PrimitiveDecode(prim, node); err != nil {
		return nil, errdefs.Wrap(errdefs.CodeParse, err, "invalid node %q", id)
	}

	if node.Kind == "" {
		return nil, errdefs.New(errdefs.CodeParse, "missing required field 'type' in node %q", id)
	}

	switch node.Kind {
	case models.KindManual:
		if node.PromptAfter == "" {
			node.PromptAfter = "Continue with the next step?"
		}
	case models.KindCommand, models.KindFunction:
	default:
		return nil, errdefs.New(errdefs.CodeParse, "unknown node type %q in node %q", node.Kind, id).
			WithSuggestion("valid types are Manual, Command and Function")
	}

	return node, nil
}

func parseCreatedAt(v any) (time.Time, error) {
	switch value := v.(type) {
	case time.Time:
		return value, nil
	case string:
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, errdefs.Wrap(errdefs.CodeParse, err, "created_at is not RFC3339")
		}

		return t, nil
	default:
		return time.Time{}, errdefs.New(errdefs.CodeParse, "created_at must be a datetime, got %T", v)
	}
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// Digest returns the sha256 hex digest of a runbook file.
func Digest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read runbook for digest: %w", err)
	}

	return digest(data), nil
}
