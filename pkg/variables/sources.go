package variables

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/playbook-run/playbook/pkg/errdefs"
)

// ParseKVs parses --var KEY=VALUE arguments. Values that look like JSON
// arrays or objects are decoded so lists and dicts can be passed inline.
func ParseKVs(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, errdefs.New(errdefs.CodeVarCoercionFailed,
				"invalid variable format: %s", pair).
				WithSuggestion("use KEY=VALUE format, e.g. --var ENVIRONMENT=production")
		}

		vars[strings.TrimSpace(key)] = sniffJSON(strings.TrimSpace(value))
	}

	return vars, nil
}

// LoadFile reads a variables file; the format is chosen by extension:
// .toml, .json or .env (KEY=value lines).
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeVarCoercionFailed, err,
			"cannot read variables file %s", path).
			WithSuggestion("check the file path and ensure the file exists")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		vars := make(map[string]any)
		if err := toml.Unmarshal(data, &vars); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeVarCoercionFailed, err,
				"cannot parse variables file %s", path)
		}

		return vars, nil
	case ".json":
		vars := make(map[string]any)
		if err := json.Unmarshal(data, &vars); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeVarCoercionFailed, err,
				"cannot parse variables file %s", path)
		}

		return vars, nil
	case ".env":
		return parseEnvFile(string(data)), nil
	default:
		return nil, errdefs.New(errdefs.CodeVarCoercionFailed,
			"unknown variables file format: %s", path).
			WithSuggestion("use a .toml, .json or .env extension")
	}
}

// FromEnv scrapes process environment variables carrying the prefix.
func FromEnv(prefix string) map[string]any {
	vars := make(map[string]any)

	for _, entry := range os.Environ() {
		key, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(key, prefix) {
			continue
		}

		vars[key[len(prefix):]] = sniffJSON(value)
	}

	return vars
}

func parseEnvFile(content string) map[string]any {
	vars := make(map[string]any)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		vars[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}

	return vars
}

// sniffJSON decodes values that look like JSON arrays or objects; everything
// else stays a string.
func sniffJSON(value string) any {
	if strings.HasPrefix(value, "[") || strings.HasPrefix(value, "{") {
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			return decoded
		}
	}

	return value
}
