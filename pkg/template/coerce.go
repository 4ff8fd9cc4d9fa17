package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/playbook-run/playbook/pkg/models"
)

// Coerce converts a rendered value to the declared type. Template rendering
// produces strings, so the common path is string-to-type conversion: the usual
// boolean words, decimal digits, numbers with a fractional part, and
// JSON-looking text for lists and dicts. Values that already carry the right
// type pass through unchanged.
func Coerce(value any, declared models.VariableType) (any, error) {
	switch declared {
	case models.TypeString, "":
		if s, ok := value.(string); ok {
			return s, nil
		}

		return fmt.Sprint(value), nil

	case models.TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}

			return nil, fmt.Errorf("expected int, got float %v", v)
		case bool:
			return nil, fmt.Errorf("expected int, got bool")
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to int", v)
			}

			return n, nil
		default:
			return nil, fmt.Errorf("expected int, got %T", value)
		}

	case models.TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to float", v)
			}

			return f, nil
		default:
			return nil, fmt.Errorf("expected float, got %T", value)
		}

	case models.TypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "on":
				return true, nil
			case "false", "0", "no", "off":
				return false, nil
			default:
				return nil, fmt.Errorf("cannot convert %q to bool", v)
			}
		default:
			return nil, fmt.Errorf("expected bool, got %T", value)
		}

	case models.TypeList:
		switch v := value.(type) {
		case []any:
			return v, nil
		case string:
			var list []any
			if err := json.Unmarshal([]byte(v), &list); err != nil {
				return nil, fmt.Errorf("cannot convert %q to list", v)
			}

			return list, nil
		default:
			return nil, fmt.Errorf("expected list, got %T", value)
		}

	case models.TypeDict:
		switch v := value.(type) {
		case map[string]any:
			return v, nil
		case string:
			var dict map[string]any
			if err := json.Unmarshal([]byte(v), &dict); err != nil {
				return nil, fmt.Errorf("cannot convert %q to dict", v)
			}

			return dict, nil
		default:
			return nil, fmt.Errorf("expected dict, got %T", value)
		}

	default:
		return nil, fmt.Errorf("unknown type %q", declared)
	}
}
