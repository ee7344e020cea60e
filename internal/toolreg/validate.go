package toolreg

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/TaterTotterson/Tater/internal/engine"
)

// ErrInvalidArguments wraps every schema validation failure.
var ErrInvalidArguments = errors.New("invalid arguments")

// ValidateArgs checks args against schema: required properties present,
// declared types respected, enum values honored. Undeclared properties are
// dropped. Numeric strings are accepted for number and integer properties
// since small models often quote them.
func ValidateArgs(schema *engine.Schema, args map[string]any) (Args, error) {
	out := make(Args)
	if schema == nil {
		return out, nil
	}

	var missing []string
	for _, name := range schema.Required {
		v, ok := args[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: missing required %s", ErrInvalidArguments, strings.Join(missing, ", "))
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, declared := schema.Properties[name]
		if !declared {
			continue
		}
		v := args[name]
		if v == nil {
			continue
		}
		cv, err := coerce(prop, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
		}
		out[name] = cv
	}
	return out, nil
}

func coerce(prop engine.SchemaProperty, v any) (any, error) {
	switch prop.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %s", typeName(v))
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, s) {
			return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(prop.Enum, ", "))
		}
		return s, nil
	case "number":
		return toFloat(v)
	case "integer":
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("want integer, got %v", f)
		}
		return int64(f), nil
	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			pb, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("want boolean, got %q", b)
			}
			return pb, nil
		}
		return nil, fmt.Errorf("want boolean, got %s", typeName(v))
	case "array":
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("want array, got %s", typeName(v))
		}
		if prop.Items == nil {
			return items, nil
		}
		out := make([]any, len(items))
		for i, it := range items {
			cv, err := coerce(*prop.Items, it)
			if err != nil {
				return nil, fmt.Errorf("item %d: %v", i, err)
			}
			out[i] = cv
		}
		return out, nil
	case "object":
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("want object, got %s", typeName(v))
		}
		return m, nil
	default:
		return v, nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("want number, got %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("want number, got %s", typeName(v))
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
