package agent

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// ValidateArgs checks args against the subset of JSON Schema the built-in
// tools declare: required keys, primitive property types and enums.
// Unknown extra keys are ignored.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	for _, key := range requiredKeys(schema["required"]) {
		if v, ok := args[key]; !ok || v == nil {
			return fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, key)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, ok := props[key].(map[string]any)
		if !ok || args[key] == nil {
			continue
		}
		want, _ := prop["type"].(string)
		if want != "" && !hasType(args[key], want) {
			return fmt.Errorf("%w: argument %q must be of type %s, got %T", ErrInvalidArguments, key, want, args[key])
		}
		if enum := stringList(prop["enum"]); len(enum) > 0 {
			s, _ := args[key].(string)
			if !slices.Contains(enum, s) {
				return fmt.Errorf("%w: argument %q must be one of %v, got %v", ErrInvalidArguments, key, enum, args[key])
			}
		}
	}
	return nil
}

func hasType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		_, ok := toInt(v)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func requiredKeys(v any) []string { return stringList(v) }

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringArg returns args[key] as a string. Missing keys yield "".
func StringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %q must be a string", ErrInvalidArguments, key)
	}
	return s, nil
}

// IntArg returns args[key] as an int. JSON numbers with no fractional part
// are accepted.
func IntArg(args map[string]any, key string) (int, error) {
	n, ok := toInt(args[key])
	if !ok {
		return 0, fmt.Errorf("%w: argument %q must be an integer", ErrInvalidArguments, key)
	}
	return n, nil
}

// StringSliceArg returns args[key] as a list of strings. Missing keys yield nil.
func StringSliceArg(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch l := v.(type) {
	case []string:
		return l, nil
	case []any:
		out := make([]string, 0, len(l))
		for i, e := range l {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a string", ErrInvalidArguments, key, i)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: argument %q must be an array of strings", ErrInvalidArguments, key)
}
