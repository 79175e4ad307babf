package utils

import "fmt"

// SafeAssert performs a type assertion and returns the value and success status.
func SafeAssert[T any](value any) (T, bool) {
	if v, ok := value.(T); ok {
		return v, true
	}
	var zero T
	return zero, false
}

// GetMapField gets a field from a map[string]any and asserts its type.
func GetMapField[T any](m map[string]any, key string) (T, error) {
	var zero T
	value, exists := m[key]
	if !exists {
		return zero, fmt.Errorf("field '%s' not found in map", key)
	}
	if typedValue, ok := value.(T); ok {
		return typedValue, nil
	}
	return zero, fmt.Errorf("field '%s' expected type %T, got %T", key, zero, value)
}

// GetMapFieldOr gets a field from a map[string]any with a default value.
func GetMapFieldOr[T any](m map[string]any, key string, defaultValue T) T {
	if value, err := GetMapField[T](m, key); err == nil {
		return value
	}
	return defaultValue
}

// GetStringSlice reads a JSON-decoded []any of strings, skipping non-string entries.
func GetStringSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
