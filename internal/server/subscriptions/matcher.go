package subscriptions

import (
	"slices"
	"strings"
)

// Match evaluates if an event matches a subscription pattern
func Match(event Event, pattern Pattern) bool {
	if len(pattern.EventTypes) > 0 && !slices.Contains(pattern.EventTypes, event.Type) {
		return false
	}
	if len(pattern.TypeTags) > 0 && !slices.Contains(pattern.TypeTags, event.TypeTag) {
		return false
	}

	// Deletes carry no attributes, so an attribute pattern never matches them.
	for key, expected := range pattern.AttributeMatch {
		actual, ok := event.Attributes[key]
		if !ok || !matchValue(expected, actual) {
			return false
		}
	}
	return true
}

// matchValue compares expected and actual values with type flexibility
func matchValue(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == actual
	}

	// String comparison (case-insensitive)
	expectedStr, ok1 := expected.(string)
	actualStr, ok2 := actual.(string)
	if ok1 && ok2 {
		return strings.EqualFold(expectedStr, actualStr)
	}

	// Numeric comparison with type coercion
	expectedNum, ok1 := toFloat64(expected)
	actualNum, ok2 := toFloat64(actual)
	if ok1 && ok2 {
		return expectedNum == actualNum
	}

	expectedBool, ok1 := expected.(bool)
	actualBool, ok2 := actual.(bool)
	return ok1 && ok2 && expectedBool == actualBool
}

// toFloat64 converts various numeric types to float64
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
