package engine

import (
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// Evaluate applies a named comparison operator to two values. It is pure
// and never panics; unknown operators evaluate to false.
func Evaluate(left, right any, operator string) bool {
	switch operator {
	case "equals", "==":
		return valuesEqual(left, right)
	case "not_equals", "!=":
		return !valuesEqual(left, right)
	case "contains":
		return strings.Contains(cast.ToString(left), cast.ToString(right))
	case "greater_than", ">":
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		return lok && rok && l > r
	case "less_than", "<":
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		return lok && rok && l < r
	case "is_empty":
		return isEmpty(left)
	case "is_not_empty":
		return !isEmpty(left)
	default:
		return false
	}
}

// valuesEqual compares numerically when both sides are numbers, so 1, 1.0,
// and "1" compare equal regardless of how JSON decoding typed them.
func valuesEqual(left, right any) bool {
	if l, lok := toFloat(left); lok {
		if r, rok := toFloat(right); rok {
			return l == r
		}
		return false
	}
	return reflect.DeepEqual(left, right)
}

// toFloat coerces numbers and numeric strings. Bools are excluded so that
// true/false never take the numeric comparison path.
func toFloat(v any) (float64, bool) {
	switch v.(type) {
	case nil, bool:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	return f, err == nil
}

// isEmpty reports whether v is nil, a zero scalar, or an empty sequence.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case bool:
		return !val
	}
	if f, ok := toFloat(v); ok {
		return f == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}
