package protocol

import (
	"math"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Int converts a decoded JSON number (or a Go integer) to int. It reports
// false for non-integral or non-numeric values.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case float32:
		return Int(float64(n))
	default:
		return 0, false
	}
}

// Bool converts a decoded JSON boolean.
func Bool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// String converts a decoded JSON string.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Strings converts a decoded JSON array of strings.
func Strings(v any) ([]string, bool) {
	switch a := v.(type) {
	case []string:
		return a, true
	case []any:
		out := make([]string, 0, len(a))
		for _, e := range a {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Ints converts a decoded JSON array of integers.
func Ints(v any) ([]int, bool) {
	switch a := v.(type) {
	case []int:
		return a, true
	case []any:
		out := make([]int, 0, len(a))
		for _, e := range a {
			n, ok := Int(e)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}

// Normalize returns v as it would look after crossing the wire: structs
// become maps, numbers become float64.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return v, nil
	case int:
		return float64(x), nil
	}

	raw, err := sjson.SetBytes([]byte(`{}`), "v", v)
	if err != nil {
		return nil, err
	}
	return gjson.GetBytes(raw, "v").Value(), nil
}

// FormatValue renders a value for logs and process listings.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case error:
		return x.Error()
	}
	raw, err := sjson.SetBytes([]byte(`{}`), "v", v)
	if err != nil {
		return "?"
	}
	return gjson.GetBytes(raw, "v").Raw
}
