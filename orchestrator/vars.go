// Package orchestrator interprets a Process Card into a running process
// instance: variable expansion, a restricted condition grammar, retry
// handling, and two interchangeable dispatch modes.
package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
)

// expandString walks s looking for ${a.b.c} placeholders. A string that is
// entirely one placeholder yields the raw underlying value; a string that
// embeds one or more placeholders yields an interpolated string with each
// resolved value's fmt.Sprint form substituted in place. Unresolvable
// references are left literal.
func expandString(s string, vars map[string]interface{}) interface{} {
	if isWholePlaceholder(s) {
		path := s[2 : len(s)-1]
		if val, ok := lookupPath(vars, path); ok {
			return val
		}
		return s
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		path := rest[start+2 : end]
		if val, ok := lookupPath(vars, path); ok {
			b.WriteString(fmt.Sprint(val))
		} else {
			b.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
	return b.String()
}

func isWholePlaceholder(s string) bool {
	return len(s) > 3 && strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") &&
		!strings.Contains(s[2:len(s)-1], "${")
}

// lookupPath resolves a dotted path ("a.b.c") by successive map lookups
// over vars. Any broken link in the chain is reported as not-found.
func lookupPath(vars map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = vars
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		val, exists := m[seg]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}

// ExpandValue recursively expands placeholders through map and slice
// values.
func ExpandValue(value interface{}, vars map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return expandString(v, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = ExpandValue(val, vars)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = ExpandValue(val, vars)
		}
		return out
	default:
		return value
	}
}

// ExpandParams expands every value of a params map.
func ExpandParams(params map[string]interface{}, vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = ExpandValue(v, vars)
	}
	return out
}

// toFloat coerces common numeric representations (as they commonly arrive
// after a JSON round trip) into a float64 for comparisons.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
