package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Args are the decoded action inputs.
type Args map[string]any

// IdentityFromArgs returns the identity_key argument, or "" when absent.
func IdentityFromArgs(args Args) string {
	if v, ok := args["identity_key"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// String returns a trimmed string argument. A missing or empty required
// argument is an InvalidInputError.
func (a Args) String(name string, required bool) (string, error) {
	raw, ok := a[name]
	if !ok || raw == nil {
		if required {
			return "", Invalidf(name, "is required")
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", Invalidf(name, "must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" && required {
		return "", Invalidf(name, "cannot be empty")
	}
	return s, nil
}

// Int returns an integer argument within [lo, hi], or def when absent.
// JSON numbers arrive as float64 and must be whole.
func (a Args) Int(name string, def, lo, hi int) (int, error) {
	raw, ok := a[name]
	if !ok || raw == nil {
		return def, nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, Invalidf(name, "must be a whole number")
		}
		n = int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, Invalidf(name, "must be a whole number")
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, Invalidf(name, "must be a whole number")
		}
		n = i
	default:
		return 0, Invalidf(name, "must be a number")
	}
	if n < lo || n > hi {
		return 0, Invalidf(name, "must be between %d and %d", lo, hi)
	}
	return n, nil
}

// Time parses an RFC 3339 timestamp or a YYYY-MM-DD date (UTC midnight).
// dateOnly reports which form was given.
func (a Args) Time(name string) (t time.Time, dateOnly bool, err error) {
	s, err := a.String(name, true)
	if err != nil {
		return time.Time{}, false, err
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, Invalidf(name, "must be RFC 3339 or YYYY-MM-DD")
}

// StringList returns a required argument given either as one string or
// an array of strings.
func (a Args) StringList(name string) ([]string, error) {
	return ParseStringOrArray(a[name], name)
}

// ParseStringOrArray parses a parameter that can be either a single string
// or an array of strings. A single string may hold a comma-separated list.
func ParseStringOrArray(param any, paramName string) ([]string, error) {
	if param == nil {
		return nil, Invalidf(paramName, "is required")
	}

	var result []string

	switch v := param.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
		if len(result) == 0 {
			return nil, Invalidf(paramName, "cannot be empty")
		}
	case []string:
		return ParseStringOrArray(toAnySlice(v), paramName)
	case []any:
		if len(v) == 0 {
			return nil, Invalidf(paramName, "cannot be empty")
		}
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, Invalidf(fmt.Sprintf("%s[%d]", paramName, i), "must be a string")
			}
			str = strings.TrimSpace(str)
			if str == "" {
				return nil, Invalidf(fmt.Sprintf("%s[%d]", paramName, i), "cannot be empty")
			}
			result = append(result, str)
		}
	default:
		return nil, Invalidf(paramName, "must be a string or array of strings")
	}

	return result, nil
}

func toAnySlice(v []string) []any {
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}
