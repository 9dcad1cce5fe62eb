package automation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Resolve substitutes every {{ path }} placeholder in template with the
// value found at that path in the scope. A path that does not exist renders
// as an empty string and produces a warning. A path that exists with a null
// value renders as an empty string without a warning.
func Resolve(template string, scope *Scope) (string, []string) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}
	var warnings []string
	root := scope.root()
	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := lookup(root, path)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unresolved variable %q", path))
			return ""
		}
		return Stringify(value)
	})
	return out, warnings
}

// ResolveValue resolves placeholders in every string contained in v,
// descending into maps and slices. A string that is exactly one placeholder
// is replaced by the referenced value itself, preserving its type.
func ResolveValue(v any, scope *Scope) (any, []string) {
	var warnings []string
	var walk func(v any) any
	walk = func(v any) any {
		switch v := v.(type) {
		case string:
			if m := placeholderPattern.FindStringSubmatchIndex(v); m != nil && m[0] == 0 && m[1] == len(v) {
				path := v[m[2]:m[3]]
				value, ok := Lookup(scope, path)
				if !ok {
					warnings = append(warnings, fmt.Sprintf("unresolved variable %q", path))
					return ""
				}
				return value
			}
			s, w := Resolve(v, scope)
			warnings = append(warnings, w...)
			return s
		case map[string]any:
			out := make(map[string]any, len(v))
			for k, val := range v {
				out[k] = walk(val)
			}
			return out
		case []any:
			out := make([]any, len(v))
			for i, val := range v {
				out[i] = walk(val)
			}
			return out
		default:
			return v
		}
	}
	return walk(v), warnings
}

// Lookup returns the value at a dotted path such as "trigger.score" or
// "nodes.fetch.body.items.0.id".
func Lookup(scope *Scope, path string) (any, bool) {
	return lookup(scope.root(), path)
}

func lookup(root map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	var current any = root
	for _, part := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]any:
			next, ok := c[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a resolved value as text. Whole numbers have no decimal
// point, nil is empty, and objects and arrays are rendered as JSON.
func Stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Operator is a comparison used by logic_if_else.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

var operators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan, OpIsEmpty, OpIsNotEmpty,
}

func (op Operator) Valid() bool {
	for _, o := range operators {
		if o == op {
			return true
		}
	}
	return false
}

// Compare evaluates left op right on resolved string values. Ordering
// operators compare numerically and are false when either side is not a
// number. Equality and containment are exact string comparisons.
func Compare(left string, op Operator, right string) (bool, error) {
	switch op {
	case OpEquals:
		return left == right, nil
	case OpNotEquals:
		return left != right, nil
	case OpContains:
		return strings.Contains(left, right), nil
	case OpGreaterThan, OpLessThan:
		l, lok := parseFinite(left)
		r, rok := parseFinite(right)
		if !lok || !rok {
			return false, nil
		}
		if op == OpGreaterThan {
			return l > r, nil
		}
		return l < r, nil
	case OpIsEmpty:
		return strings.TrimSpace(left) == "", nil
	case OpIsNotEmpty:
		return strings.TrimSpace(left) != "", nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// parseFinite parses s as a number. NaN and infinities are not numbers here.
func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
