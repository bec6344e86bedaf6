package conditions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Expression is the shared boolean grammar over submission field values,
// used by stage escalation rules and post-submission action conditions.
type Expression struct {
	Operator   string      `json:"operator"` // AND | OR
	Conditions []Condition `json:"conditions"`
}

type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// EvalError marks a malformed expression. Callers treat the condition as
// false and log a warning; evaluation must never block the approval flow.
type EvalError struct {
	Reason string
}

func (e *EvalError) Error() string {
	return "condition evaluation error: " + e.Reason
}

// Parse decodes a JSON expression. An empty payload yields a nil expression,
// which Evaluate treats as always true.
func Parse(raw string) (*Expression, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var expr Expression
	if err := json.Unmarshal([]byte(raw), &expr); err != nil {
		return nil, &EvalError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return &expr, nil
}

// Evaluate applies the expression to a field-value map.
func Evaluate(expr *Expression, fields map[string]any) (bool, error) {
	if expr == nil {
		return true, nil
	}
	op := strings.ToUpper(expr.Operator)
	if op != "AND" && op != "OR" {
		return false, &EvalError{Reason: "combinator must be AND or OR, got " + expr.Operator}
	}
	if len(expr.Conditions) == 0 {
		return false, &EvalError{Reason: "expression has no conditions"}
	}
	for _, c := range expr.Conditions {
		ok, err := evaluateOne(c, fields)
		if err != nil {
			return false, err
		}
		if op == "AND" && !ok {
			return false, nil
		}
		if op == "OR" && ok {
			return true, nil
		}
	}
	return op == "AND", nil
}

func evaluateOne(c Condition, fields map[string]any) (bool, error) {
	if c.Field == "" {
		return false, &EvalError{Reason: "condition is missing a field name"}
	}
	value, present := fields[c.Field]

	switch c.Operator {
	case "equals":
		return asString(value) == asString(c.Value), nil
	case "not_equals":
		return asString(value) != asString(c.Value), nil
	case "contains":
		return strings.Contains(asString(value), asString(c.Value)), nil
	case "not_contains":
		return !strings.Contains(asString(value), asString(c.Value)), nil
	case "greater_than", "less_than", "greater_or_equal", "less_or_equal":
		left, lok := asNumber(value)
		right, rok := asNumber(c.Value)
		if !lok || !rok {
			// Non-numeric operands fail the comparison, matching lenient
			// handling of missing fields.
			return false, nil
		}
		switch c.Operator {
		case "greater_than":
			return left > right, nil
		case "less_than":
			return left < right, nil
		case "greater_or_equal":
			return left >= right, nil
		default:
			return left <= right, nil
		}
	case "in":
		return valueInList(value, c.Value), nil
	case "not_in":
		return !valueInList(value, c.Value), nil
	case "is_empty":
		return isEmpty(value, present), nil
	case "is_not_empty":
		return !isEmpty(value, present), nil
	case "is_true":
		return asBool(value), nil
	case "is_false":
		return !asBool(value), nil
	case "":
		return false, &EvalError{Reason: "condition is missing an operator"}
	default:
		return false, &EvalError{Reason: "unknown operator " + c.Operator}
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "yes" || s == "1" || s == "on"
	case float64:
		return t != 0
	default:
		return false
	}
}

func valueInList(v any, list any) bool {
	items, ok := list.([]any)
	if !ok {
		// Allow a comma separated string list as a fallback.
		s, sok := list.(string)
		if !sok {
			return false
		}
		for _, part := range strings.Split(s, ",") {
			if strings.TrimSpace(part) == asString(v) {
				return true
			}
		}
		return false
	}
	for _, item := range items {
		if asString(item) == asString(v) {
			return true
		}
	}
	return false
}

func isEmpty(v any, present bool) bool {
	if !present || v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
