package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_NilExpressionIsTrue(t *testing.T) {
	ok, err := Evaluate(nil, map[string]any{"amount": 5})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_Operators(t *testing.T) {
	fields := map[string]any{
		"amount":     float64(5000),
		"department": "Finance",
		"tags":       []any{"urgent", "travel"},
		"approvedBy": "",
		"remote":     true,
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals", Condition{Field: "department", Operator: "equals", Value: "Finance"}, true},
		{"equals numeric string", Condition{Field: "amount", Operator: "equals", Value: "5000"}, true},
		{"not_equals", Condition{Field: "department", Operator: "not_equals", Value: "HR"}, true},
		{"contains", Condition{Field: "department", Operator: "contains", Value: "Fin"}, true},
		{"not_contains", Condition{Field: "department", Operator: "not_contains", Value: "HR"}, true},
		{"greater_than", Condition{Field: "amount", Operator: "greater_than", Value: float64(1000)}, true},
		{"greater_than false", Condition{Field: "amount", Operator: "greater_than", Value: float64(9000)}, false},
		{"less_than", Condition{Field: "amount", Operator: "less_than", Value: "10000"}, true},
		{"greater_or_equal", Condition{Field: "amount", Operator: "greater_or_equal", Value: float64(5000)}, true},
		{"less_or_equal", Condition{Field: "amount", Operator: "less_or_equal", Value: float64(5000)}, true},
		{"in", Condition{Field: "department", Operator: "in", Value: []any{"Finance", "HR"}}, true},
		{"in csv", Condition{Field: "department", Operator: "in", Value: "Finance, HR"}, true},
		{"not_in", Condition{Field: "department", Operator: "not_in", Value: []any{"IT"}}, true},
		{"is_empty", Condition{Field: "approvedBy", Operator: "is_empty"}, true},
		{"is_empty missing field", Condition{Field: "nope", Operator: "is_empty"}, true},
		{"is_not_empty", Condition{Field: "tags", Operator: "is_not_empty"}, true},
		{"is_true", Condition{Field: "remote", Operator: "is_true"}, true},
		{"is_false", Condition{Field: "remote", Operator: "is_false"}, false},
		{"numeric vs non numeric", Condition{Field: "department", Operator: "greater_than", Value: "10"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(&Expression{Operator: "AND", Conditions: []Condition{tc.cond}}, fields)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate_Combinators(t *testing.T) {
	fields := map[string]any{"amount": float64(500), "department": "Finance"}

	andExpr := &Expression{Operator: "AND", Conditions: []Condition{
		{Field: "department", Operator: "equals", Value: "Finance"},
		{Field: "amount", Operator: "greater_than", Value: float64(1000)},
	}}
	got, err := Evaluate(andExpr, fields)
	require.NoError(t, err)
	assert.False(t, got)

	orExpr := &Expression{Operator: "or", Conditions: andExpr.Conditions}
	got, err = Evaluate(orExpr, fields)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_MalformedExpressions(t *testing.T) {
	fields := map[string]any{"amount": float64(500)}

	_, err := Evaluate(&Expression{Operator: "XOR", Conditions: []Condition{{Field: "amount", Operator: "equals", Value: "500"}}}, fields)
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)

	_, err = Evaluate(&Expression{Operator: "AND"}, fields)
	require.ErrorAs(t, err, &evalErr)

	_, err = Evaluate(&Expression{Operator: "AND", Conditions: []Condition{{Field: "amount", Operator: "squiggle"}}}, fields)
	require.ErrorAs(t, err, &evalErr)

	_, err = Evaluate(&Expression{Operator: "AND", Conditions: []Condition{{Operator: "equals"}}}, fields)
	require.ErrorAs(t, err, &evalErr)
}

func TestParse(t *testing.T) {
	expr, err := Parse(`{"operator":"AND","conditions":[{"field":"amount","operator":"greater_than","value":1000}]}`)
	require.NoError(t, err)
	require.NotNil(t, expr)
	assert.Len(t, expr.Conditions, 1)

	expr, err = Parse("   ")
	require.NoError(t, err)
	assert.Nil(t, expr)

	_, err = Parse("{not json")
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
}
