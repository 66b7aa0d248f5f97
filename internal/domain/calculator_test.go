package domain

import (
	"context"
	"testing"
)

func TestCalculatorEval(t *testing.T) {
	d := NewCalculatorDomain()
	cases := []struct {
		expr string
		want float64
	}{
		{"2+2", 4},
		{"4*3", 12},
		{"(2+3)*4", 20},
		{"10/2-1", 4},
		{"-5+10", 5},
	}
	for _, tc := range cases {
		result := d.ExecuteTask(context.Background(), "calculator_eval", map[string]any{"expression": tc.expr})
		if !result.Success {
			t.Fatalf("%s: unexpected failure: %s", tc.expr, result.Error)
		}
		got, _ := result.Get("result")
		if got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestCalculatorDivisionByZero(t *testing.T) {
	d := NewCalculatorDomain()
	result := d.ExecuteTask(context.Background(), "calculator_eval", map[string]any{"expression": "1/0"})
	if result.Success {
		t.Fatalf("expected division by zero to fail")
	}
}

func TestCalculatorMissingExpression(t *testing.T) {
	d := NewCalculatorDomain()
	result := d.ExecuteTask(context.Background(), "calculator_eval", map[string]any{})
	if result.Success {
		t.Fatalf("expected missing expression to fail")
	}
}
