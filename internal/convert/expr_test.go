package convert

import (
	"math"
	"strings"
	"testing"
)

func TestEvalExpr_Scalars(t *testing.T) {
	tests := []struct {
		src  string
		vars map[string]any
		want float64
	}{
		{"2 + 3 * 4", nil, 14},
		{"(2 + 3) * 4", nil, 20},
		{"-3 + 5", nil, 2},
		{"10 / 4", nil, 2.5},
		{"1e3 + 0.5", nil, 1000.5},
		{"TR / 1000", map[string]any{"TR": 1500}, 1.5},
		{"Freq / 42.576", map[string]any{"Freq": 400.3}, 400.3 / 42.576},
		{"a - -b", map[string]any{"a": 2.0, "b": "3.5"}, 5.5},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := evalExpr(tt.src, tt.vars)
			if err != nil {
				t.Fatalf("evalExpr(%q): %v", tt.src, err)
			}
			f, ok := got.(float64)
			if !ok {
				t.Fatalf("result = %T, want float64", got)
			}
			if math.Abs(f-tt.want) > 1e-9 {
				t.Errorf("evalExpr(%q) = %v, want %v", tt.src, f, tt.want)
			}
		})
	}
}

func TestEvalExpr_Linspace(t *testing.T) {
	got, err := evalExpr("linspace(0, 10, 5)", nil)
	if err != nil {
		t.Fatalf("evalExpr: %v", err)
	}
	list, ok := got.([]any)
	if !ok {
		t.Fatalf("result = %T, want a list", got)
	}
	want := []float64{0, 2.5, 5, 7.5, 10}
	if len(list) != len(want) {
		t.Fatalf("got %d points, want %d", len(list), len(want))
	}
	for i, w := range want {
		if list[i].(float64) != w {
			t.Errorf("point %d = %v, want %v", i, list[i], w)
		}
	}

	got, err = evalExpr("linspace(4, 4, 1)", nil)
	if err != nil {
		t.Fatalf("single point: %v", err)
	}
	if list := got.([]any); len(list) != 1 || list[0].(float64) != 4 {
		t.Errorf("single point = %v, want [4]", got)
	}
}

func TestEvalExpr_Indexing(t *testing.T) {
	vars := map[string]any{
		"v":     []any{10, 20, 30},
		"order": []any{2, 0},
	}

	got, err := evalExpr("v[1]", vars)
	if err != nil {
		t.Fatalf("scalar index: %v", err)
	}
	if got.(float64) != 20 {
		t.Errorf("v[1] = %v, want 20", got)
	}

	got, err = evalExpr("v[order]", vars)
	if err != nil {
		t.Fatalf("vector index: %v", err)
	}
	list := got.([]any)
	if len(list) != 2 || list[0].(float64) != 30 || list[1].(float64) != 10 {
		t.Errorf("v[order] = %v, want [30 10]", got)
	}

	got, err = evalExpr("linspace(0, 6, 4)[order]", vars)
	if err != nil {
		t.Fatalf("chained index: %v", err)
	}
	list = got.([]any)
	if list[0].(float64) != 4 || list[1].(float64) != 0 {
		t.Errorf("linspace index = %v, want [4 0]", got)
	}

	if _, err := evalExpr("v[9]", vars); err == nil {
		t.Error("expected error for an index past the end")
	}
	if _, err := evalExpr("3[0]", nil); err == nil {
		t.Error("expected error when indexing a scalar")
	}
}

func TestEvalExpr_Broadcast(t *testing.T) {
	vars := map[string]any{"v": []any{1, 2, 3}}

	got, err := evalExpr("v * 2 + 1", vars)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	list := got.([]any)
	want := []float64{3, 5, 7}
	for i, w := range want {
		if list[i].(float64) != w {
			t.Errorf("element %d = %v, want %v", i, list[i], w)
		}
	}

	vars["w"] = []any{10, 20}
	if _, err := evalExpr("v + w", vars); err == nil ||
		!strings.Contains(err.Error(), "lengths") {
		t.Errorf("err = %v, want length mismatch", err)
	}
}

func TestEvalExpr_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]any
	}{
		{"division_by_zero", "1 / x", map[string]any{"x": 0}},
		{"unknown_variable", "missing + 1", nil},
		{"trailing_garbage", "1 2", nil},
		{"unclosed_paren", "(1 + 2", nil},
		{"unknown_function", "arange(3)", nil},
		{"non_numeric_variable", "s + 1", map[string]any{"s": "hello"}},
		{"linspace_arity", "linspace(1, 2)", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := evalExpr(tt.src, tt.vars); err == nil {
				t.Errorf("evalExpr(%q) succeeded, want error", tt.src)
			}
		})
	}
}
