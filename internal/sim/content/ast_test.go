package content

import (
	"math"
	"testing"
)

type mapBindings map[string]float64

func (m mapBindings) Var(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

func num(v float64) *Expr { return &Expr{Op: OpConst, Value: v} }

func variable(name string) *Expr { return &Expr{Op: OpVar, Name: name} }

func TestExpr_Eval(t *testing.T) {
	b := mapBindings{"owned": 3, "step": 10}
	cases := []struct {
		name string
		expr *Expr
		want float64
	}{
		{"const", num(2.5), 2.5},
		{"var", variable("owned"), 3},
		{"missing var", variable("nope"), 0},
		{"add", &Expr{Op: OpAdd, Args: []*Expr{num(1), num(2), num(3)}}, 6},
		{"sub", &Expr{Op: OpSub, Args: []*Expr{num(10), num(3), num(2)}}, 5},
		{"mul", &Expr{Op: OpMul, Args: []*Expr{num(4), variable("owned")}}, 12},
		{"div", &Expr{Op: OpDiv, Args: []*Expr{num(9), num(3)}}, 3},
		{"div by zero", &Expr{Op: OpDiv, Args: []*Expr{num(9), num(0)}}, 0},
		{"pow", &Expr{Op: OpPow, Args: []*Expr{num(2), num(10)}}, 1024},
		{"min", &Expr{Op: OpMin, Args: []*Expr{num(7), num(3), num(5)}}, 3},
		{"max", &Expr{Op: OpMax, Args: []*Expr{num(7), num(3), num(5)}}, 7},
		{"neg", &Expr{Op: OpNeg, Args: []*Expr{num(4)}}, -4},
		{"floor", &Expr{Op: OpFloor, Args: []*Expr{num(4.9)}}, 4},
		{"nested", &Expr{Op: OpMul, Args: []*Expr{
			num(10),
			&Expr{Op: OpPow, Args: []*Expr{num(1.15), variable("owned")}},
		}}, 10 * 1.15 * 1.15 * 1.15},
		{"nil", nil, 0},
		{"unknown op", &Expr{Op: "sqrt"}, 0},
	}
	for _, tc := range cases {
		if got := tc.expr.Eval(b); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExpr_NonFiniteCollapsesToZero(t *testing.T) {
	b := mapBindings{}
	overflow := &Expr{Op: OpPow, Args: []*Expr{num(10), num(400)}}
	if got := overflow.Eval(b); got != 0 {
		t.Fatalf("overflow = %v, want 0", got)
	}
	nan := &Expr{Op: OpPow, Args: []*Expr{num(-1), num(0.5)}}
	if got := nan.Eval(b); got != 0 {
		t.Fatalf("nan = %v, want 0", got)
	}
}

func TestExpr_Validate(t *testing.T) {
	bad := []*Expr{
		{Op: OpConst, Value: math.NaN()},
		{Op: OpConst, Value: math.Inf(1)},
		{Op: OpVar},
		{Op: OpAdd},
		{Op: OpDiv, Args: []*Expr{num(1)}},
		{Op: OpNeg, Args: []*Expr{num(1), num(2)}},
		{Op: "sqrt", Args: []*Expr{num(4)}},
		{Op: OpAdd, Args: []*Expr{num(1), {Op: OpVar}}}, // nested failure surfaces
	}
	for i, e := range bad {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d: invalid expr accepted", i)
		}
	}
	good := &Expr{Op: OpMul, Args: []*Expr{num(2), variable("owned")}}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid expr rejected: %v", err)
	}
	var nilExpr *Expr
	if err := nilExpr.Validate(); err != nil {
		t.Fatalf("nil expr rejected: %v", err)
	}
}

func TestCondition_Eval(t *testing.T) {
	b := mapBindings{"res.gold": 100}
	gold := variable("res.gold")
	cases := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"nil is true", nil, true},
		{"always", &Condition{Op: CondAlways}, true},
		{"never", &Condition{Op: CondNever}, false},
		{"ge hit", &Condition{Op: CondGE, Left: gold, Right: num(100)}, true},
		{"gt miss", &Condition{Op: CondGT, Left: gold, Right: num(100)}, false},
		{"le hit", &Condition{Op: CondLE, Left: gold, Right: num(100)}, true},
		{"lt miss", &Condition{Op: CondLT, Left: gold, Right: num(100)}, false},
		{"eq hit", &Condition{Op: CondEQ, Left: gold, Right: num(100)}, true},
		{"and", &Condition{Op: CondAnd, Args: []*Condition{
			{Op: CondAlways}, {Op: CondGE, Left: gold, Right: num(50)},
		}}, true},
		{"and short", &Condition{Op: CondAnd, Args: []*Condition{
			{Op: CondNever}, {Op: CondAlways},
		}}, false},
		{"or", &Condition{Op: CondOr, Args: []*Condition{
			{Op: CondNever}, {Op: CondAlways},
		}}, true},
		{"not", &Condition{Op: CondNot, Args: []*Condition{{Op: CondNever}}}, true},
		{"unknown", &Condition{Op: "xor"}, false},
	}
	for _, tc := range cases {
		if got := tc.cond.Eval(b); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCondition_Validate(t *testing.T) {
	bad := []*Condition{
		{Op: CondGE, Left: num(1)},
		{Op: CondAnd},
		{Op: CondNot, Args: []*Condition{{Op: CondAlways}, {Op: CondAlways}}},
		{Op: "xor"},
		{Op: CondGE, Left: &Expr{Op: OpVar}, Right: num(1)},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: invalid condition accepted", i)
		}
	}
	good := &Condition{Op: CondAnd, Args: []*Condition{
		{Op: CondGE, Left: variable("res.gold"), Right: num(10)},
		{Op: CondNot, Args: []*Condition{{Op: CondNever}}},
	}}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid condition rejected: %v", err)
	}
}
