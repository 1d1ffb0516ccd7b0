package content

import (
	"fmt"
	"math"
)

// Expr is a formula node. Formulas are authored as JSON trees in the content
// pack and evaluated every tick, so evaluation must be allocation-free and
// fully determined by the bindings passed in.
type Expr struct {
	Op    string  `json:"op"`
	Value float64 `json:"value,omitempty"`
	Name  string  `json:"name,omitempty"`
	Args  []*Expr `json:"args,omitempty"`
}

// Bindings resolves variable references during evaluation. Missing names
// resolve to 0 so a pack referencing a not-yet-unlocked resource keeps
// producing a defined value.
type Bindings interface {
	Var(name string) (float64, bool)
}

const (
	OpConst = "const"
	OpVar   = "var"
	OpAdd   = "add"
	OpSub   = "sub"
	OpMul   = "mul"
	OpDiv   = "div"
	OpPow   = "pow"
	OpMin   = "min"
	OpMax   = "max"
	OpNeg   = "neg"
	OpFloor = "floor"
)

// Eval evaluates the expression against b. Division by zero yields 0 rather
// than Inf; non-finite intermediate results collapse to 0. Both rules keep a
// misauthored formula from poisoning checksums with NaN.
func (e *Expr) Eval(b Bindings) float64 {
	if e == nil {
		return 0
	}
	v := e.evalRaw(b)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (e *Expr) evalRaw(b Bindings) float64 {
	switch e.Op {
	case OpConst:
		return e.Value
	case OpVar:
		v, _ := b.Var(e.Name)
		return v
	case OpAdd:
		acc := 0.0
		for _, a := range e.Args {
			acc += a.Eval(b)
		}
		return acc
	case OpSub:
		if len(e.Args) == 0 {
			return 0
		}
		acc := e.Args[0].Eval(b)
		for _, a := range e.Args[1:] {
			acc -= a.Eval(b)
		}
		return acc
	case OpMul:
		acc := 1.0
		for _, a := range e.Args {
			acc *= a.Eval(b)
		}
		return acc
	case OpDiv:
		if len(e.Args) != 2 {
			return 0
		}
		den := e.Args[1].Eval(b)
		if den == 0 {
			return 0
		}
		return e.Args[0].Eval(b) / den
	case OpPow:
		if len(e.Args) != 2 {
			return 0
		}
		return math.Pow(e.Args[0].Eval(b), e.Args[1].Eval(b))
	case OpMin:
		if len(e.Args) == 0 {
			return 0
		}
		acc := e.Args[0].Eval(b)
		for _, a := range e.Args[1:] {
			acc = math.Min(acc, a.Eval(b))
		}
		return acc
	case OpMax:
		if len(e.Args) == 0 {
			return 0
		}
		acc := e.Args[0].Eval(b)
		for _, a := range e.Args[1:] {
			acc = math.Max(acc, a.Eval(b))
		}
		return acc
	case OpNeg:
		if len(e.Args) != 1 {
			return 0
		}
		return -e.Args[0].Eval(b)
	case OpFloor:
		if len(e.Args) != 1 {
			return 0
		}
		return math.Floor(e.Args[0].Eval(b))
	default:
		return 0
	}
}

// Validate rejects structurally broken formulas at load time so evaluation
// never has to report errors.
func (e *Expr) Validate() error {
	if e == nil {
		return nil
	}
	switch e.Op {
	case OpConst:
		if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
			return fmt.Errorf("const: non-finite value")
		}
	case OpVar:
		if e.Name == "" {
			return fmt.Errorf("var: empty name")
		}
	case OpAdd, OpSub, OpMul, OpMin, OpMax:
		if len(e.Args) == 0 {
			return fmt.Errorf("%s: no args", e.Op)
		}
	case OpDiv, OpPow:
		if len(e.Args) != 2 {
			return fmt.Errorf("%s: want 2 args, got %d", e.Op, len(e.Args))
		}
	case OpNeg, OpFloor:
		if len(e.Args) != 1 {
			return fmt.Errorf("%s: want 1 arg, got %d", e.Op, len(e.Args))
		}
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	for _, a := range e.Args {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Condition is a boolean node over Exprs.
type Condition struct {
	Op    string       `json:"op"`
	Left  *Expr        `json:"left,omitempty"`
	Right *Expr        `json:"right,omitempty"`
	Args  []*Condition `json:"args,omitempty"`
}

const (
	CondAlways = "always"
	CondNever  = "never"
	CondGE     = "ge"
	CondGT     = "gt"
	CondLE     = "le"
	CondLT     = "lt"
	CondEQ     = "eq"
	CondAnd    = "and"
	CondOr     = "or"
	CondNot    = "not"
)

func (c *Condition) Eval(b Bindings) bool {
	if c == nil {
		return true
	}
	switch c.Op {
	case CondAlways:
		return true
	case CondNever:
		return false
	case CondGE:
		return c.Left.Eval(b) >= c.Right.Eval(b)
	case CondGT:
		return c.Left.Eval(b) > c.Right.Eval(b)
	case CondLE:
		return c.Left.Eval(b) <= c.Right.Eval(b)
	case CondLT:
		return c.Left.Eval(b) < c.Right.Eval(b)
	case CondEQ:
		return c.Left.Eval(b) == c.Right.Eval(b)
	case CondAnd:
		for _, a := range c.Args {
			if !a.Eval(b) {
				return false
			}
		}
		return true
	case CondOr:
		for _, a := range c.Args {
			if a.Eval(b) {
				return true
			}
		}
		return false
	case CondNot:
		if len(c.Args) != 1 {
			return false
		}
		return !c.Args[0].Eval(b)
	default:
		return false
	}
}

func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Op {
	case CondAlways, CondNever:
	case CondGE, CondGT, CondLE, CondLT, CondEQ:
		if c.Left == nil || c.Right == nil {
			return fmt.Errorf("%s: missing operand", c.Op)
		}
		if err := c.Left.Validate(); err != nil {
			return err
		}
		if err := c.Right.Validate(); err != nil {
			return err
		}
	case CondAnd, CondOr:
		if len(c.Args) == 0 {
			return fmt.Errorf("%s: no args", c.Op)
		}
	case CondNot:
		if len(c.Args) != 1 {
			return fmt.Errorf("not: want 1 arg, got %d", len(c.Args))
		}
	default:
		return fmt.Errorf("unknown condition op %q", c.Op)
	}
	for _, a := range c.Args {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}
