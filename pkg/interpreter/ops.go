package interpreter

import (
	"math"
	"math/bits"
	"strings"
	"unicode/utf8"

	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/runtime"
)

// Integer arithmetic is checked: overflow and division by zero fault instead
// of wrapping. Mixed integer/float operands promote to float, and float
// arithmetic follows IEEE 754 without faulting.

func arithmetic(op bytecode.Op, a, b runtime.Value) (runtime.Value, *runtime.Error) {
	if ai, ok := a.(runtime.IntegerValue); ok {
		if bi, ok := b.(runtime.IntegerValue); ok {
			return integerArithmetic(op, ai.Val, bi.Val)
		}
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return runtime.FloatValue{Val: floatArithmetic(op, af, bf)}, nil
	}
	if op == bytecode.OpAdd {
		switch av := a.(type) {
		case runtime.StringValue:
			if bv, ok := b.(runtime.StringValue); ok {
				return runtime.StringValue{Val: av.Val + bv.Val}, nil
			}
		case runtime.ListValue:
			if bv, ok := b.(runtime.ListValue); ok {
				elems := make([]runtime.Value, 0, len(av.Elements)+len(bv.Elements))
				elems = append(elems, av.Elements...)
				elems = append(elems, bv.Elements...)
				return runtime.ListValue{Elements: elems}, nil
			}
		}
	}
	return nil, runtime.NewError(runtime.TypeError, "cannot apply %s to %s and %s", op, a.Kind(), b.Kind())
}

func asFloat(v runtime.Value) (float64, bool) {
	switch n := v.(type) {
	case runtime.IntegerValue:
		return float64(n.Val), true
	case runtime.FloatValue:
		return n.Val, true
	}
	return 0, false
}

func integerArithmetic(op bytecode.Op, a, b int64) (runtime.Value, *runtime.Error) {
	overflow := func() (runtime.Value, *runtime.Error) {
		return nil, runtime.NewError(runtime.ArithmeticError, "integer overflow in %d %s %d", a, op, b)
	}
	switch op {
	case bytecode.OpAdd:
		sum := a + b
		if (a >= 0) == (b >= 0) && (sum >= 0) != (a >= 0) {
			return overflow()
		}
		return runtime.IntegerValue{Val: sum}, nil
	case bytecode.OpSub:
		diff := a - b
		if (a >= 0) != (b >= 0) && (diff >= 0) != (a >= 0) {
			return overflow()
		}
		return runtime.IntegerValue{Val: diff}, nil
	case bytecode.OpMul:
		if a == 0 || b == 0 {
			return runtime.IntegerValue{Val: 0}, nil
		}
		prod := a * b
		if prod/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return overflow()
		}
		return runtime.IntegerValue{Val: prod}, nil
	case bytecode.OpDiv, bytecode.OpMod:
		if b == 0 {
			return nil, runtime.NewError(runtime.ArithmeticError, "division by zero")
		}
		if a == math.MinInt64 && b == -1 {
			if op == bytecode.OpMod {
				return runtime.IntegerValue{Val: 0}, nil
			}
			return overflow()
		}
		if op == bytecode.OpDiv {
			return runtime.IntegerValue{Val: a / b}, nil
		}
		return runtime.IntegerValue{Val: a % b}, nil
	case bytecode.OpPow:
		if b < 0 {
			return runtime.FloatValue{Val: math.Pow(float64(a), float64(b))}, nil
		}
		result, ok := checkedPow(a, b)
		if !ok {
			return overflow()
		}
		return runtime.IntegerValue{Val: result}, nil
	}
	return nil, runtime.NewError(runtime.TypeError, "%s is not an arithmetic operation", op)
}

// checkedPow computes base^exp by squaring, reporting overflow.
func checkedPow(base, exp int64) (int64, bool) {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			r, ok := checkedMul(result, base)
			if !ok {
				return 0, false
			}
			result = r
		}
		exp >>= 1
		if exp > 0 {
			b, ok := checkedMul(base, base)
			if !ok {
				return 0, false
			}
			base = b
		}
	}
	return result, true
}

func checkedMul(a, b int64) (int64, bool) {
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(absU(a), absU(b))
	if hi != 0 {
		return 0, false
	}
	if neg {
		if lo > 1<<63 {
			return 0, false
		}
		return int64(-lo), true
	}
	if lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func absU(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

func floatArithmetic(op bytecode.Op, a, b float64) float64 {
	switch op {
	case bytecode.OpAdd:
		return a + b
	case bytecode.OpSub:
		return a - b
	case bytecode.OpMul:
		return a * b
	case bytecode.OpDiv:
		return a / b
	case bytecode.OpMod:
		return math.Mod(a, b)
	default:
		return math.Pow(a, b)
	}
}

func negate(v runtime.Value) (runtime.Value, *runtime.Error) {
	switch n := v.(type) {
	case runtime.IntegerValue:
		if n.Val == math.MinInt64 {
			return nil, runtime.NewError(runtime.ArithmeticError, "integer overflow negating %d", n.Val)
		}
		return runtime.IntegerValue{Val: -n.Val}, nil
	case runtime.FloatValue:
		return runtime.FloatValue{Val: -n.Val}, nil
	}
	return nil, runtime.NewError(runtime.TypeError, "cannot negate %s", v.Kind())
}

func absolute(v runtime.Value) (runtime.Value, *runtime.Error) {
	switch n := v.(type) {
	case runtime.IntegerValue:
		if n.Val == math.MinInt64 {
			return nil, runtime.NewError(runtime.ArithmeticError, "integer overflow in absolute value of %d", n.Val)
		}
		if n.Val < 0 {
			return runtime.IntegerValue{Val: -n.Val}, nil
		}
		return n, nil
	case runtime.FloatValue:
		return runtime.FloatValue{Val: math.Abs(n.Val)}, nil
	}
	return nil, runtime.NewError(runtime.TypeError, "cannot take absolute value of %s", v.Kind())
}

// logical applies and/or/xor to the truthiness of both operands.
func logical(op bytecode.Op, a, b runtime.Value) runtime.Value {
	x, y := runtime.Truthy(a), runtime.Truthy(b)
	switch op {
	case bytecode.OpAnd:
		return runtime.BoolValue{Val: x && y}
	case bytecode.OpOr:
		return runtime.BoolValue{Val: x || y}
	default:
		return runtime.BoolValue{Val: x != y}
	}
}

// compare orders numbers numerically and strings lexically.
func compare(op bytecode.Op, a, b runtime.Value) (runtime.Value, *runtime.Error) {
	var cmp int
	if ai, ok := a.(runtime.IntegerValue); ok {
		if bi, ok := b.(runtime.IntegerValue); ok {
			cmp = compareInts(ai.Val, bi.Val)
			return runtime.BoolValue{Val: ordered(op, cmp)}, nil
		}
	}
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		if !ok {
			return nil, runtime.NewError(runtime.TypeError, "cannot compare %s with %s", a.Kind(), b.Kind())
		}
		if math.IsNaN(af) || math.IsNaN(bf) {
			return runtime.BoolValue{Val: false}, nil
		}
		switch {
		case af < bf:
			cmp = -1
		case af > bf:
			cmp = 1
		}
		return runtime.BoolValue{Val: ordered(op, cmp)}, nil
	}
	as, aok := a.(runtime.StringValue)
	bs, bok := b.(runtime.StringValue)
	if !aok || !bok {
		return nil, runtime.NewError(runtime.TypeError, "cannot compare %s with %s", a.Kind(), b.Kind())
	}
	return runtime.BoolValue{Val: ordered(op, strings.Compare(as.Val, bs.Val))}, nil
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func ordered(op bytecode.Op, cmp int) bool {
	switch op {
	case bytecode.OpLt:
		return cmp < 0
	case bytecode.OpLe:
		return cmp <= 0
	case bytecode.OpGt:
		return cmp > 0
	default:
		return cmp >= 0
	}
}

// index reads a list element or a character (by rune) of a string.
func index(container, idx runtime.Value) (runtime.Value, *runtime.Error) {
	i, ok := idx.(runtime.IntegerValue)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, "index must be integer, got %s", idx.Kind())
	}
	switch c := container.(type) {
	case runtime.ListValue:
		if i.Val < 0 || i.Val >= int64(len(c.Elements)) {
			return nil, runtime.NewError(runtime.IndexError, "index %d out of range for list of length %d", i.Val, len(c.Elements))
		}
		return c.Elements[i.Val], nil
	case runtime.StringValue:
		n := utf8.RuneCountInString(c.Val)
		if i.Val < 0 || i.Val >= int64(n) {
			return nil, runtime.NewError(runtime.IndexError, "index %d out of range for string of length %d", i.Val, n)
		}
		pos := int64(0)
		for _, r := range c.Val {
			if pos == i.Val {
				return runtime.StringValue{Val: string(r)}, nil
			}
			pos++
		}
	}
	return nil, runtime.NewError(runtime.TypeError, "cannot index %s", container.Kind())
}
