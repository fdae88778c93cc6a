package interpreter

import (
	"errors"
	"math"
	"testing"

	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/runtime"
)

func i64(v int64) runtime.Value   { return runtime.IntegerValue{Val: v} }
func f64(v float64) runtime.Value { return runtime.FloatValue{Val: v} }
func str(v string) runtime.Value  { return runtime.StringValue{Val: v} }

func TestArithmetic(t *testing.T) {
	cases := []struct {
		op   bytecode.Op
		a, b runtime.Value
		want runtime.Value
		err  error
	}{
		{bytecode.OpAdd, i64(2), i64(3), i64(5), nil},
		{bytecode.OpAdd, i64(math.MaxInt64), i64(1), nil, runtime.ErrArithmetic},
		{bytecode.OpSub, i64(math.MinInt64), i64(1), nil, runtime.ErrArithmetic},
		{bytecode.OpMul, i64(1 << 32), i64(1 << 32), nil, runtime.ErrArithmetic},
		{bytecode.OpMul, i64(math.MinInt64), i64(-1), nil, runtime.ErrArithmetic},
		{bytecode.OpMul, i64(-4), i64(5), i64(-20), nil},
		{bytecode.OpDiv, i64(10), i64(0), nil, runtime.ErrArithmetic},
		{bytecode.OpMod, i64(10), i64(0), nil, runtime.ErrArithmetic},
		{bytecode.OpDiv, i64(math.MinInt64), i64(-1), nil, runtime.ErrArithmetic},
		{bytecode.OpDiv, i64(7), i64(2), i64(3), nil},
		{bytecode.OpMod, i64(-7), i64(3), i64(-1), nil},
		{bytecode.OpPow, i64(2), i64(10), i64(1024), nil},
		{bytecode.OpPow, i64(2), i64(63), nil, runtime.ErrArithmetic},
		{bytecode.OpPow, i64(-2), i64(63), i64(math.MinInt64), nil},
		{bytecode.OpPow, i64(2), i64(-1), f64(0.5), nil},
		{bytecode.OpAdd, i64(1), f64(0.5), f64(1.5), nil},
		{bytecode.OpDiv, f64(1), i64(0), f64(math.Inf(1)), nil},
		{bytecode.OpMod, f64(7.5), f64(2), f64(1.5), nil},
		{bytecode.OpAdd, str("ab"), str("cd"), str("abcd"), nil},
		{bytecode.OpAdd, runtime.NewList(i64(1)), runtime.NewList(i64(2)), runtime.NewList(i64(1), i64(2)), nil},
		{bytecode.OpSub, str("a"), i64(1), nil, runtime.ErrType},
		{bytecode.OpAdd, runtime.BoolValue{Val: true}, i64(1), nil, runtime.ErrType},
	}
	for _, tc := range cases {
		got, err := arithmetic(tc.op, tc.a, tc.b)
		if tc.err != nil {
			if err == nil || !errors.Is(err, tc.err) {
				t.Fatalf("%s %s %s error = %v, want %v", runtime.Format(tc.a), tc.op, runtime.Format(tc.b), err, tc.err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s %s %s returned error: %v", runtime.Format(tc.a), tc.op, runtime.Format(tc.b), err)
		}
		if got.Kind() != tc.want.Kind() || !runtime.Equal(got, tc.want) {
			t.Fatalf("%s %s %s = %s, want %s", runtime.Format(tc.a), tc.op, runtime.Format(tc.b), runtime.Format(got), runtime.Format(tc.want))
		}
	}
}

func TestFloatNaNPropagates(t *testing.T) {
	got, err := arithmetic(bytecode.OpMul, f64(math.NaN()), i64(3))
	if err != nil || !math.IsNaN(got.(runtime.FloatValue).Val) {
		t.Fatalf("NaN * 3 = %v, %v, want NaN", got, err)
	}
	lt, err := compare(bytecode.OpLt, f64(math.NaN()), f64(1))
	if err != nil || runtime.Truthy(lt) {
		t.Fatalf("NaN < 1 = %v, %v, want false", lt, err)
	}
}

func TestUnaryOps(t *testing.T) {
	if _, err := negate(i64(math.MinInt64)); !errors.Is(err, runtime.ErrArithmetic) {
		t.Fatalf("negate(MinInt64) error = %v", err)
	}
	if _, err := absolute(i64(math.MinInt64)); !errors.Is(err, runtime.ErrArithmetic) {
		t.Fatalf("abs(MinInt64) error = %v", err)
	}
	if got, _ := absolute(f64(-2.5)); !runtime.Equal(got, f64(2.5)) {
		t.Fatalf("abs(-2.5) = %v", got)
	}
	if _, err := negate(str("x")); !errors.Is(err, runtime.ErrType) {
		t.Fatalf("negate(string) error = %v", err)
	}
}

func TestCompareAndLogical(t *testing.T) {
	cases := []struct {
		op   bytecode.Op
		a, b runtime.Value
		want bool
	}{
		{bytecode.OpLt, i64(1), i64(2), true},
		{bytecode.OpGe, i64(2), f64(2.0), true},
		{bytecode.OpGt, str("b"), str("a"), true},
		{bytecode.OpLe, str("abc"), str("abd"), true},
	}
	for _, tc := range cases {
		got, err := compare(tc.op, tc.a, tc.b)
		if err != nil || runtime.Truthy(got) != tc.want {
			t.Fatalf("%s %s %s = %v, %v, want %v", runtime.Format(tc.a), tc.op, runtime.Format(tc.b), got, err, tc.want)
		}
	}
	if _, err := compare(bytecode.OpLt, str("a"), i64(1)); !errors.Is(err, runtime.ErrType) {
		t.Fatalf("compare(string, int) error = %v", err)
	}
	if got := logical(bytecode.OpXor, i64(1), str("")); !runtime.Truthy(got) {
		t.Fatalf("1 xor '' = %v, want true", got)
	}
	if got := logical(bytecode.OpAnd, runtime.NewList(i64(0)), runtime.Void); runtime.Truthy(got) {
		t.Fatalf("[0] and void = %v, want false", got)
	}
}

func TestIndex(t *testing.T) {
	list := runtime.NewList(i64(10), i64(20))
	if got, err := index(list, i64(1)); err != nil || !runtime.Equal(got, i64(20)) {
		t.Fatalf("list[1] = %v, %v", got, err)
	}
	if got, err := index(str("héllo"), i64(1)); err != nil || !runtime.Equal(got, str("é")) {
		t.Fatalf("string[1] = %v, %v", got, err)
	}
	for _, bad := range []int64{-1, 2} {
		if _, err := index(list, i64(bad)); !errors.Is(err, runtime.ErrIndex) {
			t.Fatalf("list[%d] error = %v, want IndexError", bad, err)
		}
	}
	if _, err := index(list, str("0")); !errors.Is(err, runtime.ErrType) {
		t.Fatalf("list['0'] error = %v, want TypeError", err)
	}
	if _, err := index(i64(5), i64(0)); !errors.Is(err, runtime.ErrType) {
		t.Fatalf("5[0] error = %v, want TypeError", err)
	}
}
