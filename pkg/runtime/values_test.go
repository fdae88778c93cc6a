package runtime

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		val  Value
		want bool
	}{
		{"void", Void, false},
		{"nil interface", nil, false},
		{"false", BoolValue{Val: false}, false},
		{"true", BoolValue{Val: true}, true},
		{"int zero", IntegerValue{Val: 0}, false},
		{"int positive", IntegerValue{Val: 7}, true},
		{"int negative", IntegerValue{Val: -1}, true},
		{"int min", IntegerValue{Val: math.MinInt64}, true},
		{"float zero", FloatValue{Val: 0}, false},
		{"float negative zero", FloatValue{Val: math.Copysign(0, -1)}, false},
		{"float small", FloatValue{Val: 1e-300}, true},
		{"float negative", FloatValue{Val: -0.5}, true},
		{"float nan", FloatValue{Val: math.NaN()}, true},
		{"float +inf", FloatValue{Val: math.Inf(1)}, true},
		{"float -inf", FloatValue{Val: math.Inf(-1)}, true},
		{"empty string", StringValue{Val: ""}, false},
		{"space string", StringValue{Val: " "}, true},
		{"zero string", StringValue{Val: "0"}, true},
		{"false string", StringValue{Val: "false"}, true},
		{"empty list", ListValue{}, false},
		{"list of void", NewList(Void), true},
		{"list of false", NewList(BoolValue{Val: false}), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Truthy(tc.val); got != tc.want {
				t.Fatalf("Truthy(%s) = %v, want %v", Format(tc.val), got, tc.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{IntegerValue{Val: 1}, IntegerValue{Val: 1}, true},
		{IntegerValue{Val: 1}, FloatValue{Val: 1}, true},
		{FloatValue{Val: 2.5}, IntegerValue{Val: 2}, false},
		{FloatValue{Val: math.NaN()}, FloatValue{Val: math.NaN()}, false},
		{StringValue{Val: "a"}, StringValue{Val: "a"}, true},
		{StringValue{Val: "1"}, IntegerValue{Val: 1}, false},
		{BoolValue{Val: true}, IntegerValue{Val: 1}, false},
		{Void, Void, true},
		{Void, BoolValue{}, false},
		{NewList(IntegerValue{Val: 1}, StringValue{Val: "x"}), NewList(FloatValue{Val: 1}, StringValue{Val: "x"}), true},
		{NewList(IntegerValue{Val: 1}), NewList(IntegerValue{Val: 1}, IntegerValue{Val: 2}), false},
	}
	for _, tc := range cases {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Fatalf("Equal(%s, %s) = %v, want %v", Format(tc.a), Format(tc.b), got, tc.want)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := map[string]Value{
		"void":             Void,
		"true":             BoolValue{Val: true},
		"-12":              IntegerValue{Val: -12},
		"3.0":              FloatValue{Val: 3},
		"0.25":             FloatValue{Val: 0.25},
		"+Inf":             FloatValue{Val: math.Inf(1)},
		"NaN":              FloatValue{Val: math.NaN()},
		"hello":            StringValue{Val: "hello"},
		`[1, "a", [true]]`: NewList(IntegerValue{Val: 1}, StringValue{Val: "a"}, NewList(BoolValue{Val: true})),
	}
	for want, val := range cases {
		if got := Format(val); got != want {
			t.Fatalf("Format = %q, want %q", got, want)
		}
	}
}

func TestCoerce(t *testing.T) {
	got, err := Coerce(IntegerValue{Val: 3}, KindFloat)
	if err != nil || !Equal(got, FloatValue{Val: 3}) || got.Kind() != KindFloat {
		t.Fatalf("Coerce int->float = %v, %v", got, err)
	}
	got, err = Coerce(FloatValue{Val: 4}, KindInteger)
	if err != nil || got.Kind() != KindInteger {
		t.Fatalf("Coerce float->int = %v, %v", got, err)
	}
	if _, err := Coerce(FloatValue{Val: 4.5}, KindInteger); err == nil {
		t.Fatalf("expected fractional float to reject integer coercion")
	}
	if _, err := Coerce(StringValue{Val: "x"}, KindBool); err == nil {
		t.Fatalf("expected string->bool coercion to fail")
	}
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(ArithmeticError, "division by zero").At(4))
	if !errors.Is(err, ErrArithmetic) {
		t.Fatalf("errors.Is(ErrArithmetic) = false for %v", err)
	}
	if errors.Is(err, ErrIndex) {
		t.Fatalf("arithmetic error matched ErrIndex")
	}
	re := AsError(err, TypeError)
	if re.Kind != ArithmeticError || re.IP != 4 {
		t.Fatalf("AsError = %+v, want ArithmeticError at ip 4", re)
	}
	if got := re.Error(); got != "ArithmeticError at ip 4: division by zero" {
		t.Fatalf("Error() = %q", got)
	}
	plain := AsError(errors.New("boom"), EnvironmentError)
	if plain.Kind != EnvironmentError || plain.IP != -1 {
		t.Fatalf("AsError(plain) = %+v", plain)
	}
}
