package runtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the runtime value category.
type Kind int

const (
	KindVoid Kind = iota
	KindBool
	KindInteger
	KindFloat
	KindString
	KindList
)

// KindAny is a signature wildcard. No value ever reports it.
const KindAny Kind = -1

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindAny:
		return "any"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// ParseKind maps the textual kind names used by manifests and the text
// transfer format back to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "void", "unit":
		return KindVoid, nil
	case "bool", "boolean":
		return KindBool, nil
	case "integer", "int":
		return KindInteger, nil
	case "float", "number":
		return KindFloat, nil
	case "string", "str":
		return KindString, nil
	case "list":
		return KindList, nil
	case "any", "":
		return KindAny, nil
	default:
		return KindAny, fmt.Errorf("unknown value kind %q", name)
	}
}

// Accepts reports whether a value of kind got satisfies the expected kind.
func (k Kind) Accepts(got Kind) bool {
	return k == KindAny || k == got
}

// Value is the shared behaviour for all runtime values.
type Value interface {
	Kind() Kind
}

//-----------------------------------------------------------------------------
// Scalars
//-----------------------------------------------------------------------------

type VoidValue struct{}

func (VoidValue) Kind() Kind { return KindVoid }

type BoolValue struct {
	Val bool
}

func (v BoolValue) Kind() Kind { return KindBool }

type IntegerValue struct {
	Val int64
}

func (v IntegerValue) Kind() Kind { return KindInteger }

type FloatValue struct {
	Val float64
}

func (v FloatValue) Kind() Kind { return KindFloat }

type StringValue struct {
	Val string
}

func (v StringValue) Kind() Kind { return KindString }

//-----------------------------------------------------------------------------
// Collections
//-----------------------------------------------------------------------------

// ListValue is shared by reference but never mutated after construction.
type ListValue struct {
	Elements []Value
}

func (v ListValue) Kind() Kind { return KindList }

// Void is the unit value.
var Void = VoidValue{}

// NewList copies elems into a fresh list.
func NewList(elems ...Value) ListValue {
	out := make([]Value, len(elems))
	copy(out, elems)
	return ListValue{Elements: out}
}

// Truthy implements the single truthiness rule used by every branch:
// false, integer zero, float zero, the empty string, the empty list and void
// are false. Everything else is true, including NaN and infinities.
func Truthy(v Value) bool {
	switch val := v.(type) {
	case nil:
		return false
	case VoidValue:
		return false
	case BoolValue:
		return val.Val
	case IntegerValue:
		return val.Val != 0
	case FloatValue:
		return val.Val != 0 || math.IsNaN(val.Val)
	case StringValue:
		return val.Val != ""
	case ListValue:
		return len(val.Elements) > 0
	default:
		return true
	}
}

// Equal compares values structurally. Integers and floats compare by numeric
// value; any other kind mismatch is unequal.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case VoidValue:
		_, ok := b.(VoidValue)
		return ok
	case BoolValue:
		bv, ok := b.(BoolValue)
		return ok && av.Val == bv.Val
	case IntegerValue:
		switch bv := b.(type) {
		case IntegerValue:
			return av.Val == bv.Val
		case FloatValue:
			return float64(av.Val) == bv.Val
		}
		return false
	case FloatValue:
		switch bv := b.(type) {
		case IntegerValue:
			return av.Val == float64(bv.Val)
		case FloatValue:
			return av.Val == bv.Val
		}
		return false
	case StringValue:
		bv, ok := b.(StringValue)
		return ok && av.Val == bv.Val
	case ListValue:
		bv, ok := b.(ListValue)
		if !ok || len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !Equal(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Format renders a value the way print and the REPL show it.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, VoidValue:
		return "void"
	case BoolValue:
		return strconv.FormatBool(val.Val)
	case IntegerValue:
		return strconv.FormatInt(val.Val, 10)
	case FloatValue:
		s := strconv.FormatFloat(val.Val, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEIN") {
			s += ".0"
		}
		return s
	case StringValue:
		return val.Val
	case ListValue:
		var b strings.Builder
		b.WriteByte('[')
		for i, el := range val.Elements {
			if i > 0 {
				b.WriteString(", ")
			}
			if s, ok := el.(StringValue); ok {
				b.WriteString(strconv.Quote(s.Val))
				continue
			}
			b.WriteString(Format(el))
		}
		b.WriteByte(']')
		return b.String()
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

// FromGo converts plain Go values (as decoded from YAML or JSON) into runtime
// values. Integral floats stay floats; callers choose the kind explicitly
// when it matters.
func FromGo(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Void, nil
	case Value:
		return val, nil
	case bool:
		return BoolValue{Val: val}, nil
	case int:
		return IntegerValue{Val: int64(val)}, nil
	case int64:
		return IntegerValue{Val: val}, nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", val)
		}
		return IntegerValue{Val: int64(val)}, nil
	case float64:
		return FloatValue{Val: val}, nil
	case string:
		return StringValue{Val: val}, nil
	case []any:
		elems := make([]Value, 0, len(val))
		for _, item := range val {
			el, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			elems = append(elems, el)
		}
		return ListValue{Elements: elems}, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", raw)
	}
}

// Coerce converts v to kind where a lossless conversion exists (integer to
// float, integral float to integer). It is used for manifest-supplied values.
func Coerce(v Value, kind Kind) (Value, error) {
	if kind.Accepts(v.Kind()) {
		return v, nil
	}
	switch kind {
	case KindFloat:
		if iv, ok := v.(IntegerValue); ok {
			return FloatValue{Val: float64(iv.Val)}, nil
		}
	case KindInteger:
		if fv, ok := v.(FloatValue); ok && fv.Val == math.Trunc(fv.Val) && math.Abs(fv.Val) < 1<<63 {
			return IntegerValue{Val: int64(fv.Val)}, nil
		}
	}
	return nil, fmt.Errorf("cannot use %s value as %s", v.Kind(), kind)
}
