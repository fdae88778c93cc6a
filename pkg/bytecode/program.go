package bytecode

import (
	"math"
	"strings"

	"ai/interpreter-go/pkg/runtime"
)

// Instruction is one unit of compiled behaviour. Control flow refers to code
// offsets only, so a Program is self-contained and relocatable.
type Instruction struct {
	Op    Op
	Arg   int
	Count int
}

// BindingKind distinguishes the two capability variants.
type BindingKind int

const (
	BindCallable BindingKind = iota
	BindProp
)

func (k BindingKind) String() string {
	if k == BindProp {
		return "prop"
	}
	return "callable"
}

// BindingDecl names an external capability the program expects at load time.
type BindingDecl struct {
	Name string
	Kind BindingKind
	// Shapes lists every distinct call-site shape, e.g. "to * degrees", where
	// "*" marks a value argument and anything else is a literal word.
	Shapes []string
	// Writes is set when the program assigns to the prop.
	Writes bool
}

// RoutineKind selects how a user group executes.
type RoutineKind int

const (
	RoutineSequence RoutineKind = iota
	RoutineParallel
	RoutineRace
)

func (k RoutineKind) String() string {
	switch k {
	case RoutineParallel:
		return "parallel"
	case RoutineRace:
		return "race"
	default:
		return "sequence"
	}
}

// Routine is a user-declared group. Sequence routines run at Entry in the
// caller's frame; parallel and race routines run one branch frame per entry
// in Branches.
type Routine struct {
	Name     string
	Kind     RoutineKind
	Params   []int
	Entry    int
	Branches []int
}

// Meta carries optional provenance for a compiled program.
type Meta struct {
	Source   string
	Revision string
	Checksum string
}

// Program is immutable once compiled or decoded.
type Program struct {
	Constants []runtime.Value
	Names     []string
	Bindings  []BindingDecl
	Routines  []Routine
	Code      []Instruction
	Entry     int
	Meta      Meta
}

// Emit appends an instruction and returns its offset.
func (p *Program) Emit(op Op, arg, count int) int {
	p.Code = append(p.Code, Instruction{Op: op, Arg: arg, Count: count})
	return len(p.Code) - 1
}

// Patch rewrites the Arg of a previously emitted jump.
func (p *Program) Patch(at, target int) {
	p.Code[at].Arg = target
}

// AddConstant interns val in the constant pool. Floats are matched by bit
// pattern, so 0.0 and -0.0 stay distinct.
func (p *Program) AddConstant(val runtime.Value) int {
	for i, existing := range p.Constants {
		if sameConstant(existing, val) {
			return i
		}
	}
	p.Constants = append(p.Constants, val)
	return len(p.Constants) - 1
}

func sameConstant(a, b runtime.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case runtime.KindList:
		return false
	case runtime.KindFloat:
		af, aok := a.(runtime.FloatValue)
		bf, bok := b.(runtime.FloatValue)
		if aok && bok {
			return math.Float64bits(af.Val) == math.Float64bits(bf.Val)
		}
	}
	return runtime.Equal(a, b)
}

// Name interns a local variable name.
func (p *Program) Name(name string) int {
	for i, existing := range p.Names {
		if existing == name {
			return i
		}
	}
	p.Names = append(p.Names, name)
	return len(p.Names) - 1
}

// Binding returns the index of the named binding declaration, declaring it
// when absent.
func (p *Program) Binding(name string, kind BindingKind) int {
	for i := range p.Bindings {
		if p.Bindings[i].Name == name && p.Bindings[i].Kind == kind {
			return i
		}
	}
	p.Bindings = append(p.Bindings, BindingDecl{Name: name, Kind: kind})
	return len(p.Bindings) - 1
}

// AddShape records a call-site shape for a callable binding.
func (p *Program) AddShape(binding int, shape string) {
	decl := &p.Bindings[binding]
	for _, existing := range decl.Shapes {
		if existing == shape {
			return
		}
	}
	decl.Shapes = append(decl.Shapes, shape)
}

// FindRoutine looks up a routine by name.
func (p *Program) FindRoutine(name string) (int, bool) {
	for i := range p.Routines {
		if p.Routines[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// Shape renders a call-site shape from its parts; an empty word marks a
// value argument.
func Shape(words []string) string {
	parts := make([]string, len(words))
	for i, w := range words {
		if w == "" {
			parts[i] = "*"
		} else {
			parts[i] = w
		}
	}
	return strings.Join(parts, " ")
}

// ShapeArity counts the value arguments in a call-site shape.
func ShapeArity(shape string) int {
	n := 0
	for _, part := range strings.Fields(shape) {
		if part == "*" {
			n++
		}
	}
	return n
}

// ShapeWords reports whether a shape contains literal words.
func ShapeWords(shape string) bool {
	for _, part := range strings.Fields(shape) {
		if part != "*" {
			return true
		}
	}
	return false
}
