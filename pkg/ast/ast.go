// Package ast defines the syntax tree produced by the parser and consumed by
// the compiler.
package ast

// Span locates a node in the source text (1-based lines and columns).
type Span struct {
	Line   int
	Column int
}

// Node is implemented by every syntax tree node.
type Node interface {
	Pos() Span
}

// Statement marks statement nodes.
type Statement interface {
	Node
	statementNode()
}

// Expression marks expression nodes.
type Expression interface {
	Node
	expressionNode()
}

// Program is a parsed source file.
type Program struct {
	Statements []Statement
}

//-----------------------------------------------------------------------------
// Statements
//-----------------------------------------------------------------------------

// GroupKind selects how a group body executes.
type GroupKind int

const (
	GroupSequence GroupKind = iota
	GroupParallel
	GroupRace
)

func (k GroupKind) String() string {
	switch k {
	case GroupParallel:
		return "parallel"
	case GroupRace:
		return "race"
	default:
		return "sequence"
	}
}

// UseStatement declares an external prop: `use $angle;`.
type UseStatement struct {
	Span Span
	Name string
}

// GroupDeclaration declares a named group with parameters.
type GroupDeclaration struct {
	Span   Span
	Kind   GroupKind
	Name   string
	Params []string
	Body   []Statement
}

// IfStatement covers `if` and `unless` (Invert).
type IfStatement struct {
	Span      Span
	Invert    bool
	Condition Expression
	Then      []Statement
	Else      []Statement
}

// WhileStatement covers `while` and `until` (Invert).
type WhileStatement struct {
	Span      Span
	Invert    bool
	Condition Expression
	Body      []Statement
}

// ExecStatement invokes a callable or group for effect.
type ExecStatement struct {
	Call *Call
}

// AssignStatement binds a variable or writes a prop.
type AssignStatement struct {
	Span  Span
	Name  string
	Value Expression
}

// YieldStatement cedes control to the host scheduler.
type YieldStatement struct {
	Span Span
}

// ReturnStatement ends a group, branch or the program with an optional value.
type ReturnStatement struct {
	Span  Span
	Value Expression
}

func (s *UseStatement) Pos() Span     { return s.Span }
func (s *GroupDeclaration) Pos() Span { return s.Span }
func (s *IfStatement) Pos() Span      { return s.Span }
func (s *WhileStatement) Pos() Span   { return s.Span }
func (s *ExecStatement) Pos() Span    { return s.Call.Span }
func (s *AssignStatement) Pos() Span  { return s.Span }
func (s *YieldStatement) Pos() Span   { return s.Span }
func (s *ReturnStatement) Pos() Span  { return s.Span }

func (*UseStatement) statementNode()     {}
func (*GroupDeclaration) statementNode() {}
func (*IfStatement) statementNode()      {}
func (*WhileStatement) statementNode()   {}
func (*ExecStatement) statementNode()    {}
func (*AssignStatement) statementNode()  {}
func (*YieldStatement) statementNode()   {}
func (*ReturnStatement) statementNode()  {}

//-----------------------------------------------------------------------------
// Expressions
//-----------------------------------------------------------------------------

// Arg is one call argument: either a literal word or a value expression.
type Arg struct {
	Word  string
	Value Expression
}

// IsWord reports whether the argument is a bare word.
func (a Arg) IsWord() bool { return a.Value == nil }

// Call names a callable or group followed by word/value arguments.
type Call struct {
	Span Span
	Name string
	Args []Arg
}

// Literal carries a constant value. Value is one of bool, int64, float64,
// string or nil (void).
type Literal struct {
	Span  Span
	Value any
}

// Variable references `$name`.
type Variable struct {
	Span Span
	Name string
}

// Unary applies a prefix operator ("-", "not", "abs").
type Unary struct {
	Span     Span
	Operator string
	Operand  Expression
}

// Binary applies an infix operator.
type Binary struct {
	Span     Span
	Operator string
	Left     Expression
	Right    Expression
}

// ListLiteral builds a list.
type ListLiteral struct {
	Span     Span
	Elements []Expression
}

// Index reads container[index].
type Index struct {
	Span      Span
	Container Expression
	Index     Expression
}

func (e *Call) Pos() Span        { return e.Span }
func (e *Literal) Pos() Span     { return e.Span }
func (e *Variable) Pos() Span    { return e.Span }
func (e *Unary) Pos() Span       { return e.Span }
func (e *Binary) Pos() Span      { return e.Span }
func (e *ListLiteral) Pos() Span { return e.Span }
func (e *Index) Pos() Span       { return e.Span }

func (*Call) expressionNode()        {}
func (*Literal) expressionNode()     {}
func (*Variable) expressionNode()    {}
func (*Unary) expressionNode()       {}
func (*Binary) expressionNode()      {}
func (*ListLiteral) expressionNode() {}
func (*Index) expressionNode()       {}
