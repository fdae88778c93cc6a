// Package compiler lowers a parsed Ai program into bytecode.
package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"ai/interpreter-go/pkg/ast"
	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/parser"
	"ai/interpreter-go/pkg/runtime"
)

// Options controls code generation.
type Options struct {
	// LoopYield emits a yield point on every loop back-edge so a busy loop
	// cannot monopolise the host's step budget.
	LoopYield bool
	// Source is recorded in Program.Meta.
	Source string
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{LoopYield: true}
}

// CompileError reports a semantic problem at a source position.
type CompileError struct {
	Message string
	Span    ast.Span
}

func (e *CompileError) Error() string {
	if e.Span.Line == 0 {
		return e.Message
	}
	return fmt.Sprintf("%d:%d: %s", e.Span.Line, e.Span.Column, e.Message)
}

// CompileSource parses and compiles source text. The source checksum is
// stamped into the program metadata.
func CompileSource(source string, opts Options) (*bytecode.Program, error) {
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, err
	}
	prog, err := Compile(tree, opts)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(source))
	prog.Meta.Checksum = hex.EncodeToString(sum[:])
	return prog, nil
}

// Compile generates a validated program from a syntax tree. All semantic
// errors are reported together.
func Compile(tree *ast.Program, opts Options) (*bytecode.Program, error) {
	c := &compiler{
		prog:     &bytecode.Program{Meta: bytecode.Meta{Source: opts.Source}},
		opts:     opts,
		props:    make(map[string]int),
		routines: make(map[string]int),
	}
	c.hoist(tree.Statements)

	main := c.newScope(nil)
	main.collect(tree.Statements)
	c.prog.Entry = len(c.prog.Code)
	c.statements(main, tree.Statements, true)
	c.emit(bytecode.OpVoid, 0, 0)
	c.emit(bytecode.OpReturn, 0, 0)

	for _, decl := range c.groups {
		c.routine(decl)
	}

	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	if err := c.prog.Validate(); err != nil {
		return nil, fmt.Errorf("compiler: generated invalid program: %w", err)
	}
	return c.prog, nil
}

type compiler struct {
	prog     *bytecode.Program
	opts     Options
	props    map[string]int
	routines map[string]int
	groups   []*ast.GroupDeclaration
	errs     []error
}

func (c *compiler) errorf(span ast.Span, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{Message: fmt.Sprintf(format, args...), Span: span})
}

func (c *compiler) emit(op bytecode.Op, arg, count int) int {
	return c.prog.Emit(op, arg, count)
}

func (c *compiler) here() int { return len(c.prog.Code) }

// hoist registers every top-level prop and group before any code is emitted,
// so declaration order does not matter.
func (c *compiler) hoist(stmts []ast.Statement) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.UseStatement:
			if _, dup := c.props[s.Name]; dup {
				c.errorf(s.Span, "prop $%s declared more than once", s.Name)
				continue
			}
			c.props[s.Name] = c.prog.Binding(s.Name, bytecode.BindProp)
		case *ast.GroupDeclaration:
			if _, dup := c.routines[s.Name]; dup {
				c.errorf(s.Span, "group %s declared more than once", s.Name)
				continue
			}
			r := bytecode.Routine{Name: s.Name, Kind: routineKind(s.Kind)}
			seen := make(map[string]bool)
			for _, param := range s.Params {
				if seen[param] {
					c.errorf(s.Span, "group %s repeats parameter $%s", s.Name, param)
				}
				seen[param] = true
				r.Params = append(r.Params, c.prog.Name(param))
			}
			c.routines[s.Name] = len(c.prog.Routines)
			c.prog.Routines = append(c.prog.Routines, r)
			c.groups = append(c.groups, s)
		}
	}
	for _, decl := range c.groups {
		for _, param := range decl.Params {
			if _, clash := c.props[param]; clash {
				c.errorf(decl.Span, "parameter $%s of group %s shadows prop $%s", param, decl.Name, param)
			}
		}
	}
}

func routineKind(k ast.GroupKind) bytecode.RoutineKind {
	switch k {
	case ast.GroupParallel:
		return bytecode.RoutineParallel
	case ast.GroupRace:
		return bytecode.RoutineRace
	default:
		return bytecode.RoutineSequence
	}
}

func (c *compiler) routine(decl *ast.GroupDeclaration) {
	idx := c.routines[decl.Name]
	r := &c.prog.Routines[idx]
	if r.Kind == bytecode.RoutineSequence {
		sc := c.newScope(decl.Params)
		sc.collect(decl.Body)
		r.Entry = c.here()
		c.statements(sc, decl.Body, false)
		c.emit(bytecode.OpVoid, 0, 0)
		c.emit(bytecode.OpReturn, 0, 0)
		return
	}
	r.Branches = []int{}
	for _, stmt := range decl.Body {
		sc := c.newScope(decl.Params)
		sc.collect([]ast.Statement{stmt})
		r.Branches = append(r.Branches, c.here())
		// An exec branch yields the value of its call.
		if exec, ok := stmt.(*ast.ExecStatement); ok {
			c.call(sc, exec.Call)
		} else {
			c.statement(sc, stmt, false)
			c.emit(bytecode.OpVoid, 0, 0)
		}
		c.emit(bytecode.OpReturn, 0, 0)
	}
}

//-----------------------------------------------------------------------------
// Scopes
//-----------------------------------------------------------------------------

// scope is the set of local names visible in one activation.
type scope struct {
	c      *compiler
	locals map[string]bool
}

func (c *compiler) newScope(params []string) *scope {
	sc := &scope{c: c, locals: make(map[string]bool)}
	for _, p := range params {
		sc.locals[p] = true
	}
	return sc
}

// collect records every local assigned anywhere in stmts.
func (sc *scope) collect(stmts []ast.Statement) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.AssignStatement:
			if _, isProp := sc.c.props[s.Name]; !isProp {
				sc.locals[s.Name] = true
			}
		case *ast.IfStatement:
			sc.collect(s.Then)
			sc.collect(s.Else)
		case *ast.WhileStatement:
			sc.collect(s.Body)
		}
	}
}

//-----------------------------------------------------------------------------
// Statements
//-----------------------------------------------------------------------------

func (c *compiler) statements(sc *scope, stmts []ast.Statement, topLevel bool) {
	for _, stmt := range stmts {
		c.statement(sc, stmt, topLevel)
	}
}

func (c *compiler) statement(sc *scope, stmt ast.Statement, topLevel bool) {
	switch s := stmt.(type) {
	case *ast.UseStatement:
		if !topLevel {
			c.errorf(s.Span, "use $%s must appear at top level", s.Name)
		}
	case *ast.GroupDeclaration:
		if !topLevel {
			c.errorf(s.Span, "group %s must be declared at top level", s.Name)
		}
	case *ast.ExecStatement:
		c.call(sc, s.Call)
		c.emit(bytecode.OpPop, 0, 0)
	case *ast.AssignStatement:
		c.expression(sc, s.Value)
		if binding, isProp := c.props[s.Name]; isProp {
			c.prog.Bindings[binding].Writes = true
			c.emit(bytecode.OpSet, binding, 0)
		} else {
			c.emit(bytecode.OpStore, c.prog.Name(s.Name), 0)
		}
	case *ast.YieldStatement:
		c.emit(bytecode.OpYield, 0, 0)
	case *ast.ReturnStatement:
		if s.Value != nil {
			c.expression(sc, s.Value)
		} else {
			c.emit(bytecode.OpVoid, 0, 0)
		}
		c.emit(bytecode.OpReturn, 0, 0)
	case *ast.IfStatement:
		c.expression(sc, s.Condition)
		skip := c.emit(jumpOp(s.Invert), 0, 0)
		c.statements(sc, s.Then, false)
		if len(s.Else) == 0 {
			c.prog.Patch(skip, c.here())
			return
		}
		end := c.emit(bytecode.OpJump, 0, 0)
		c.prog.Patch(skip, c.here())
		c.statements(sc, s.Else, false)
		c.prog.Patch(end, c.here())
	case *ast.WhileStatement:
		top := c.here()
		c.expression(sc, s.Condition)
		exit := c.emit(jumpOp(s.Invert), 0, 0)
		c.statements(sc, s.Body, false)
		if c.opts.LoopYield {
			c.emit(bytecode.OpYield, 0, 0)
		}
		c.emit(bytecode.OpJump, top, 0)
		c.prog.Patch(exit, c.here())
	default:
		c.errorf(stmt.Pos(), "unsupported statement %T", stmt)
	}
}

// jumpOp picks the branch that skips a block: `if`/`while` skip on false,
// `unless`/`until` skip on true.
func jumpOp(invert bool) bytecode.Op {
	if invert {
		return bytecode.OpJumpIfTrue
	}
	return bytecode.OpJumpIfFalse
}

//-----------------------------------------------------------------------------
// Expressions
//-----------------------------------------------------------------------------

var binaryOps = map[string]bytecode.Op{
	"+":   bytecode.OpAdd,
	"-":   bytecode.OpSub,
	"*":   bytecode.OpMul,
	"/":   bytecode.OpDiv,
	"%":   bytecode.OpMod,
	"^":   bytecode.OpPow,
	"==":  bytecode.OpEq,
	"!=":  bytecode.OpNe,
	"<":   bytecode.OpLt,
	"<=":  bytecode.OpLe,
	">":   bytecode.OpGt,
	">=":  bytecode.OpGe,
	"and": bytecode.OpAnd,
	"or":  bytecode.OpOr,
	"xor": bytecode.OpXor,
}

var unaryOps = map[string]bytecode.Op{
	"-":   bytecode.OpNeg,
	"not": bytecode.OpNot,
	"abs": bytecode.OpAbs,
}

func (c *compiler) expression(sc *scope, expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.Literal:
		c.literal(e)
	case *ast.Variable:
		if binding, isProp := c.props[e.Name]; isProp {
			c.emit(bytecode.OpGet, binding, 0)
			return
		}
		if !sc.locals[e.Name] {
			c.errorf(e.Span, "unknown variable $%s", e.Name)
			return
		}
		c.emit(bytecode.OpLoad, c.prog.Name(e.Name), 0)
	case *ast.Unary:
		c.expression(sc, e.Operand)
		op, ok := unaryOps[e.Operator]
		if !ok {
			c.errorf(e.Span, "unknown operator %s", e.Operator)
			return
		}
		c.emit(op, 0, 0)
	case *ast.Binary:
		c.expression(sc, e.Left)
		c.expression(sc, e.Right)
		op, ok := binaryOps[e.Operator]
		if !ok {
			c.errorf(e.Span, "unknown operator %s", e.Operator)
			return
		}
		c.emit(op, 0, 0)
	case *ast.ListLiteral:
		for _, el := range e.Elements {
			c.expression(sc, el)
		}
		c.emit(bytecode.OpList, 0, len(e.Elements))
	case *ast.Index:
		c.expression(sc, e.Container)
		c.expression(sc, e.Index)
		c.emit(bytecode.OpIndex, 0, 0)
	case *ast.Call:
		c.call(sc, e)
	default:
		c.errorf(expr.Pos(), "unsupported expression %T", expr)
	}
}

func (c *compiler) literal(lit *ast.Literal) {
	var val runtime.Value
	switch v := lit.Value.(type) {
	case nil:
		c.emit(bytecode.OpVoid, 0, 0)
		return
	case bool:
		val = runtime.BoolValue{Val: v}
	case int64:
		val = runtime.IntegerValue{Val: v}
	case float64:
		val = runtime.FloatValue{Val: v}
	case string:
		val = runtime.StringValue{Val: v}
	default:
		c.errorf(lit.Span, "unsupported literal %T", lit.Value)
		return
	}
	c.emit(bytecode.OpConst, c.prog.AddConstant(val), 0)
}

// call compiles a call to a user group or an external callable, leaving its
// result on the stack. Words only shape the call site and never reach the
// interpreter.
func (c *compiler) call(sc *scope, call *ast.Call) {
	if idx, ok := c.routines[call.Name]; ok {
		r := c.prog.Routines[idx]
		values := 0
		for _, arg := range call.Args {
			if arg.IsWord() {
				c.errorf(call.Span, "group %s does not accept word %q", call.Name, arg.Word)
				continue
			}
			c.expression(sc, arg.Value)
			values++
		}
		if values != len(r.Params) {
			c.errorf(call.Span, "group %s expects %d arguments, got %d", call.Name, len(r.Params), values)
		}
		op := bytecode.OpGroup
		if r.Kind == bytecode.RoutineSequence {
			op = bytecode.OpInvoke
		}
		c.emit(op, idx, len(r.Params))
		return
	}

	binding := c.prog.Binding(call.Name, bytecode.BindCallable)
	words := make([]string, len(call.Args))
	values := 0
	for i, arg := range call.Args {
		if arg.IsWord() {
			words[i] = arg.Word
			continue
		}
		c.expression(sc, arg.Value)
		values++
	}
	c.prog.AddShape(binding, bytecode.Shape(words))
	c.emit(bytecode.OpCall, binding, values)
}
