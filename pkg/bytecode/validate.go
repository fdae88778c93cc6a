package bytecode

import (
	"errors"
	"fmt"

	"ai/interpreter-go/pkg/runtime"
)

// Validate checks every structural invariant the interpreter relies on, so
// that no malformed program ever produces a frame. All failures are reported
// together as a LoadError.
func (p *Program) Validate() error {
	if p == nil {
		return runtime.NewError(runtime.LoadError, "program is nil")
	}
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	n := len(p.Code)
	if n == 0 {
		return runtime.NewError(runtime.LoadError, "program has no instructions")
	}
	if last := p.Code[n-1].Op; last != OpReturn && last != OpJump {
		fail("program must end in return or jump, found %s", last)
	}
	if p.Entry < 0 || p.Entry >= n {
		fail("entry offset %d out of range", p.Entry)
	}
	for i, c := range p.Constants {
		if c == nil {
			fail("constant %d is nil", i)
		}
	}
	for i, decl := range p.Bindings {
		if decl.Name == "" {
			fail("binding %d has no name", i)
		}
		if decl.Kind != BindCallable && decl.Kind != BindProp {
			fail("binding %q has unknown kind %d", decl.Name, int(decl.Kind))
		}
		if decl.Kind == BindProp && len(decl.Shapes) > 0 {
			fail("prop binding %q declares call shapes", decl.Name)
		}
	}
	for i, r := range p.Routines {
		for _, param := range r.Params {
			if param < 0 || param >= len(p.Names) {
				fail("routine %q parameter name %d out of range", r.Name, param)
			}
		}
		switch r.Kind {
		case RoutineSequence:
			if r.Entry < 0 || r.Entry >= n {
				fail("routine %q entry %d out of range", r.Name, r.Entry)
			}
		case RoutineParallel, RoutineRace:
			for _, b := range r.Branches {
				if b < 0 || b >= n {
					fail("routine %q branch offset %d out of range", r.Name, b)
				}
			}
		default:
			fail("routine %d has unknown kind %d", i, int(r.Kind))
		}
	}

	for ip, ins := range p.Code {
		if !ins.Op.Valid() {
			fail("ip %d: unknown opcode %d", ip, int(ins.Op))
			continue
		}
		if ins.Op.Counted() && ins.Count < 0 {
			fail("ip %d: %s has negative count %d", ip, ins.Op, ins.Count)
		}
		switch ins.Op.Operand() {
		case OperandConst:
			if ins.Arg < 0 || ins.Arg >= len(p.Constants) {
				fail("ip %d: constant index %d out of range", ip, ins.Arg)
			}
		case OperandName:
			if ins.Arg < 0 || ins.Arg >= len(p.Names) {
				fail("ip %d: name index %d out of range", ip, ins.Arg)
			}
		case OperandTarget:
			if ins.Arg < 0 || ins.Arg >= n {
				fail("ip %d: branch target %d out of range", ip, ins.Arg)
			}
		case OperandBinding:
			if ins.Arg < 0 || ins.Arg >= len(p.Bindings) {
				fail("ip %d: binding index %d out of range", ip, ins.Arg)
				continue
			}
			decl := p.Bindings[ins.Arg]
			switch ins.Op {
			case OpCall:
				if decl.Kind != BindCallable {
					fail("ip %d: call of prop %q", ip, decl.Name)
				}
			case OpGet, OpSet:
				if decl.Kind != BindProp {
					fail("ip %d: %s of callable %q", ip, ins.Op, decl.Name)
				} else if ins.Op == OpSet && !decl.Writes {
					fail("ip %d: set of prop %q not declared writable", ip, decl.Name)
				}
			}
		case OperandRoutine:
			if ins.Arg < 0 || ins.Arg >= len(p.Routines) {
				fail("ip %d: routine index %d out of range", ip, ins.Arg)
				continue
			}
			r := p.Routines[ins.Arg]
			if ins.Op == OpInvoke && r.Kind != RoutineSequence {
				fail("ip %d: invoke of %s group %q", ip, r.Kind, r.Name)
			}
			if ins.Op == OpGroup && r.Kind == RoutineSequence {
				fail("ip %d: group start of sequence group %q", ip, r.Name)
			}
			if ins.Count != len(r.Params) {
				fail("ip %d: %q expects %d arguments, got %d", ip, r.Name, len(r.Params), ins.Count)
			}
		}
	}
	if len(errs) == 0 {
		p.checkStack(fail)
	}
	if len(errs) == 0 {
		return nil
	}
	return runtime.WrapError(runtime.LoadError, errors.Join(errs...), "invalid program")
}

// checkStack follows every path from the program entry, each sequence
// routine entry and each group branch, all of which start with an empty
// operand stack. It rejects underflow and paths that reach one instruction
// with different stack depths.
func (p *Program) checkStack(fail func(format string, args ...any)) {
	n := len(p.Code)
	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}
	var work []int
	visit := func(from, ip, d int) {
		if ip < 0 || ip >= n {
			fail("ip %d: execution runs past the end of the program", from)
			return
		}
		switch depth[ip] {
		case -1:
			depth[ip] = d
			work = append(work, ip)
		case d:
		default:
			fail("ip %d: inconsistent stack depth (%d, and %d from ip %d)", ip, depth[ip], d, from)
		}
	}

	visit(-1, p.Entry, 0)
	for _, r := range p.Routines {
		if r.Kind == RoutineSequence {
			visit(-1, r.Entry, 0)
			continue
		}
		for _, b := range r.Branches {
			visit(-1, b, 0)
		}
	}

	for len(work) > 0 {
		ip := work[len(work)-1]
		work = work[:len(work)-1]
		ins := p.Code[ip]
		pops, pushes := ins.StackEffect()
		d := depth[ip]
		if d < pops {
			fail("ip %d: %s needs %d operands, stack has %d", ip, ins.Op, pops, d)
			continue
		}
		d += pushes - pops
		switch ins.Op {
		case OpReturn:
		case OpJump:
			visit(ip, ins.Arg, d)
		case OpJumpIfFalse, OpJumpIfTrue:
			visit(ip, ip+1, d)
			visit(ip, ins.Arg, d)
		default:
			visit(ip, ip+1, d)
		}
	}
}
