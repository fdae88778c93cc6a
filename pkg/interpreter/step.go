package interpreter

import (
	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/runtime"
)

// Step advances the frame by at most one instruction.
//
// A frame with an in-flight task polls it instead of executing; a root frame
// with an in-flight group drives one group round instead. Stepping a terminal
// frame is an InvalidState fault and leaves the frame untouched.
func (f *Frame) Step() StepResult {
	if f.done {
		err := runtime.NewError(runtime.InvalidState, "frame already %s", f.result.Kind).At(f.ip)
		return StepResult{Kind: Faulted, Err: err}
	}
	if f.cancel {
		return f.observeCancel()
	}
	f.steps++
	if f.task != nil {
		return f.pollTask()
	}
	if f.group != nil {
		return f.driveGroup()
	}

	code := f.exe.prog.Code
	if f.ip < 0 || f.ip >= len(code) {
		return f.faultf(runtime.InvalidState, "instruction pointer %d out of range", f.ip)
	}
	ins := code[f.ip]
	f.exe.logger.Trace().
		Int("ip", f.ip).
		Str("op", ins.Op.String()).
		Int("arg", ins.Arg).
		Int("stack_depth", len(f.stack)).
		Int("depth", f.depth).
		Msg("step")

	pops, pushes := ins.StackEffect()
	if len(f.stack) < pops {
		return f.faultf(runtime.InvalidState, "operand stack underflow: %s needs %d values, have %d", ins.Op, pops, len(f.stack))
	}
	if limit := f.exe.limits.MaxStack; limit > 0 && len(f.stack)-pops+pushes > limit {
		return f.faultf(runtime.LimitError, "operand stack exceeds %d values", limit)
	}
	return f.exec(ins)
}

// next advances past the current instruction.
func (f *Frame) next() StepResult {
	f.ip++
	return continueResult
}

func (f *Frame) exec(ins bytecode.Instruction) StepResult {
	prog := f.exe.prog
	switch ins.Op {
	case bytecode.OpNop:
		return f.next()
	case bytecode.OpConst:
		f.push(prog.Constants[ins.Arg])
		return f.next()
	case bytecode.OpVoid:
		f.push(runtime.Void)
		return f.next()
	case bytecode.OpPop:
		f.pop()
		return f.next()
	case bytecode.OpDup:
		f.push(f.stack[len(f.stack)-1])
		return f.next()

	case bytecode.OpLoad:
		v := f.locals[ins.Arg]
		if v == nil {
			return f.faultf(runtime.TypeError, "unbound variable $%s", prog.Names[ins.Arg])
		}
		f.push(v)
		return f.next()
	case bytecode.OpStore:
		f.locals[ins.Arg] = f.pop()
		return f.next()
	case bytecode.OpGet:
		v, err := f.exe.slots.Slot(ins.Arg).Get()
		if err != nil {
			return f.fault(runtime.AsError(err, runtime.EnvironmentError))
		}
		f.push(v)
		return f.next()
	case bytecode.OpSet:
		if err := f.exe.slots.Slot(ins.Arg).Set(f.pop()); err != nil {
			return f.fault(runtime.AsError(err, runtime.EnvironmentError))
		}
		return f.next()

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpPow:
		a, b := f.stack[len(f.stack)-2], f.stack[len(f.stack)-1]
		v, err := arithmetic(ins.Op, a, b)
		if err != nil {
			return f.fault(err)
		}
		f.stack = f.stack[:len(f.stack)-2]
		f.push(v)
		return f.next()
	case bytecode.OpNeg, bytecode.OpAbs:
		var v runtime.Value
		var err *runtime.Error
		if ins.Op == bytecode.OpNeg {
			v, err = negate(f.stack[len(f.stack)-1])
		} else {
			v, err = absolute(f.stack[len(f.stack)-1])
		}
		if err != nil {
			return f.fault(err)
		}
		f.stack[len(f.stack)-1] = v
		return f.next()
	case bytecode.OpNot:
		f.stack[len(f.stack)-1] = runtime.BoolValue{Val: !runtime.Truthy(f.stack[len(f.stack)-1])}
		return f.next()
	case bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor:
		b := f.pop()
		a := f.pop()
		f.push(logical(ins.Op, a, b))
		return f.next()
	case bytecode.OpEq, bytecode.OpNe:
		b := f.pop()
		a := f.pop()
		eq := runtime.Equal(a, b)
		f.push(runtime.BoolValue{Val: eq == (ins.Op == bytecode.OpEq)})
		return f.next()
	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		a, b := f.stack[len(f.stack)-2], f.stack[len(f.stack)-1]
		v, err := compare(ins.Op, a, b)
		if err != nil {
			return f.fault(err)
		}
		f.stack = f.stack[:len(f.stack)-2]
		f.push(v)
		return f.next()

	case bytecode.OpList:
		f.push(runtime.ListValue{Elements: f.popN(ins.Count)})
		return f.next()
	case bytecode.OpIndex:
		c, i := f.stack[len(f.stack)-2], f.stack[len(f.stack)-1]
		v, err := index(c, i)
		if err != nil {
			return f.fault(err)
		}
		f.stack = f.stack[:len(f.stack)-2]
		f.push(v)
		return f.next()

	case bytecode.OpJump:
		f.ip = ins.Arg
		return continueResult
	case bytecode.OpJumpIfFalse, bytecode.OpJumpIfTrue:
		cond := runtime.Truthy(f.pop())
		if cond == (ins.Op == bytecode.OpJumpIfTrue) {
			f.ip = ins.Arg
			return continueResult
		}
		return f.next()

	case bytecode.OpCall:
		return f.call(ins)
	case bytecode.OpInvoke:
		return f.invoke(ins)
	case bytecode.OpGroup:
		return f.startGroup(ins)
	case bytecode.OpReturn:
		return f.ret()
	case bytecode.OpYield:
		f.ip++
		return suspendedResult
	}
	return f.faultf(runtime.InvalidState, "unknown opcode %d", int(ins.Op))
}

// call invokes an external callable. Arguments stay on the stack until the
// host accepts them, so a fault leaves the frame exactly at the call.
func (f *Frame) call(ins bytecode.Instruction) StepResult {
	slot := f.exe.slots.Slot(ins.Arg)
	args := append([]runtime.Value(nil), f.stack[len(f.stack)-ins.Count:]...)
	if slot.IsTask() {
		task, err := slot.Start(args)
		if err != nil {
			return f.fault(runtime.AsError(err, runtime.EnvironmentError))
		}
		f.stack = f.stack[:len(f.stack)-ins.Count]
		f.task = task
		return f.pollTask()
	}
	v, err := slot.Invoke(args)
	if err != nil {
		return f.fault(runtime.AsError(err, runtime.EnvironmentError))
	}
	f.stack = f.stack[:len(f.stack)-ins.Count]
	f.push(v)
	return f.next()
}

// pollTask polls the in-flight task once. The frame stays at the call
// instruction until the task is done.
func (f *Frame) pollTask() StepResult {
	v, done, err := f.task.Poll()
	if err != nil {
		f.task = nil
		return f.fault(runtime.AsError(err, runtime.EnvironmentError))
	}
	if !done {
		return suspendedResult
	}
	f.task = nil
	f.push(v)
	return f.next()
}

func (f *Frame) invoke(ins bytecode.Instruction) StepResult {
	r := f.exe.prog.Routines[ins.Arg]
	if limit := f.exe.limits.MaxCallDepth; limit > 0 && len(f.calls) >= limit {
		return f.faultf(runtime.LimitError, "call depth exceeds %d invoking %s", limit, r.Name)
	}
	args := f.popN(ins.Count)
	locals := make([]runtime.Value, len(f.exe.prog.Names))
	for i, param := range r.Params {
		locals[param] = args[i]
	}
	f.calls = append(f.calls, activation{returnIP: f.ip + 1, locals: f.locals, base: len(f.stack)})
	f.locals = locals
	f.ip = r.Entry
	return continueResult
}

func (f *Frame) ret() StepResult {
	v := f.pop()
	if len(f.calls) == 0 {
		return f.complete(v)
	}
	act := f.calls[len(f.calls)-1]
	f.calls = f.calls[:len(f.calls)-1]
	f.locals = act.locals
	if act.base < len(f.stack) {
		f.stack = f.stack[:act.base]
	}
	f.push(v)
	f.ip = act.returnIP
	return continueResult
}
