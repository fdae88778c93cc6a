package interpreter

import (
	"fmt"

	"ai/interpreter-go/pkg/binding"
	"ai/interpreter-go/pkg/runtime"
)

// StepKind classifies the outcome of one Step.
type StepKind int

const (
	// Continue: one instruction executed; the caller decides whether to step again.
	Continue StepKind = iota
	// Suspended: the frame reached a yield point, an unfinished task or a
	// group round, and must be resumed by stepping again.
	Suspended
	Completed
	Faulted
	Cancelled
)

func (k StepKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Faulted:
		return "faulted"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Terminal reports whether no further steps are possible.
func (k StepKind) Terminal() bool {
	return k == Completed || k == Faulted || k == Cancelled
}

// StepResult is what one Step produced. Value is set for Completed; Err is
// set for Faulted and Cancelled and carries the instruction pointer.
type StepResult struct {
	Kind  StepKind
	Value runtime.Value
	Err   *runtime.Error
}

func (r StepResult) String() string {
	switch r.Kind {
	case Completed:
		return fmt.Sprintf("completed(%s)", runtime.Format(r.Value))
	case Faulted, Cancelled:
		if r.Err != nil {
			return fmt.Sprintf("%s(%s)", r.Kind, r.Err)
		}
	}
	return r.Kind.String()
}

var (
	continueResult  = StepResult{Kind: Continue}
	suspendedResult = StepResult{Kind: Suspended}
)

// activation is the caller state saved by Invoke.
type activation struct {
	returnIP int
	locals   []runtime.Value
	base     int
}

// Frame is the resumable state of one logical thread. A frame is owned by
// whoever steps it and must not be stepped concurrently.
type Frame struct {
	exe    *Executable
	ip     int
	stack  []runtime.Value
	locals []runtime.Value
	calls  []activation
	depth  int

	cancel bool
	done   bool
	result StepResult

	task  binding.Task
	group *Group
	steps uint64
}

func newFrame(exe *Executable, ip int, locals []runtime.Value, depth int) *Frame {
	if locals == nil {
		locals = make([]runtime.Value, len(exe.prog.Names))
	}
	return &Frame{exe: exe, ip: ip, locals: locals, depth: depth}
}

// IP returns the instruction pointer. After a fault it still addresses the
// faulting instruction.
func (f *Frame) IP() int { return f.ip }

// Depth is the group nesting level; root frames are at depth 0.
func (f *Frame) Depth() int { return f.depth }

// Steps counts Step calls that did work.
func (f *Frame) Steps() uint64 { return f.steps }

// Done reports whether the frame is in a terminal state.
func (f *Frame) Done() bool { return f.done }

// Result returns the terminal result, if any.
func (f *Frame) Result() (StepResult, bool) { return f.result, f.done }

// CancelPending reports whether Cancel has been requested.
func (f *Frame) CancelPending() bool { return f.cancel }

// Cancel requests cooperative cancellation. The next Step observes the flag
// and ends the frame as Cancelled without executing another instruction.
func (f *Frame) Cancel() {
	if !f.done {
		f.cancel = true
	}
}

// Stack returns a copy of the operand stack, for inspection.
func (f *Frame) Stack() []runtime.Value {
	return append([]runtime.Value(nil), f.stack...)
}

// Local returns the value of a local in the current activation.
func (f *Frame) Local(name string) (runtime.Value, bool) {
	for i, n := range f.exe.prog.Names {
		if n == name && f.locals[i] != nil {
			return f.locals[i], true
		}
	}
	return nil, false
}

func (f *Frame) finish(r StepResult) StepResult {
	f.done = true
	f.result = r
	f.stack = nil
	f.calls = nil
	return r
}

func (f *Frame) fault(err *runtime.Error) StepResult {
	err = err.At(f.ip)
	f.exe.logger.Debug().Int("ip", f.ip).Int("depth", f.depth).Str("kind", err.Kind.String()).Msg(err.Error())
	return f.finish(StepResult{Kind: Faulted, Err: err})
}

func (f *Frame) faultf(kind runtime.ErrorKind, format string, args ...any) StepResult {
	return f.fault(runtime.NewError(kind, format, args...))
}

func (f *Frame) complete(val runtime.Value) StepResult {
	return f.finish(StepResult{Kind: Completed, Value: val})
}

// observeCancel ends the frame, stopping any in-flight task and cancelling
// any in-flight group.
func (f *Frame) observeCancel() StepResult {
	if f.task != nil {
		f.task.Stop()
		f.task = nil
	}
	if f.group != nil {
		f.group.Cancel()
		f.group = nil
	}
	err := runtime.NewError(runtime.CancelledError, "cancelled").At(f.ip)
	return f.finish(StepResult{Kind: Cancelled, Err: err})
}

func (f *Frame) push(v runtime.Value) { f.stack = append(f.stack, v) }

func (f *Frame) pop() runtime.Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

// popN removes the top n values, preserving their push order.
func (f *Frame) popN(n int) []runtime.Value {
	start := len(f.stack) - n
	out := make([]runtime.Value, n)
	copy(out, f.stack[start:])
	f.stack = f.stack[:start]
	return out
}
