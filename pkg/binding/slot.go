package binding

import (
	"fmt"

	"ai/interpreter-go/pkg/runtime"
)

// Slot is a resolved binding. Every host interaction goes through a Slot,
// which checks value kinds and turns host errors and panics into classified
// runtime errors.
type Slot struct {
	Name  string
	entry *Entry
}

// IsTask reports whether calls start a multi-step Task.
func (s *Slot) IsTask() bool { return s.entry.Task != nil }

// Invoke calls a plain callable.
func (s *Slot) Invoke(args []runtime.Value) (result runtime.Value, err error) {
	if err := s.checkArgs(args); err != nil {
		return nil, err
	}
	defer s.recoverInto(&err, "callable")
	result, err = s.entry.Callable.Call(args)
	if err != nil {
		return nil, s.hostError(err, "callable")
	}
	return s.checkResult(result)
}

// Start begins a task callable. The returned Task is guarded the same way
// as Invoke.
func (s *Slot) Start(args []runtime.Value) (task Task, err error) {
	if err := s.checkArgs(args); err != nil {
		return nil, err
	}
	defer s.recoverInto(&err, "callable")
	t, err := s.entry.Task.Start(args)
	if err != nil {
		return nil, s.hostError(err, "callable")
	}
	if t == nil {
		return nil, runtime.NewError(runtime.EnvironmentError, "callable %q started no task", s.Name)
	}
	return &guardedTask{slot: s, task: t}, nil
}

// Get reads a prop.
func (s *Slot) Get() (val runtime.Value, err error) {
	defer s.recoverInto(&err, "prop")
	val, err = s.entry.Prop.Get()
	if err != nil {
		return nil, s.hostError(err, "prop")
	}
	if val == nil {
		val = runtime.Void
	}
	if !s.entry.PropKind.Accepts(val.Kind()) {
		return nil, runtime.NewError(runtime.TypeError, "prop %q returned %s, declared %s", s.Name, val.Kind(), s.entry.PropKind)
	}
	return val, nil
}

// Set writes a prop.
func (s *Slot) Set(val runtime.Value) (err error) {
	sp, ok := s.entry.Prop.(SettableProp)
	if !ok {
		return runtime.NewError(runtime.EnvironmentError, "prop %q is not settable", s.Name)
	}
	if !s.entry.PropKind.Accepts(val.Kind()) {
		return runtime.NewError(runtime.TypeError, "prop %q expects %s, got %s", s.Name, s.entry.PropKind, val.Kind())
	}
	defer s.recoverInto(&err, "prop")
	if err := sp.Set(val); err != nil {
		return s.hostError(err, "prop")
	}
	return nil
}

func (s *Slot) checkArgs(args []runtime.Value) error {
	sig := s.entry.Signature
	if !sig.acceptsArity(len(args)) {
		return runtime.NewError(runtime.TypeError, "callable %q expects %d arguments, got %d", s.Name, sig.Arity, len(args))
	}
	for i, arg := range args {
		if want := sig.argKind(i); !want.Accepts(arg.Kind()) {
			return runtime.NewError(runtime.TypeError, "callable %q argument %d: expected %s, got %s", s.Name, i+1, want, arg.Kind())
		}
	}
	return nil
}

func (s *Slot) checkResult(result runtime.Value) (runtime.Value, error) {
	if result == nil {
		result = runtime.Void
	}
	if sig := s.entry.Signature; sig.checksReturn() && !sig.Returns.Accepts(result.Kind()) {
		return nil, runtime.NewError(runtime.TypeError, "callable %q returned %s, declared %s", s.Name, result.Kind(), sig.Returns)
	}
	return result, nil
}

// hostError classifies a host failure as an EnvironmentError. An error the
// host already classified stays reachable through Unwrap.
func (s *Slot) hostError(err error, what string) error {
	return runtime.WrapError(runtime.EnvironmentError, err, "%s %q failed", what, s.Name)
}

func (s *Slot) recoverInto(errp *error, what string) {
	if r := recover(); r != nil {
		*errp = runtime.WrapError(runtime.EnvironmentError, fmt.Errorf("panic: %v", r), "%s %q failed", what, s.Name)
	}
}

type guardedTask struct {
	slot *Slot
	task Task
}

func (g *guardedTask) Poll() (result runtime.Value, done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, done = nil, false
			err = runtime.WrapError(runtime.EnvironmentError, fmt.Errorf("panic: %v", r), "callable %q failed", g.slot.Name)
		}
	}()
	result, done, err = g.task.Poll()
	if err != nil {
		return nil, false, g.slot.hostError(err, "callable")
	}
	if !done {
		return nil, false, nil
	}
	result, err = g.slot.checkResult(result)
	return result, err == nil, err
}

// Stop swallows host panics; a stopped task has no result to report.
func (g *guardedTask) Stop() {
	defer func() { _ = recover() }()
	g.task.Stop()
}
