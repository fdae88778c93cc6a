// Package binding is the capability boundary between compiled programs and
// the host environment. Hosts supply Callables and Props in a Table; programs
// are resolved against it once at load time.
package binding

import (
	"sync"

	"ai/interpreter-go/pkg/runtime"
)

// Callable is a leaf effect invoked for its value. Callables must not drive
// the interpreter themselves.
type Callable interface {
	Call(args []runtime.Value) (runtime.Value, error)
}

// CallableFunc adapts a function to Callable.
type CallableFunc func(args []runtime.Value) (runtime.Value, error)

func (f CallableFunc) Call(args []runtime.Value) (runtime.Value, error) { return f(args) }

// Task is an effect that spans several steps. Poll is called once per step of
// the owning frame until it reports done; Stop is called if the frame is
// cancelled first.
//
// A task started inside a nested group is polled in a tight loop, once per
// group round, with no host tick in between. Such tasks should count polls
// rather than wait on wall-clock time, or they run into MaxGroupRounds.
type Task interface {
	Poll() (result runtime.Value, done bool, err error)
	Stop()
}

// TaskCallable starts a Task.
type TaskCallable interface {
	Start(args []runtime.Value) (Task, error)
}

// TaskFunc adapts a function to TaskCallable.
type TaskFunc func(args []runtime.Value) (Task, error)

func (f TaskFunc) Start(args []runtime.Value) (Task, error) { return f(args) }

// Prop is a named external cell that can be read.
type Prop interface {
	Get() (runtime.Value, error)
}

// SettableProp is a Prop that also accepts writes.
type SettableProp interface {
	Prop
	Set(runtime.Value) error
}

// PropFunc adapts a getter to a read-only Prop.
type PropFunc func() (runtime.Value, error)

func (f PropFunc) Get() (runtime.Value, error) { return f() }

// PropFuncs adapts a getter and setter pair to SettableProp.
type PropFuncs struct {
	GetFunc func() (runtime.Value, error)
	SetFunc func(runtime.Value) error
}

func (p PropFuncs) Get() (runtime.Value, error) { return p.GetFunc() }
func (p PropFuncs) Set(v runtime.Value) error  { return p.SetFunc(v) }

// Cell is an in-memory settable prop.
type Cell struct {
	mu  sync.Mutex
	val runtime.Value
}

// NewCell returns a cell holding initial (void when nil).
func NewCell(initial runtime.Value) *Cell {
	if initial == nil {
		initial = runtime.Void
	}
	return &Cell{val: initial}
}

func (c *Cell) Get() (runtime.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, nil
}

func (c *Cell) Set(v runtime.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = v
	return nil
}

// Signature describes what a callable accepts.
type Signature struct {
	// Syntax lists the accepted call-site shapes, such as "* degrees". When
	// empty, only value arguments are accepted.
	Syntax []string
	// Arity is the number of value arguments; Variadic allows more.
	Arity    int
	Variadic bool
	// Args gives expected kinds by position; missing positions accept any.
	Args []runtime.Kind
	// Returns is checked when it is neither KindVoid nor KindAny.
	Returns runtime.Kind
}

func (s Signature) argKind(i int) runtime.Kind {
	if i < len(s.Args) {
		return s.Args[i]
	}
	return runtime.KindAny
}

func (s Signature) acceptsArity(n int) bool {
	if s.Variadic {
		return n >= s.Arity
	}
	return n == s.Arity
}

func (s Signature) checksReturn() bool {
	return s.Returns != runtime.KindVoid && s.Returns != runtime.KindAny
}
