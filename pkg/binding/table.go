package binding

import (
	"fmt"
	"sort"

	"ai/interpreter-go/pkg/runtime"
)

// Entry is one registered capability. Exactly one of Callable, Task and Prop
// is set.
type Entry struct {
	Name      string
	Callable  Callable
	Task      TaskCallable
	Signature Signature
	Prop      Prop
	// PropKind constrains values read from and written to Prop.
	PropKind runtime.Kind
}

// IsProp reports whether the entry is a prop.
func (e *Entry) IsProp() bool { return e.Prop != nil }

// Settable reports whether the entry is a prop that accepts writes.
func (e *Entry) Settable() bool {
	_, ok := e.Prop.(SettableProp)
	return ok
}

// Table maps binding names to host capabilities.
type Table struct {
	entries map[string]*Entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

func (t *Table) add(e *Entry) error {
	if e.Name == "" {
		return fmt.Errorf("binding: empty name")
	}
	if _, dup := t.entries[e.Name]; dup {
		return fmt.Errorf("binding: %q already registered", e.Name)
	}
	t.entries[e.Name] = e
	return nil
}

// Register adds a callable.
func (t *Table) Register(name string, c Callable, sig Signature) error {
	if c == nil {
		return fmt.Errorf("binding: nil callable %q", name)
	}
	return t.add(&Entry{Name: name, Callable: c, Signature: sig})
}

// RegisterFunc adds a function as a callable.
func (t *Table) RegisterFunc(name string, fn func(args []runtime.Value) (runtime.Value, error), sig Signature) error {
	return t.Register(name, CallableFunc(fn), sig)
}

// RegisterTask adds a multi-step callable.
func (t *Table) RegisterTask(name string, c TaskCallable, sig Signature) error {
	if c == nil {
		return fmt.Errorf("binding: nil task callable %q", name)
	}
	return t.add(&Entry{Name: name, Task: c, Signature: sig})
}

// RegisterProp adds a prop. kind may be KindAny.
func (t *Table) RegisterProp(name string, p Prop, kind runtime.Kind) error {
	if p == nil {
		return fmt.Errorf("binding: nil prop %q", name)
	}
	return t.add(&Entry{Name: name, Prop: p, PropKind: kind})
}

// Lookup returns the entry registered under name.
func (t *Table) Lookup(name string) (*Entry, bool) {
	if t == nil {
		return nil, false
	}
	e, ok := t.entries[name]
	return e, ok
}

// Names lists registered names in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
