package binding

import (
	"errors"
	"fmt"
	"slices"

	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/runtime"
)

// Resolved holds one slot per Program.Bindings entry, in the same order.
type Resolved struct {
	slots []*Slot
}

// Slot returns the resolved binding at index i.
func (r *Resolved) Slot(i int) *Slot { return r.slots[i] }

// Len reports the number of slots.
func (r *Resolved) Len() int { return len(r.slots) }

// Resolve binds every declaration in prog against table. Every problem is
// collected and reported as a single LoadError.
func Resolve(prog *bytecode.Program, table *Table) (*Resolved, error) {
	var errs []error
	out := &Resolved{slots: make([]*Slot, len(prog.Bindings))}
	for i, decl := range prog.Bindings {
		entry, ok := table.Lookup(decl.Name)
		if !ok {
			errs = append(errs, fmt.Errorf("unbound %s %q", decl.Kind, decl.Name))
			continue
		}
		if err := checkEntry(decl, entry); err != nil {
			errs = append(errs, err)
			continue
		}
		out.slots[i] = &Slot{Name: decl.Name, entry: entry}
	}
	if len(errs) > 0 {
		return nil, runtime.WrapError(runtime.LoadError, errors.Join(errs...), "unresolved bindings")
	}
	return out, nil
}

func checkEntry(decl bytecode.BindingDecl, entry *Entry) error {
	if decl.Kind == bytecode.BindProp {
		if !entry.IsProp() {
			return fmt.Errorf("%q is a callable, program reads it as a prop", decl.Name)
		}
		if decl.Writes && !entry.Settable() {
			return fmt.Errorf("prop %q is not settable", decl.Name)
		}
		return nil
	}
	if entry.IsProp() {
		return fmt.Errorf("%q is a prop, program calls it", decl.Name)
	}
	sig := entry.Signature
	var errs []error
	for _, shape := range decl.Shapes {
		if n := bytecode.ShapeArity(shape); !sig.acceptsArity(n) {
			want := fmt.Sprintf("%d", sig.Arity)
			if sig.Variadic {
				want = "at least " + want
			}
			errs = append(errs, fmt.Errorf("callable %q expects %s arguments, call %q passes %d", decl.Name, want, shape, n))
			continue
		}
		if len(sig.Syntax) > 0 {
			if !slices.Contains(sig.Syntax, shape) {
				errs = append(errs, fmt.Errorf("callable %q does not accept syntax %q", decl.Name, shape))
			}
		} else if bytecode.ShapeWords(shape) {
			errs = append(errs, fmt.Errorf("callable %q does not accept words in %q", decl.Name, shape))
		}
	}
	return errors.Join(errs...)
}
