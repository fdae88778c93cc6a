package driver

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai/interpreter-go/pkg/binding"
	"ai/interpreter-go/pkg/runtime"
)

var builtinNames = []string{"print", "wait"}

// Environment is a simulated host built from a manifest. Every effect is
// logged at Info; print also writes to the configured output.
type Environment struct {
	table  *binding.Table
	cells  map[string]*binding.Cell
	out    io.Writer
	logger zerolog.Logger
	tick   time.Duration

	mu    sync.Mutex
	calls []string
}

// NewEnvironment registers the builtins and every prop and callable the
// manifest declares.
func NewEnvironment(m *Manifest, out io.Writer, logger zerolog.Logger) (*Environment, error) {
	if m == nil {
		m = NewManifest("ai")
	}
	if out == nil {
		out = io.Discard
	}
	env := &Environment{
		table:  binding.NewTable(),
		cells:  make(map[string]*binding.Cell),
		out:    out,
		logger: logger,
		tick:   m.Tick,
	}
	if env.tick <= 0 {
		env.tick = DefaultTick
	}
	if err := env.registerBuiltins(); err != nil {
		return nil, err
	}
	for _, p := range m.Props {
		if err := env.registerProp(p); err != nil {
			return nil, err
		}
	}
	for _, c := range m.Callables {
		if err := env.registerCallable(c); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// Table is the binding table to load programs against.
func (e *Environment) Table() *binding.Table { return e.table }

// Prop returns the current value of a simulated prop.
func (e *Environment) Prop(name string) (runtime.Value, bool) {
	cell, ok := e.cells[name]
	if !ok {
		return nil, false
	}
	v, _ := cell.Get()
	return v, true
}

// Calls returns every callable invocation so far, formatted as
// "name arg...".
func (e *Environment) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *Environment) record(name string, args []runtime.Value) {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		parts = append(parts, runtime.Format(a))
	}
	line := strings.Join(parts, " ")
	e.mu.Lock()
	e.calls = append(e.calls, line)
	e.mu.Unlock()
	e.logger.Info().Str("callable", name).Int("args", len(args)).Msg(line)
}

func (e *Environment) registerBuiltins() error {
	err := e.table.RegisterFunc("print", func(args []runtime.Value) (runtime.Value, error) {
		e.record("print", args)
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = runtime.Format(a)
		}
		if _, err := fmt.Fprintln(e.out, strings.Join(parts, " ")); err != nil {
			return nil, err
		}
		return nil, nil
	}, binding.Signature{Variadic: true})
	if err != nil {
		return err
	}
	return e.table.RegisterTask("wait", binding.TaskFunc(func(args []runtime.Value) (binding.Task, error) {
		seconds, err := numeric(args[0])
		if err != nil {
			return nil, runtime.NewError(runtime.TypeError, "wait: %v", err)
		}
		if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return nil, runtime.NewError(runtime.TypeError, "wait: cannot wait %s seconds", runtime.Format(args[0]))
		}
		e.record("wait", args)
		ticks := int(math.Ceil(seconds * float64(time.Second) / float64(e.tick)))
		return &tickTask{left: ticks}, nil
	}), binding.Signature{Arity: 1})
}

func (e *Environment) registerProp(p *PropSpec) error {
	initial := p.Initial
	if initial == nil {
		initial = zeroValue(p.Kind)
	}
	cell := binding.NewCell(initial)
	e.cells[p.Name] = cell
	name := p.Name
	var prop binding.Prop = binding.PropFunc(cell.Get)
	if p.Settable {
		prop = binding.PropFuncs{
			GetFunc: cell.Get,
			SetFunc: func(v runtime.Value) error {
				if err := cell.Set(v); err != nil {
					return err
				}
				e.logger.Info().Str("prop", name).Str("value", runtime.Format(v)).Msg("prop set")
				return nil
			},
		}
	}
	return e.table.RegisterProp(p.Name, prop, p.Kind)
}

func (e *Environment) registerCallable(c *CallableSpec) error {
	sig := binding.Signature{
		Syntax:   c.Syntax,
		Arity:    c.Arity,
		Variadic: c.Variadic,
		Args:     c.Args,
		Returns:  c.Returns,
	}
	result := c.Result
	if result == nil {
		result = zeroValue(c.Returns)
	}
	name := c.Name
	if c.Ticks > 0 {
		ticks := c.Ticks
		return e.table.RegisterTask(name, binding.TaskFunc(func(args []runtime.Value) (binding.Task, error) {
			e.record(name, args)
			return &tickTask{left: ticks, result: result}, nil
		}), sig)
	}
	return e.table.RegisterFunc(name, func(args []runtime.Value) (runtime.Value, error) {
		e.record(name, args)
		return result, nil
	}, sig)
}

// tickTask completes on the poll after left polls have reported not done.
type tickTask struct {
	left    int
	result  runtime.Value
	stopped bool
}

func (t *tickTask) Poll() (runtime.Value, bool, error) {
	if t.stopped {
		return nil, false, runtime.NewError(runtime.InvalidState, "task polled after stop")
	}
	if t.left > 0 {
		t.left--
		return nil, false, nil
	}
	return t.result, true, nil
}

func (t *tickTask) Stop() { t.stopped = true }

func numeric(v runtime.Value) (float64, error) {
	switch val := v.(type) {
	case runtime.IntegerValue:
		return float64(val.Val), nil
	case runtime.FloatValue:
		return val.Val, nil
	}
	return 0, fmt.Errorf("expected a number, got %s", v.Kind())
}

func zeroValue(kind runtime.Kind) runtime.Value {
	switch kind {
	case runtime.KindBool:
		return runtime.BoolValue{}
	case runtime.KindInteger:
		return runtime.IntegerValue{}
	case runtime.KindFloat:
		return runtime.FloatValue{}
	case runtime.KindString:
		return runtime.StringValue{}
	case runtime.KindList:
		return runtime.NewList()
	}
	return runtime.Void
}
