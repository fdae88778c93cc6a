package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai/interpreter-go/pkg/binding"
	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/compiler"
	"ai/interpreter-go/pkg/interpreter"
	"ai/interpreter-go/pkg/runtime"
)

func compile(t *testing.T, source string) *bytecode.Program {
	t.Helper()
	prog, err := compiler.CompileSource(source, compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	return prog
}

func TestTickRunsUntilYield(t *testing.T) {
	s := New()
	h, err := s.Start(compile(t, "$a = 1; yield; $a = $a + 1; yield; return $a;"), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var kinds []interpreter.StepKind
	for i := 0; i < 5; i++ {
		res, err := s.Tick(h.ID())
		if err != nil {
			t.Fatalf("Tick: %v", err)
		}
		kinds = append(kinds, res.Kind)
		if res.Kind.Terminal() {
			break
		}
	}
	want := []interpreter.StepKind{interpreter.Suspended, interpreter.Suspended, interpreter.Completed}
	if len(kinds) != len(want) {
		t.Fatalf("tick kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("tick kinds = %v, want %v", kinds, want)
		}
	}
	res, done := h.Result()
	if !done || !runtime.Equal(res.Value, runtime.IntegerValue{Val: 2}) {
		t.Fatalf("Result = %v, %v, want completed(2)", res, done)
	}
	stats := h.Stats()
	if stats.Ticks != 3 || stats.Suspensions != 2 || stats.Steps == 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestTickBudgetBoundsWork(t *testing.T) {
	s := New(WithTickBudget(5))
	prog, err := compiler.CompileSource("while true { $x = 1; }", compiler.Options{})
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	h, err := s.Start(prog, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, _ := s.Tick(h.ID())
	if res.Kind != interpreter.Continue {
		t.Fatalf("Tick = %v, want continue after budget", res)
	}
	if got := h.Stats().Steps; got != 5 {
		t.Fatalf("steps = %d, want 5", got)
	}
}

func TestCancelIsObservedAtNextStep(t *testing.T) {
	var calls int
	table := binding.NewTable()
	if err := table.RegisterFunc("ping", func([]runtime.Value) (runtime.Value, error) {
		calls++
		return nil, nil
	}, binding.Signature{}); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	s := New()
	h, err := s.Start(compile(t, "ping; yield; ping;"), table)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res, _ := s.Tick(h.ID()); res.Kind != interpreter.Suspended {
		t.Fatalf("Tick = %v, want suspended", res)
	}
	if err := s.Cancel(h.ID()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	res, _ := s.Step(h.ID())
	if res.Kind != interpreter.Cancelled || !errors.Is(res.Err, runtime.ErrCancelled) {
		t.Fatalf("Step after Cancel = %v, want cancelled", res)
	}
	if calls != 1 {
		t.Fatalf("ping called %d times, want 1", calls)
	}
}

func TestRunCompletesOnTicker(t *testing.T) {
	s := New()
	h, err := s.Start(compile(t, "yield; yield; return 'ok';"), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := s.Run(context.Background(), h.ID(), time.Millisecond)
	if err != nil || res.Kind != interpreter.Completed {
		t.Fatalf("Run = %v, %v, want completed", res, err)
	}
}

func TestRunCancelsWhenContextEnds(t *testing.T) {
	s := New()
	h, err := s.Start(compile(t, "while true { yield; }"), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := s.Run(ctx, h.ID(), time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) || res.Kind != interpreter.Cancelled {
		t.Fatalf("Run = %v, %v, want cancelled with deadline error", res, err)
	}
}

func TestReleaseForgetsHandle(t *testing.T) {
	s := New()
	a, err := s.Start(compile(t, "yield;"), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	b, err := s.Start(compile(t, "yield;"), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.ID() == b.ID() {
		t.Fatalf("handles share id %s", a.ID())
	}
	if got := len(s.Handles()); got != 2 {
		t.Fatalf("Handles = %d, want 2", got)
	}
	if err := s.Release(a.ID()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if res, done := a.Result(); !done || res.Kind != interpreter.Cancelled {
		t.Fatalf("released handle = %v, %v, want cancelled", res, done)
	}
	if _, err := s.Step(a.ID()); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("Step on released handle error = %v", err)
	}
	if err := s.Release(a.ID()); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("second Release error = %v", err)
	}
	if hs := s.Handles(); len(hs) != 1 || hs[0].ID() != b.ID() {
		t.Fatalf("Handles after release = %v", hs)
	}
}

func TestStartReportsLoadErrors(t *testing.T) {
	s := New()
	_, err := s.Start(compile(t, "drive 1;"), binding.NewTable())
	if !errors.Is(err, runtime.ErrLoad) {
		t.Fatalf("Start error = %v, want LoadError", err)
	}
	if len(s.Handles()) != 0 {
		t.Fatalf("failed start registered a handle")
	}
}

func TestPanicBecomesEnvironmentFault(t *testing.T) {
	s := New()
	s.step = func(*interpreter.Frame) interpreter.StepResult { panic("boom") }
	h, err := s.Start(compile(t, "return 1;"), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, _ := s.Step(h.ID())
	if res.Kind != interpreter.Faulted || !errors.Is(res.Err, runtime.ErrEnvironment) {
		t.Fatalf("Step = %v, want EnvironmentError fault", res)
	}
	again, _ := s.Step(h.ID())
	if !errors.Is(again.Err, runtime.ErrInvalidState) {
		t.Fatalf("Step after panic = %v, want InvalidState", again)
	}
	if final, done := h.Result(); !done || !errors.Is(final.Err, runtime.ErrEnvironment) {
		t.Fatalf("Result = %v, %v", final, done)
	}
}
