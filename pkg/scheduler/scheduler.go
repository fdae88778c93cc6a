// Package scheduler lets a host run many programs side by side, one step or
// one tick at a time, addressing each by an opaque handle id.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai/interpreter-go/pkg/binding"
	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/interpreter"
	"ai/interpreter-go/pkg/runtime"
)

// ErrUnknownHandle is returned for ids that were never started or were
// already released.
var ErrUnknownHandle = errors.New("scheduler: unknown handle")

const (
	// DefaultTickBudget bounds how many instructions one Tick may execute.
	DefaultTickBudget = 1000
	// DefaultInterval is the Run tick interval used when none is given.
	DefaultInterval = 10 * time.Millisecond
)

// Stats counts the work done on one handle.
type Stats struct {
	Steps       uint64
	Ticks       uint64
	Suspensions uint64
}

// Handle is one running program.
type Handle struct {
	id      string
	name    string
	created time.Time

	mu     sync.Mutex
	frame  *interpreter.Frame
	stats  Stats
	failed *interpreter.StepResult

	cancel atomic.Bool
}

// ID returns the handle id.
func (h *Handle) ID() string { return h.id }

// Name is the program source name, if the program recorded one.
func (h *Handle) Name() string { return h.name }

// Created returns the time the handle was started.
func (h *Handle) Created() time.Time { return h.created }

// Stats returns a snapshot of the handle counters.
func (h *Handle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Result returns the terminal result once the program has finished.
func (h *Handle) Result() (interpreter.StepResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed != nil {
		return *h.failed, true
	}
	return h.frame.Result()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger routes lifecycle events to logger. Programs started afterwards
// also trace through it.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithLimits applies limits to every program started.
func WithLimits(limits interpreter.Limits) Option {
	return func(s *Scheduler) { s.limits = limits }
}

// WithTickBudget sets the per-tick instruction budget.
func WithTickBudget(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.budget = n
		}
	}
}

// Scheduler is a registry of running programs. Its methods may be called
// from any goroutine; calls on the same handle are serialized.
type Scheduler struct {
	mu      sync.RWMutex
	handles map[string]*Handle

	logger zerolog.Logger
	limits interpreter.Limits
	budget int

	// step is swapped out by tests.
	step func(*interpreter.Frame) interpreter.StepResult
}

// New returns an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		handles: make(map[string]*Handle),
		logger:  zerolog.Nop(),
		limits:  interpreter.DefaultLimits(),
		budget:  DefaultTickBudget,
		step:    (*interpreter.Frame).Step,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads prog against table and registers a new root frame for it.
func (s *Scheduler) Start(prog *bytecode.Program, table *binding.Table) (*Handle, error) {
	exe, err := interpreter.Load(prog, table,
		interpreter.WithLogger(s.logger),
		interpreter.WithLimits(s.limits),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: start: %w", err)
	}
	h := &Handle{
		id:      uuid.NewString(),
		name:    prog.Meta.Source,
		created: time.Now(),
		frame:   exe.Start(),
	}
	s.mu.Lock()
	s.handles[h.id] = h
	s.mu.Unlock()
	s.logger.Debug().Str("handle", h.id).Str("program", h.name).Msg("handle started")
	return h, nil
}

// Get returns the handle registered under id.
func (s *Scheduler) Get(id string) (*Handle, error) {
	s.mu.RLock()
	h, ok := s.handles[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownHandle, id)
	}
	return h, nil
}

// Handles returns every registered handle ordered by start time.
func (s *Scheduler) Handles() []*Handle {
	s.mu.RLock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].created.Equal(out[j].created) {
			return out[i].id < out[j].id
		}
		return out[i].created.Before(out[j].created)
	})
	return out
}

// Step executes at most one instruction of the program behind id.
func (s *Scheduler) Step(id string) (interpreter.StepResult, error) {
	h, err := s.Get(id)
	if err != nil {
		return interpreter.StepResult{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return s.stepLocked(h), nil
}

// Tick steps the program until it suspends, finishes, or uses up the tick
// budget, and returns the last result.
func (s *Scheduler) Tick(id string) (interpreter.StepResult, error) {
	h, err := s.Get(id)
	if err != nil {
		return interpreter.StepResult{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return s.tickLocked(h), nil
}

// Cancel requests cancellation. The program observes it at its next step.
func (s *Scheduler) Cancel(id string) error {
	h, err := s.Get(id)
	if err != nil {
		return err
	}
	h.cancel.Store(true)
	s.logger.Debug().Str("handle", id).Msg("cancel requested")
	return nil
}

// Run ticks the program every interval until it finishes. When ctx ends
// first, the program is cancelled and Run returns its Cancelled result
// together with ctx.Err().
func (s *Scheduler) Run(ctx context.Context, id string, interval time.Duration) (interpreter.StepResult, error) {
	h, err := s.Get(id)
	if err != nil {
		return interpreter.StepResult{}, err
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		h.mu.Lock()
		res := s.tickLocked(h)
		h.mu.Unlock()
		if res.Kind.Terminal() {
			return res, nil
		}
		select {
		case <-ctx.Done():
			h.cancel.Store(true)
			h.mu.Lock()
			res = s.stepLocked(h)
			h.mu.Unlock()
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release forgets a handle. A running program is cancelled first so its
// in-flight tasks are stopped.
func (s *Scheduler) Release(id string) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownHandle, id)
	}
	h.mu.Lock()
	if h.failed == nil && !h.frame.Done() {
		h.cancel.Store(true)
		s.stepLocked(h)
	}
	h.mu.Unlock()
	s.logger.Debug().Str("handle", id).Msg("handle released")
	return nil
}

func (s *Scheduler) tickLocked(h *Handle) interpreter.StepResult {
	h.stats.Ticks++
	var res interpreter.StepResult
	for i := 0; i < s.budget; i++ {
		res = s.stepLocked(h)
		if res.Kind != interpreter.Continue {
			break
		}
	}
	return res
}

func (s *Scheduler) stepLocked(h *Handle) interpreter.StepResult {
	if h.failed != nil {
		err := runtime.NewError(runtime.InvalidState, "handle already %s", h.failed.Kind)
		return interpreter.StepResult{Kind: interpreter.Faulted, Err: err}
	}
	if h.cancel.Load() {
		h.frame.Cancel()
	}
	wasDone := h.frame.Done()
	res := s.safeStep(h)
	if !wasDone {
		h.stats.Steps++
	}
	switch {
	case res.Kind == interpreter.Suspended:
		h.stats.Suspensions++
	case res.Kind.Terminal() && !wasDone:
		ev := s.logger.Debug().Str("handle", h.id).Str("result", res.Kind.String()).Uint64("steps", h.stats.Steps)
		if res.Err != nil {
			ev = ev.Str("error", res.Err.Error())
		}
		ev.Msg("handle finished")
	}
	return res
}

// safeStep turns a panic escaping the interpreter into a permanent fault on
// the handle.
func (s *Scheduler) safeStep(h *Handle) (res interpreter.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			err := runtime.NewError(runtime.EnvironmentError, "panic: %v", r).At(h.frame.IP())
			failed := interpreter.StepResult{Kind: interpreter.Faulted, Err: err}
			h.failed = &failed
			res = failed
			s.logger.Error().Str("handle", h.id).Interface("panic", r).Msg("step panicked")
		}
	}()
	return s.step(h.frame)
}
