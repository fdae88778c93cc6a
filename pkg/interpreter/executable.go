// Package interpreter executes compiled programs one instruction at a time.
//
// A Frame is stepped by its owner; every Step executes at most one
// instruction and reports Continue, Suspended, Completed, Faulted or
// Cancelled. Parallel and race groups run their branches as member frames
// under a Group, stepped round-robin.
package interpreter

import (
	"github.com/rs/zerolog"

	"ai/interpreter-go/pkg/binding"
	"ai/interpreter-go/pkg/bytecode"
)

// Limits bounds the resources one frame tree may use. Zero disables a limit.
type Limits struct {
	MaxStack       int
	MaxCallDepth   int
	MaxGroupDepth  int
	MaxGroupRounds int
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxStack:       4096,
		MaxCallDepth:   256,
		MaxGroupDepth:  32,
		MaxGroupRounds: 1_000_000,
	}
}

type config struct {
	logger zerolog.Logger
	limits Limits
}

// Option configures Load.
type Option func(*config)

// WithLogger routes instruction traces and group events to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithLimits overrides DefaultLimits.
func WithLimits(limits Limits) Option {
	return func(c *config) { c.limits = limits }
}

// Executable is a validated program bound to a host environment. It is
// immutable and may start any number of frames.
type Executable struct {
	prog   *bytecode.Program
	slots  *binding.Resolved
	logger zerolog.Logger
	limits Limits
}

// Load validates prog and resolves its bindings against table. Any failure
// is a LoadError and no frame can be created.
func Load(prog *bytecode.Program, table *binding.Table, opts ...Option) (*Executable, error) {
	cfg := config{logger: zerolog.Nop(), limits: DefaultLimits()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := prog.Validate(); err != nil {
		return nil, err
	}
	slots, err := binding.Resolve(prog, table)
	if err != nil {
		return nil, err
	}
	return &Executable{prog: prog, slots: slots, logger: cfg.logger, limits: cfg.limits}, nil
}

// Program returns the loaded program.
func (e *Executable) Program() *bytecode.Program { return e.prog }

// Limits returns the configured limits.
func (e *Executable) Limits() Limits { return e.limits }

// Start creates a root frame at the program entry.
func (e *Executable) Start() *Frame {
	return newFrame(e, e.prog.Entry, nil, 0)
}
