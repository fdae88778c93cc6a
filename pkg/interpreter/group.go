package interpreter

import (
	"github.com/rs/zerolog"

	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/runtime"
)

// JoinPolicy decides when a group is resolved.
type JoinPolicy int

const (
	// WaitForAll completes when every branch completes, with the branch
	// values in declared order.
	WaitForAll JoinPolicy = iota
	// WaitForFirst completes with the value of the first branch to complete.
	WaitForFirst
)

func (p JoinPolicy) String() string {
	if p == WaitForFirst {
		return "wait-for-first"
	}
	return "wait-for-all"
}

// Group interleaves its member frames cooperatively: each Round steps every
// still-active frame exactly once, in declared order. A fault in any branch
// faults the group under either policy; once the group is resolved the
// remaining branches are cancelled and report Cancelled in the same round.
type Group struct {
	name   string
	policy JoinPolicy
	frames []*Frame
	last   []StepResult
	rounds int
	done   bool
	result StepResult
	logger zerolog.Logger
}

// NewGroup builds a group over frames.
func NewGroup(name string, policy JoinPolicy, frames []*Frame, logger zerolog.Logger) *Group {
	return &Group{
		name:   name,
		policy: policy,
		frames: frames,
		last:   make([]StepResult, len(frames)),
		logger: logger,
	}
}

func (g *Group) Name() string         { return g.name }
func (g *Group) Policy() JoinPolicy   { return g.policy }
func (g *Group) Frames() []*Frame     { return g.frames }
func (g *Group) Rounds() int          { return g.rounds }
func (g *Group) Done() bool           { return g.done }
func (g *Group) Result() StepResult   { return g.result }
func (g *Group) Results() []StepResult { return append([]StepResult(nil), g.last...) }

// Round performs one scheduling round and reports whether the group is
// resolved. Once resolved, further calls return the same result.
func (g *Group) Round() (StepResult, bool) {
	if g.done {
		return g.result, true
	}
	g.rounds++
	var (
		resolved bool
		outcome  StepResult
	)
	for i, fr := range g.frames {
		if fr.Done() {
			continue
		}
		r := fr.Step()
		g.last[i] = r
		if resolved {
			continue
		}
		switch r.Kind {
		case Faulted:
			resolved, outcome = true, r
			g.cancelOthers(i)
		case Completed:
			if g.policy == WaitForFirst {
				resolved, outcome = true, StepResult{Kind: Completed, Value: r.Value}
				g.cancelOthers(i)
			}
		}
	}
	if resolved {
		g.sweep()
		g.resolve(outcome)
		return g.result, true
	}
	for _, fr := range g.frames {
		if !fr.Done() {
			return suspendedResult, false
		}
	}
	// Every branch ended without resolving the group: under wait-for-all that
	// means all completed (this also covers the empty group).
	if g.policy == WaitForFirst {
		g.resolve(StepResult{Kind: Completed, Value: runtime.Void})
		return g.result, true
	}
	values := make([]runtime.Value, len(g.frames))
	for i, fr := range g.frames {
		values[i] = fr.result.Value
	}
	g.resolve(StepResult{Kind: Completed, Value: runtime.ListValue{Elements: values}})
	return g.result, true
}

// Cancel cancels every active branch and resolves the group as Cancelled.
func (g *Group) Cancel() {
	if g.done {
		return
	}
	for _, fr := range g.frames {
		fr.Cancel()
	}
	g.sweep()
	g.resolve(StepResult{Kind: Cancelled, Err: runtime.NewError(runtime.CancelledError, "group %s cancelled", g.name)})
}

func (g *Group) cancelOthers(winner int) {
	for i, fr := range g.frames {
		if i != winner {
			fr.Cancel()
		}
	}
}

// sweep steps cancelled branches that have not observed their flag yet, so
// they end as Cancelled within the current round.
func (g *Group) sweep() {
	for i, fr := range g.frames {
		if !fr.Done() && fr.CancelPending() {
			g.last[i] = fr.Step()
		}
	}
}

func (g *Group) resolve(r StepResult) {
	g.done = true
	g.result = r
	g.logger.Debug().
		Str("group", g.name).
		Str("policy", g.policy.String()).
		Int("rounds", g.rounds).
		Str("result", r.String()).
		Msg("group resolved")
}

//-----------------------------------------------------------------------------
// Frame integration
//-----------------------------------------------------------------------------

// Group returns the in-flight group of a root frame, if any.
func (f *Frame) Group() *Group { return f.group }

func (f *Frame) startGroup(ins bytecode.Instruction) StepResult {
	prog := f.exe.prog
	r := prog.Routines[ins.Arg]
	if limit := f.exe.limits.MaxGroupDepth; limit > 0 && f.depth+1 > limit {
		return f.faultf(runtime.LimitError, "group nesting exceeds %d starting %s", limit, r.Name)
	}
	args := f.popN(ins.Count)
	frames := make([]*Frame, len(r.Branches))
	for i, entry := range r.Branches {
		locals := make([]runtime.Value, len(prog.Names))
		for j, param := range r.Params {
			locals[param] = args[j]
		}
		frames[i] = newFrame(f.exe, entry, locals, f.depth+1)
	}
	policy := WaitForAll
	if r.Kind == bytecode.RoutineRace {
		policy = WaitForFirst
	}
	f.group = NewGroup(r.Name, policy, frames, f.exe.logger)
	f.exe.logger.Debug().Str("group", r.Name).Int("branches", len(frames)).Int("depth", f.depth+1).Msg("group started")

	if f.depth == 0 {
		return f.driveGroup()
	}
	// Member frames resolve sub-groups completely within one step.
	for {
		if res := f.driveGroup(); res.Kind != Suspended {
			return res
		}
	}
}

// driveGroup runs one round of the in-flight group.
func (f *Frame) driveGroup() StepResult {
	g := f.group
	res, done := g.Round()
	if !done {
		if limit := f.exe.limits.MaxGroupRounds; limit > 0 && g.Rounds() >= limit {
			g.Cancel()
			f.group = nil
			return f.faultf(runtime.LimitError, "group %s exceeded %d rounds", g.Name(), limit)
		}
		return suspendedResult
	}
	f.group = nil
	switch res.Kind {
	case Completed:
		f.push(res.Value)
		return f.next()
	case Faulted:
		return f.fault(runtime.WrapError(res.Err.Kind, res.Err, "group %s", g.Name()).At(f.ip))
	default:
		return f.observeCancel()
	}
}
