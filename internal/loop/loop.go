// File: internal/loop/loop.go

// Package loop runs the bounded observe-decide-act cycle for one task. The
// loop never trusts itself to converge: a step budget, a consecutive-failure
// ceiling and an oscillation detector each force termination, and their
// precedence is fixed so the same run always ends for the same reason.
package loop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
	"github.com/skua-labs/deskpilot/internal/resolver"
	"github.com/skua-labs/deskpilot/internal/safety"
)

// State is the terminal state of a task run.
type State string

const (
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateHandedOff State = "HANDED_OFF"
)

// Action names what a directive wants done at its target.
type Action string

const (
	ActionClick  Action = "click"
	ActionType   Action = "type"
	ActionScroll Action = "scroll"
)

// Directive is one decision: either an action to perform or Done with a
// summary.
type Directive struct {
	Target   string
	Action   Action
	Text     string
	ScrollDX int
	ScrollDY int
	Done     bool
	Summary  string
}

// Observation is what a decider sees before each step.
type Observation struct {
	Task         string
	Step         int
	FrontmostApp string
	RunningApps  []string
	History      []StepRecord
}

// Decider chooses the next directive. Implementations range from scripted
// sequences to planning models; the loop treats them identically.
type Decider interface {
	NextDirective(ctx context.Context, obs Observation) (Directive, error)
}

// StepRecord is the audit trail of one executed step.
type StepRecord struct {
	Index     int
	Target    string
	Action    Action
	Tier      resolver.Tier
	Succeeded bool
	Detail    string
	At        time.Time
}

// Result is the outcome of a completed run.
type Result struct {
	State   State
	Reason  string
	Summary string
	Steps   []StepRecord
}

// Observer supplies the desktop state for observations.
type Observer interface {
	Observe(ctx context.Context) (frontmost string, running []string)
}

// TargetResolver narrows resolver.Resolver for the loop.
type TargetResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (resolver.Outcome, error)
}

// CoordinateGate validates a coordinate immediately before dispatch.
type CoordinateGate interface {
	Validate(x, y int) safety.Verdict
}

// Actor performs validated input actions.
type Actor interface {
	Click(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string) error
	Scroll(ctx context.Context, dx, dy int) error
}

// NativeInvoker activates an element through the platform's own invoke verb
// instead of synthetic pointer input. Optional; not every platform has one.
type NativeInvoker interface {
	CanInvoke() bool
	InvokeDefaultAction(ctx context.Context, app, title string) (bool, error)
}

// Loop executes one task to termination.
type Loop struct {
	cfg      config.LoopConfig
	logger   *zap.Logger
	decider  Decider
	resolver TargetResolver
	gate     CoordinateGate
	actor    Actor
	observer Observer
	frames   FrameFunc

	invoker NativeInvoker
	app     string
}

// FrameFunc returns the current screen frame wrapped in a resolution
// request for the given target.
type FrameFunc func(ctx context.Context, target string) (resolver.Request, error)

func New(
	cfg config.LoopConfig,
	decider Decider,
	res TargetResolver,
	gate CoordinateGate,
	actor Actor,
	observer Observer,
	frames FrameFunc,
	logger *zap.Logger,
) *Loop {
	return &Loop{
		cfg:      cfg,
		logger:   logger.Named("loop"),
		decider:  decider,
		resolver: res,
		gate:     gate,
		actor:    actor,
		observer: observer,
		frames:   frames,
	}
}

// SetNativeInvoker enables the native invoke-path for clicks: when the
// accessibility tier resolved the target and the platform can activate
// elements directly, that beats synthesizing pointer input at a coordinate.
func (l *Loop) SetNativeInvoker(inv NativeInvoker, app string) {
	l.invoker = inv
	l.app = app
}

const (
	reasonCancelled   = "cancelled"
	reasonBudget      = "step budget exhausted"
	reasonStuck       = "stuck after repeated failures"
	reasonOscillating = "oscillating between two targets"
)

// Run executes the task until a terminal state is reached. Termination
// checks apply in fixed precedence: an explicit Done wins, then the step
// budget, then the failure ceiling, then oscillation. Cancellation is only
// honored between iterations so a dispatched action is never half-done.
func (l *Loop) Run(ctx context.Context, task string) (*Result, error) {
	var (
		steps       []StepRecord
		consecFails int
		stepTargets []string
	)

	for {
		if err := ctx.Err(); err != nil {
			return l.finish(task, StateFailed, reasonCancelled, "", steps), nil
		}

		directive, err := l.nextDirective(ctx, task, steps)
		if err != nil {
			return l.finish(task, StateFailed, fmt.Sprintf("decider: %v", err), "", steps), nil
		}

		if directive.Done {
			return l.finish(task, StateSucceeded, "task reported complete", directive.Summary, steps), nil
		}

		if len(steps) >= l.cfg.StepBudget {
			return l.finish(task, StateFailed, reasonBudget, "", steps), nil
		}

		record := l.executeStep(ctx, len(steps), directive)
		steps = append(steps, record)
		stepTargets = append(stepTargets, directive.Target)

		if record.Succeeded {
			consecFails = 0
		} else {
			consecFails++
		}

		if consecFails >= l.cfg.FailureCeiling {
			return l.finish(task, StateHandedOff, reasonStuck, "", steps), nil
		}
		if oscillating(stepTargets, l.cfg.OscillationWindow) {
			return l.finish(task, StateHandedOff, reasonOscillating, "", steps), nil
		}

		if l.cfg.PostActionDelay > 0 {
			timer := time.NewTimer(l.cfg.PostActionDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

func (l *Loop) nextDirective(ctx context.Context, task string, steps []StepRecord) (Directive, error) {
	frontmost, running := "", []string(nil)
	if l.observer != nil {
		frontmost, running = l.observer.Observe(ctx)
	}
	return l.decider.NextDirective(ctx, Observation{
		Task:         task,
		Step:         len(steps),
		FrontmostApp: frontmost,
		RunningApps:  running,
		History:      steps,
	})
}

// executeStep performs one directive. Resolution misses, safety rejections
// and action errors all count as one failed step; nothing here terminates
// the loop directly.
func (l *Loop) executeStep(ctx context.Context, index int, d Directive) StepRecord {
	record := StepRecord{Index: index, Target: d.Target, Action: d.Action, At: time.Now()}

	switch d.Action {
	case ActionScroll:
		if err := l.actor.Scroll(ctx, d.ScrollDX, d.ScrollDY); err != nil {
			record.Detail = fmt.Sprintf("scroll: %v", err)
			return record
		}
		record.Succeeded = true
		return record

	case ActionType:
		if d.Target != "" {
			if !l.clickTarget(ctx, d.Target, &record) {
				return record
			}
		}
		if err := l.actor.TypeText(ctx, d.Text); err != nil {
			record.Detail = fmt.Sprintf("type: %v", err)
			record.Succeeded = false
			return record
		}
		record.Succeeded = true
		return record

	case ActionClick:
		record.Succeeded = l.clickTarget(ctx, d.Target, &record)
		return record

	default:
		record.Detail = fmt.Sprintf("unknown action %q", d.Action)
		return record
	}
}

// clickTarget resolves, validates and clicks. Updates the record in place
// and reports success.
func (l *Loop) clickTarget(ctx context.Context, target string, record *StepRecord) bool {
	req, err := l.frames(ctx, target)
	if err != nil {
		record.Detail = fmt.Sprintf("capture: %v", err)
		return false
	}

	outcome, err := l.resolver.Resolve(ctx, req)
	if err != nil {
		record.Detail = fmt.Sprintf("resolve: %v", err)
		return false
	}
	if !outcome.Found() {
		record.Detail = outcome.Reason
		return false
	}

	c := outcome.Resolved
	record.Tier = c.Tier

	if verdict := l.gate.Validate(c.Point.X, c.Point.Y); !verdict.Allowed {
		record.Detail = fmt.Sprintf("safety: %s (%s)", verdict.Violation, verdict.Detail)
		return false
	}

	if c.Tier == resolver.TierNative && l.invoker != nil && l.invoker.CanInvoke() {
		if ok, err := l.invoker.InvokeDefaultAction(ctx, l.app, target); err == nil && ok {
			record.Detail = "invoke:" + c.MethodDetail
			record.Succeeded = true
			return true
		}
		// Invoke misses fall back to the synthetic click path below.
	}

	if err := l.actor.Click(ctx, c.Point.X, c.Point.Y); err != nil {
		record.Detail = fmt.Sprintf("click: %v", err)
		return false
	}

	record.Detail = c.MethodDetail
	record.Succeeded = true
	return true
}

// oscillating detects a strict two-target ping-pong: the last window targets
// alternate A,B,A,B with exactly two distinct values.
func oscillating(targets []string, window int) bool {
	if window < 4 || len(targets) < window {
		return false
	}
	tail := targets[len(targets)-window:]

	a, b := tail[0], tail[1]
	if a == b {
		return false
	}
	for i, t := range tail {
		want := a
		if i%2 == 1 {
			want = b
		}
		if t != want {
			return false
		}
	}
	return true
}

func (l *Loop) finish(task string, state State, reason, summary string, steps []StepRecord) *Result {
	l.logger.Info("Task run finished",
		zap.String("task", task),
		zap.String("state", string(state)),
		zap.String("reason", reason),
		zap.Int("steps", len(steps)),
	)
	return &Result{State: state, Reason: reason, Summary: summary, Steps: steps}
}
