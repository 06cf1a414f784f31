// File: internal/loop/loop_test.go
package loop

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
	"github.com/skua-labs/deskpilot/internal/resolver"
	"github.com/skua-labs/deskpilot/internal/safety"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedDecider replays a fixed directive sequence, repeating the final
// entry once the script runs out.
type scriptedDecider struct {
	script []Directive
	err    error
	calls  int
}

func (d *scriptedDecider) NextDirective(_ context.Context, obs Observation) (Directive, error) {
	d.calls++
	if d.err != nil {
		return Directive{}, d.err
	}
	i := d.calls - 1
	if i >= len(d.script) {
		i = len(d.script) - 1
	}
	return d.script[i], nil
}

// fakeResolver serves outcomes in order, repeating the last one.
type fakeResolver struct {
	outcomes []resolver.Outcome
	calls    int
}

func found(x, y int, tier resolver.Tier) resolver.Outcome {
	return resolver.Outcome{Resolved: &resolver.Candidate{
		Point: image.Point{X: x, Y: y}, Tier: tier, Confidence: 1.0,
	}}
}

func notFound() resolver.Outcome {
	return resolver.Outcome{Reason: "no tier produced an accepted candidate"}
}

func (f *fakeResolver) Resolve(context.Context, resolver.Request) (resolver.Outcome, error) {
	f.calls++
	i := f.calls - 1
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	return f.outcomes[i], nil
}

// fakeGate answers a scripted verdict sequence, defaulting to allow.
type fakeGate struct {
	verdicts []safety.Verdict
	calls    int
}

func (f *fakeGate) Validate(x, y int) safety.Verdict {
	f.calls++
	if f.calls-1 < len(f.verdicts) {
		return f.verdicts[f.calls-1]
	}
	return safety.Verdict{Allowed: true}
}

// fakeActor records actions.
type fakeActor struct {
	clicks   []image.Point
	typed    []string
	scrolls  int
	clickErr error
}

func (f *fakeActor) Click(_ context.Context, x, y int) error {
	f.clicks = append(f.clicks, image.Point{X: x, Y: y})
	return f.clickErr
}
func (f *fakeActor) TypeText(_ context.Context, text string) error {
	f.typed = append(f.typed, text)
	return nil
}
func (f *fakeActor) Scroll(context.Context, int, int) error {
	f.scrolls++
	return nil
}

func loopConfig() config.LoopConfig {
	return config.LoopConfig{
		StepBudget:        25,
		FailureCeiling:    2,
		OscillationWindow: 4,
	}
}

type fixture struct {
	decider  *scriptedDecider
	resolver *fakeResolver
	gate     *fakeGate
	actor    *fakeActor
	loop     *Loop
}

func newFixture(cfg config.LoopConfig, script []Directive, outcomes []resolver.Outcome) *fixture {
	f := &fixture{
		decider:  &scriptedDecider{script: script},
		resolver: &fakeResolver{outcomes: outcomes},
		gate:     &fakeGate{},
		actor:    &fakeActor{},
	}
	frames := func(ctx context.Context, target string) (resolver.Request, error) {
		return resolver.Request{App: "App", Target: target}, nil
	}
	f.loop = New(cfg, f.decider, f.resolver, f.gate, f.actor, nil, frames, zap.NewNop())
	return f
}

func click(target string) Directive { return Directive{Target: target, Action: ActionClick} }

func TestRunSucceedsOnDone(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{
		click("Save"),
		{Done: true, Summary: "saved the file"},
	}, []resolver.Outcome{found(120, 80, resolver.TierNative)})

	result, err := f.loop.Run(context.Background(), "save the file")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, "saved the file", result.Summary)
	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].Succeeded)
	assert.Equal(t, resolver.TierNative, result.Steps[0].Tier)
	assert.Equal(t, []image.Point{{X: 120, Y: 80}}, f.actor.clicks)
}

func TestRunStepBudgetExecutesExactlyBudgetSteps(t *testing.T) {
	cfg := loopConfig()
	cfg.StepBudget = 3

	f := newFixture(cfg, []Directive{click("Next")},
		[]resolver.Outcome{found(100, 100, resolver.TierVisual)})

	result, err := f.loop.Run(context.Background(), "page through")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, reasonBudget, result.Reason)
	assert.Len(t, result.Steps, 3, "exactly the budgeted number of steps must run")
	assert.Len(t, f.actor.clicks, 3)
}

func TestRunDoneBeatsExhaustedBudget(t *testing.T) {
	cfg := loopConfig()
	cfg.StepBudget = 1

	f := newFixture(cfg, []Directive{
		click("Save"),
		{Done: true, Summary: "done"},
	}, []resolver.Outcome{found(100, 100, resolver.TierNative)})

	result, err := f.loop.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.State, "an explicit Done outranks the budget check")
}

func TestRunHandsOffAfterConsecutiveFailures(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{click("Ghost")},
		[]resolver.Outcome{notFound()})

	result, err := f.loop.Run(context.Background(), "click a ghost")
	require.NoError(t, err)

	assert.Equal(t, StateHandedOff, result.State)
	assert.Equal(t, reasonStuck, result.Reason)
	require.Len(t, result.Steps, 2, "the ceiling is two consecutive failures")
	assert.False(t, result.Steps[0].Succeeded)
	assert.False(t, result.Steps[1].Succeeded)
	assert.Empty(t, f.actor.clicks)
}

func TestRunFailureCounterResetsOnSuccess(t *testing.T) {
	cfg := loopConfig()
	cfg.StepBudget = 6

	f := newFixture(cfg, []Directive{click("Flaky")}, []resolver.Outcome{
		notFound(),
		found(100, 100, resolver.TierVisual),
		notFound(),
		found(100, 100, resolver.TierVisual),
		notFound(),
		found(100, 100, resolver.TierVisual),
	})

	result, err := f.loop.Run(context.Background(), "flaky target")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, result.State, "alternating failures never reach the ceiling")
	assert.Equal(t, reasonBudget, result.Reason)
	assert.Len(t, result.Steps, 6)
}

func TestRunSafetyRejectionIsOneFailedStep(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{click("Edge")},
		[]resolver.Outcome{found(2, 2, resolver.TierVisual)})
	f.gate.verdicts = []safety.Verdict{
		{Violation: safety.ViolationProtectedRegion, Detail: "edge margin"},
		{Violation: safety.ViolationProtectedRegion, Detail: "edge margin"},
	}

	result, err := f.loop.Run(context.Background(), "edge click")
	require.NoError(t, err)

	assert.Equal(t, StateHandedOff, result.State)
	require.Len(t, result.Steps, 2)
	assert.Contains(t, result.Steps[0].Detail, "PROTECTED_REGION")
	assert.Empty(t, f.actor.clicks, "rejected coordinates must never be clicked")
}

func TestRunOscillationDetection(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{
		click("A"), click("B"), click("A"), click("B"),
	}, []resolver.Outcome{found(100, 100, resolver.TierNative)})

	result, err := f.loop.Run(context.Background(), "ping pong")
	require.NoError(t, err)

	assert.Equal(t, StateHandedOff, result.State)
	assert.Equal(t, reasonOscillating, result.Reason)
	assert.Len(t, result.Steps, 4)
}

func TestRunNoOscillationForRepeats(t *testing.T) {
	cfg := loopConfig()
	cfg.StepBudget = 4

	f := newFixture(cfg, []Directive{
		click("A"), click("A"), click("B"), click("B"),
	}, []resolver.Outcome{found(100, 100, resolver.TierNative)})

	result, err := f.loop.Run(context.Background(), "slow progress")
	require.NoError(t, err)
	assert.Equal(t, reasonBudget, result.Reason, "A,A,B,B is not oscillation")
}

func TestRunNoOscillationForThreeTargets(t *testing.T) {
	cfg := loopConfig()
	cfg.StepBudget = 4

	f := newFixture(cfg, []Directive{
		click("A"), click("B"), click("A"), click("C"),
	}, []resolver.Outcome{found(100, 100, resolver.TierNative)})

	result, err := f.loop.Run(context.Background(), "wandering")
	require.NoError(t, err)
	assert.Equal(t, reasonBudget, result.Reason, "A,B,A,C is not oscillation")
}

func TestRunCancellationBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	f := newFixture(loopConfig(), []Directive{click("Save")},
		[]resolver.Outcome{found(100, 100, resolver.TierNative)})
	// Cancel once the first directive has been produced.
	f.decider.script = []Directive{click("Save")}
	decider := f.decider
	f.loop.decider = deciderFunc(func(c context.Context, obs Observation) (Directive, error) {
		d, err := decider.NextDirective(c, obs)
		cancel()
		return d, err
	})

	result, err := f.loop.Run(ctx, "task")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, reasonCancelled, result.Reason)
	assert.Len(t, result.Steps, 1, "the in-flight step completes before cancellation applies")
}

type deciderFunc func(ctx context.Context, obs Observation) (Directive, error)

func (f deciderFunc) NextDirective(ctx context.Context, obs Observation) (Directive, error) {
	return f(ctx, obs)
}

func TestRunDeciderErrorFails(t *testing.T) {
	f := newFixture(loopConfig(), nil, []resolver.Outcome{notFound()})
	f.decider.err = errors.New("planner offline")

	result, err := f.loop.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Reason, "planner offline")
}

func TestRunTypeDirectiveWithoutTarget(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{
		{Action: ActionType, Text: "hello"},
		{Done: true},
	}, []resolver.Outcome{notFound()})

	result, err := f.loop.Run(context.Background(), "type")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, []string{"hello"}, f.actor.typed)
	assert.Zero(t, f.resolver.calls, "typing into the focused element needs no resolution")
}

func TestRunTypeDirectiveWithTargetClicksFirst(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{
		{Action: ActionType, Target: "Name field", Text: "alice"},
		{Done: true},
	}, []resolver.Outcome{found(320, 240, resolver.TierNative)})

	result, err := f.loop.Run(context.Background(), "fill form")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, []image.Point{{X: 320, Y: 240}}, f.actor.clicks)
	assert.Equal(t, []string{"alice"}, f.actor.typed)
}

// fakeInvoker is a scriptable NativeInvoker.
type fakeInvoker struct {
	can    bool
	ok     bool
	err    error
	titles []string
}

func (f *fakeInvoker) CanInvoke() bool { return f.can }
func (f *fakeInvoker) InvokeDefaultAction(_ context.Context, _, title string) (bool, error) {
	f.titles = append(f.titles, title)
	return f.ok, f.err
}

func TestRunNativeInvokePreferredForNativeHits(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{
		click("Save"),
		{Done: true},
	}, []resolver.Outcome{found(120, 80, resolver.TierNative)})
	invoker := &fakeInvoker{can: true, ok: true}
	f.loop.SetNativeInvoker(invoker, "TextEdit")

	result, err := f.loop.Run(context.Background(), "save")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, []string{"Save"}, invoker.titles)
	assert.Empty(t, f.actor.clicks, "a successful native invoke replaces the synthetic click")
	require.Len(t, result.Steps, 1)
	assert.Contains(t, result.Steps[0].Detail, "invoke:")
}

func TestRunNativeInvokeMissFallsBackToClick(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{
		click("Save"),
		{Done: true},
	}, []resolver.Outcome{found(120, 80, resolver.TierNative)})
	f.loop.SetNativeInvoker(&fakeInvoker{can: true, ok: false}, "TextEdit")

	result, err := f.loop.Run(context.Background(), "save")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, []image.Point{{X: 120, Y: 80}}, f.actor.clicks)
}

func TestRunNativeInvokeSkippedForVisualHits(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{
		click("Save"),
		{Done: true},
	}, []resolver.Outcome{found(300, 450, resolver.TierVisual)})
	invoker := &fakeInvoker{can: true, ok: true}
	f.loop.SetNativeInvoker(invoker, "TextEdit")

	result, err := f.loop.Run(context.Background(), "save")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Empty(t, invoker.titles, "only native-tier hits may use the invoke verb")
	assert.Len(t, f.actor.clicks, 1)
}

func TestRunScrollDirective(t *testing.T) {
	f := newFixture(loopConfig(), []Directive{
		{Action: ActionScroll, ScrollDY: 3},
		{Done: true},
	}, []resolver.Outcome{notFound()})

	result, err := f.loop.Run(context.Background(), "scroll")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, 1, f.actor.scrolls)
	assert.Zero(t, f.gate.calls, "scrolling has no coordinate to validate")
}
