// File: internal/session/session.go

// Package session assembles the detection tiers, the safety gate and the
// actuator into a ready-to-run task executor, and owns the desktop
// observation text handed to deciders.
package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skua-labs/deskpilot/internal/accessibility"
	"github.com/skua-labs/deskpilot/internal/actuator"
	"github.com/skua-labs/deskpilot/internal/config"
	"github.com/skua-labs/deskpilot/internal/loop"
	"github.com/skua-labs/deskpilot/internal/oracle"
	"github.com/skua-labs/deskpilot/internal/resolver"
	"github.com/skua-labs/deskpilot/internal/safety"
	"github.com/skua-labs/deskpilot/internal/screen"
	"github.com/skua-labs/deskpilot/internal/vision"
)

// Session holds the assembled engine for one desktop. Sessions are cheap to
// keep around; all heavy work happens per task run.
type Session struct {
	cfg    *config.Config
	logger *zap.Logger

	app string

	adapter   accessibility.Adapter
	capturer  screen.Capturer
	detector  *vision.Detector
	resolver  *resolver.Resolver
	validator *safety.Validator
	actor     actuator.Actuator
}

// Option overrides a default component, mainly for tests and embedders.
type Option func(*Session)

func WithAdapter(a accessibility.Adapter) Option  { return func(s *Session) { s.adapter = a } }
func WithCapturer(c screen.Capturer) Option       { return func(s *Session) { s.capturer = c } }
func WithActuator(a actuator.Actuator) Option     { return func(s *Session) { s.actor = a } }

// New assembles a session for the given application scope. The oracle tier
// is wired only when enabled and keyed; everything else is unconditional.
func New(cfg *config.Config, app string, logger *zap.Logger, opts ...Option) (*Session, error) {
	s := &Session{cfg: cfg, logger: logger.Named("session"), app: app}

	for _, opt := range opts {
		opt(s)
	}

	if s.adapter == nil {
		s.adapter = accessibility.New(cfg.Accessibility, logger)
	}
	if s.capturer == nil {
		s.capturer = screen.NewExecCapturer(cfg.Screen, logger)
	}
	if s.actor == nil {
		s.actor = actuator.New(cfg.Actuator, actuator.NewExecInjector(), logger)
	}

	engine, err := vision.NewEngine(cfg.Detection.OCREngine, logger)
	if err != nil {
		return nil, fmt.Errorf("build OCR engine: %w", err)
	}
	s.detector = vision.NewDetector(cfg.Detection, engine, logger)

	s.validator = safety.NewValidator(cfg.Safety, cfg.Screen, logger)

	var locator oracle.Locator
	if cfg.Oracle.Enabled {
		gemini, err := oracle.NewGeminiLocator(cfg.Oracle, logger)
		if err != nil {
			return nil, fmt.Errorf("build oracle: %w", err)
		}
		locator = gemini
	}

	s.resolver = resolver.New(s.adapter, s.detector, locator, s.validator,
		cfg.Detection.TemplateThreshold, logger)
	s.resolver.SetSpeculativeOCR(cfg.Session.SpeculativeOCR)

	return s, nil
}

// RunTask drives the control loop for one task with the given decider.
func (s *Session) RunTask(ctx context.Context, task string, decider loop.Decider) (*loop.Result, error) {
	l := loop.New(
		s.cfg.Loop,
		decider,
		s.resolver,
		s.validator,
		s.actor,
		observerFunc(s.Observe),
		s.frameRequest,
		s.logger,
	)
	l.SetNativeInvoker(s.adapter, s.app)
	return l.Run(ctx, task)
}

// Resolve exposes one-shot resolution for callers outside a task loop.
func (s *Session) Resolve(ctx context.Context, target string) (resolver.Outcome, error) {
	req, err := s.frameRequest(ctx, target)
	if err != nil {
		return resolver.Outcome{}, err
	}
	return s.resolver.Resolve(ctx, req)
}

func (s *Session) frameRequest(ctx context.Context, target string) (resolver.Request, error) {
	frame, err := s.capturer.Capture(ctx, "")
	if err != nil {
		return resolver.Request{}, fmt.Errorf("capture screen: %w", err)
	}
	return resolver.Request{App: s.app, Target: target, Frame: frame}, nil
}

// Observe reports the desktop state for decider observations.
func (s *Session) Observe(ctx context.Context) (string, []string) {
	return s.adapter.FrontmostApp(ctx), s.adapter.RunningApps(ctx)
}

type observerFunc func(ctx context.Context) (string, []string)

func (f observerFunc) Observe(ctx context.Context) (string, []string) { return f(ctx) }

// ObservationText renders the desktop state as a line of prose for prompts
// and logs.
func ObservationText(frontmost string, running []string) string {
	var b strings.Builder
	if frontmost != "" {
		fmt.Fprintf(&b, "Frontmost application: %s.", frontmost)
	} else {
		b.WriteString("Frontmost application: unknown.")
	}
	if len(running) > 0 {
		fmt.Fprintf(&b, " Running applications: %s.", strings.Join(running, ", "))
	}
	return b.String()
}

// Snapshot is a combined view of the desktop at one instant.
type Snapshot struct {
	Frame     *screen.Frame
	Elements  []accessibility.Element
	Words     []vision.Word
	Frontmost string
}

// Snapshot gathers the accessibility tree, a screen capture with its OCR
// pass, and the frontmost application concurrently. The OCR leg depends on
// the capture leg; everything else is independent.
func (s *Session) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		elements, err := s.adapter.FindElements(gctx, accessibility.Query{App: s.app})
		if err != nil {
			return err
		}
		snap.Elements = elements
		return nil
	})

	g.Go(func() error {
		snap.Frontmost = s.adapter.FrontmostApp(gctx)
		return nil
	})

	g.Go(func() error {
		frame, err := s.capturer.Capture(gctx, "")
		if err != nil {
			return fmt.Errorf("capture screen: %w", err)
		}
		snap.Frame = frame

		words, err := s.detector.AllText(gctx, frame.Image)
		if err != nil {
			// OCR is best effort here; the tree and frame are still
			// useful without it.
			s.logger.Debug("Snapshot OCR failed", zap.Error(err))
			return nil
		}
		snap.Words = words
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}
