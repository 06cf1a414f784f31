// File: internal/accessibility/accessibility.go

// Package accessibility normalizes the native accessibility trees of the
// supported platforms (AT-SPI, UI Automation, the macOS AX APIs) into one
// query shape. Exactly one platform variant is selected at startup; platform
// faults never escape the adapter boundary, since an absent or broken
// accessibility tree is an expected condition, not an error.
package accessibility

import (
	"context"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

// Element is one normalized interactive node from a native tree. Elements are
// produced fresh on every query and must not be cached across loop steps.
type Element struct {
	Center    image.Point
	Role      string
	Title     string
	Enabled   bool
	SourceApp string
}

// Query filters a tree lookup. App is matched case-insensitively as a
// substring of the process or window name. Role and Title, when non-empty,
// are case-insensitive substring filters.
type Query struct {
	App   string
	Role  string
	Title string
}

// Adapter is the platform-neutral accessibility contract.
type Adapter interface {
	// FindElements returns the interactive elements matching the query.
	// Absent applications and platform faults both yield an empty slice;
	// a non-nil error is only returned for context cancellation.
	FindElements(ctx context.Context, q Query) ([]Element, error)

	// InvokeDefaultAction activates an element natively (the platform's
	// press/invoke verb) instead of synthesizing pointer input. Returns
	// false when no matching element was found or activation failed.
	InvokeDefaultAction(ctx context.Context, app, title string) (bool, error)

	// CanInvoke reports whether the platform exposes a native default
	// action. Callers must check this before attempting the invoke path.
	CanInvoke() bool

	// FrontmostApp returns the name of the foreground application, or ""
	// when it cannot be determined.
	FrontmostApp(ctx context.Context) string

	// RunningApps lists the names of currently running applications.
	RunningApps(ctx context.Context) []string

	// Platform names the active variant (for diagnostics).
	Platform() string
}

// treeAdapter implements Adapter over a platform bridge, adding the timeout,
// panic absorption, and filter semantics the contract requires.
type treeAdapter struct {
	cfg    config.AccessibilityConfig
	logger *zap.Logger
	bridge bridge
}

// New selects and constructs the adapter variant for the current platform.
// Selection happens exactly once here, never per call.
func New(cfg config.AccessibilityConfig, logger *zap.Logger) Adapter {
	log := logger.Named("accessibility")
	b := newPlatformBridge(cfg, log)
	log.Info("Accessibility adapter selected",
		zap.String("platform", b.Platform()),
		zap.Bool("can_invoke", b.CanInvoke()),
	)
	return &treeAdapter{cfg: cfg, logger: log, bridge: b}
}

// NewWithBridge constructs an adapter over an explicit bridge. Used by tests
// and by embedders that supply their own native binding.
func NewWithBridge(cfg config.AccessibilityConfig, logger *zap.Logger, b bridge) Adapter {
	return &treeAdapter{cfg: cfg, logger: logger.Named("accessibility"), bridge: b}
}

func (a *treeAdapter) Platform() string { return a.bridge.Platform() }
func (a *treeAdapter) CanInvoke() bool  { return a.bridge.CanInvoke() }

func (a *treeAdapter) FindElements(ctx context.Context, q Query) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	raw := a.collect(ctx, q.App)

	elements := make([]Element, 0, len(raw))
	for _, r := range raw {
		if q.Role != "" && !containsFold(r.Role, q.Role) {
			continue
		}
		if q.Title != "" && !containsFold(r.Title, q.Title) {
			continue
		}
		elements = append(elements, Element{
			Center:    image.Point{X: r.X + r.W/2, Y: r.Y + r.H/2},
			Role:      r.Role,
			Title:     r.Title,
			Enabled:   r.Enabled,
			SourceApp: r.App,
		})
	}
	return elements, nil
}

// collect runs the bridge query, converting every possible failure mode
// (error, timeout, panic inside a native binding) into an empty result.
func (a *treeAdapter) collect(ctx context.Context, app string) (raw []rawElement) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("Native bridge panicked; treating as empty tree", zap.Any("panic", r))
			raw = nil
		}
	}()

	raw, err := a.bridge.Elements(ctx, app)
	if err != nil {
		a.logger.Debug("Native tree query failed; treating as empty tree",
			zap.String("app", app), zap.Error(err))
		return nil
	}
	return raw
}

func (a *treeAdapter) InvokeDefaultAction(ctx context.Context, app, title string) (ok bool, err error) {
	if !a.bridge.CanInvoke() {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("Native invoke panicked", zap.Any("panic", r))
			ok, err = false, nil
		}
	}()

	ok, bridgeErr := a.bridge.Invoke(ctx, app, title)
	if bridgeErr != nil {
		a.logger.Debug("Native invoke failed",
			zap.String("app", app), zap.String("title", title), zap.Error(bridgeErr))
		return false, nil
	}
	return ok, nil
}

func (a *treeAdapter) FrontmostApp(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	name, err := a.bridge.Frontmost(ctx)
	if err != nil {
		return ""
	}
	return name
}

func (a *treeAdapter) RunningApps(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	apps, err := a.bridge.Running(ctx)
	if err != nil {
		return nil
	}
	return apps
}

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// MatchesApp implements the app-name semantics shared by all bridges:
// case-insensitive substring in either direction.
func MatchesApp(candidate, requested string) bool {
	if candidate == "" || requested == "" {
		return false
	}
	c, r := strings.ToLower(candidate), strings.ToLower(requested)
	return strings.Contains(c, r) || strings.Contains(r, c)
}
