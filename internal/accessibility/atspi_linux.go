//go:build linux

// File: internal/accessibility/atspi_linux.go
package accessibility

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

const (
	atspiRegistryDest = "org.a11y.atspi.Registry"
	atspiRootPath     = "/org/a11y/atspi/accessible/root"

	ifaceAccessible = "org.a11y.atspi.Accessible"
	ifaceComponent  = "org.a11y.atspi.Component"
	ifaceAction     = "org.a11y.atspi.Action"

	// org.a11y.atspi coordinate type 0 is screen space.
	atspiCoordScreen = 0
)

// atspiRef is the (name, path) pair AT-SPI uses to address an accessible.
type atspiRef struct {
	Name string
	Path dbus.ObjectPath
}

// atspiBridge walks the AT-SPI registry over the dedicated accessibility bus.
// The connection is established lazily and reused; a dead bus is reported as
// an error on every call, which the adapter absorbs.
type atspiBridge struct {
	cfg    config.AccessibilityConfig
	logger *zap.Logger

	mu   sync.Mutex
	conn *dbus.Conn
}

func newPlatformBridge(cfg config.AccessibilityConfig, logger *zap.Logger) bridge {
	return &atspiBridge{cfg: cfg, logger: logger}
}

func (b *atspiBridge) Platform() string { return "linux/at-spi" }
func (b *atspiBridge) CanInvoke() bool  { return true }

// bus returns the accessibility bus connection, dialing it on first use. The
// bus address is published by org.a11y.Bus on the session bus.
func (b *atspiBridge) bus(ctx context.Context) (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && b.conn.Connected() {
		return b.conn, nil
	}

	session, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	defer session.Close()

	var address string
	obj := session.Object("org.a11y.Bus", "/org/a11y/bus")
	if err := obj.CallWithContext(ctx, "org.a11y.Bus.GetAddress", 0).Store(&address); err != nil {
		return nil, fmt.Errorf("resolve accessibility bus: %w", err)
	}

	conn, err := dbus.Connect(address)
	if err != nil {
		return nil, fmt.Errorf("accessibility bus %q: %w", address, err)
	}
	b.conn = conn
	return conn, nil
}

func (b *atspiBridge) Elements(ctx context.Context, app string) ([]rawElement, error) {
	conn, err := b.bus(ctx)
	if err != nil {
		return nil, err
	}

	apps, err := b.children(ctx, conn, atspiRef{Name: atspiRegistryDest, Path: atspiRootPath})
	if err != nil {
		return nil, fmt.Errorf("registry children: %w", err)
	}

	var out []rawElement
	for _, ref := range apps {
		name, err := b.name(ctx, conn, ref)
		if err != nil || !MatchesApp(name, app) {
			continue
		}
		if err := b.walk(ctx, conn, ref, name, 0, &out); err != nil {
			// A single misbehaving application must not hide the rest
			// of the desktop.
			b.logger.Debug("AT-SPI subtree walk failed", zap.String("app", name), zap.Error(err))
		}
	}
	return out, nil
}

// walk appends every interactive descendant of ref to out, depth-first.
func (b *atspiBridge) walk(ctx context.Context, conn *dbus.Conn, ref atspiRef, app string, depth int, out *[]rawElement) error {
	if depth > b.cfg.MaxDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	role, err := b.roleName(ctx, conn, ref)
	if err != nil {
		return err
	}
	if interactiveRole(role) {
		el, err := b.describe(ctx, conn, ref, app, role)
		if err == nil {
			*out = append(*out, el)
		}
	}

	children, err := b.children(ctx, conn, ref)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := b.walk(ctx, conn, child, app, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

func (b *atspiBridge) describe(ctx context.Context, conn *dbus.Conn, ref atspiRef, app, role string) (rawElement, error) {
	name, err := b.name(ctx, conn, ref)
	if err != nil {
		return rawElement{}, err
	}

	var x, y, w, h int32
	obj := conn.Object(ref.Name, ref.Path)
	if err := obj.CallWithContext(ctx, ifaceComponent+".GetExtents", 0, uint32(atspiCoordScreen)).Store(&x, &y, &w, &h); err != nil {
		return rawElement{}, fmt.Errorf("extents of %s: %w", ref.Path, err)
	}

	return rawElement{
		App:     app,
		Role:    role,
		Title:   name,
		X:       int(x),
		Y:       int(y),
		W:       int(w),
		H:       int(h),
		Enabled: b.enabled(ctx, conn, ref),
	}, nil
}

// enabled checks the AT-SPI state set for STATE_ENABLED (bit 8 of the first
// word). Failure to read states defaults to enabled.
func (b *atspiBridge) enabled(ctx context.Context, conn *dbus.Conn, ref atspiRef) bool {
	var states []uint32
	obj := conn.Object(ref.Name, ref.Path)
	if err := obj.CallWithContext(ctx, ifaceAccessible+".GetState", 0).Store(&states); err != nil {
		return true
	}
	if len(states) == 0 {
		return true
	}
	const stateEnabledBit = 1 << 8
	return states[0]&stateEnabledBit != 0
}

func (b *atspiBridge) Invoke(ctx context.Context, app, title string) (bool, error) {
	conn, err := b.bus(ctx)
	if err != nil {
		return false, err
	}

	elements, err := b.Elements(ctx, app)
	if err != nil {
		return false, err
	}
	// Re-walk to find the ref of the first exact (then substring) match.
	// Elements above already filtered to the app.
	target := ""
	for _, el := range elements {
		if strings.EqualFold(el.Title, title) {
			target = el.Title
			break
		}
	}
	if target == "" {
		for _, el := range elements {
			if containsFold(el.Title, title) {
				target = el.Title
				break
			}
		}
	}
	if target == "" {
		return false, nil
	}

	apps, err := b.children(ctx, conn, atspiRef{Name: atspiRegistryDest, Path: atspiRootPath})
	if err != nil {
		return false, err
	}
	for _, ref := range apps {
		name, err := b.name(ctx, conn, ref)
		if err != nil || !MatchesApp(name, app) {
			continue
		}
		if ref, ok := b.findByTitle(ctx, conn, ref, target, 0); ok {
			obj := conn.Object(ref.Name, ref.Path)
			var done bool
			if err := obj.CallWithContext(ctx, ifaceAction+".DoAction", 0, int32(0)).Store(&done); err != nil {
				return false, fmt.Errorf("DoAction on %s: %w", ref.Path, err)
			}
			return done, nil
		}
	}
	return false, nil
}

func (b *atspiBridge) findByTitle(ctx context.Context, conn *dbus.Conn, ref atspiRef, title string, depth int) (atspiRef, bool) {
	if depth > b.cfg.MaxDepth || ctx.Err() != nil {
		return atspiRef{}, false
	}
	if name, err := b.name(ctx, conn, ref); err == nil && strings.EqualFold(name, title) {
		if role, err := b.roleName(ctx, conn, ref); err == nil && interactiveRole(role) {
			return ref, true
		}
	}
	children, err := b.children(ctx, conn, ref)
	if err != nil {
		return atspiRef{}, false
	}
	for _, child := range children {
		if found, ok := b.findByTitle(ctx, conn, child, title, depth+1); ok {
			return found, true
		}
	}
	return atspiRef{}, false
}

func (b *atspiBridge) Frontmost(ctx context.Context) (string, error) {
	conn, err := b.bus(ctx)
	if err != nil {
		return "", err
	}
	apps, err := b.children(ctx, conn, atspiRef{Name: atspiRegistryDest, Path: atspiRootPath})
	if err != nil {
		return "", err
	}
	// AT-SPI marks the active application through the ACTIVE state on one
	// of its frames; fall back to the first application when none is.
	for _, ref := range apps {
		frames, err := b.children(ctx, conn, ref)
		if err != nil {
			continue
		}
		for _, frame := range frames {
			if b.active(ctx, conn, frame) {
				return b.name(ctx, conn, ref)
			}
		}
	}
	if len(apps) > 0 {
		return b.name(ctx, conn, apps[0])
	}
	return "", nil
}

func (b *atspiBridge) active(ctx context.Context, conn *dbus.Conn, ref atspiRef) bool {
	var states []uint32
	obj := conn.Object(ref.Name, ref.Path)
	if err := obj.CallWithContext(ctx, ifaceAccessible+".GetState", 0).Store(&states); err != nil {
		return false
	}
	if len(states) == 0 {
		return false
	}
	const stateActiveBit = 1 << 1
	return states[0]&stateActiveBit != 0
}

func (b *atspiBridge) Running(ctx context.Context) ([]string, error) {
	conn, err := b.bus(ctx)
	if err != nil {
		return nil, err
	}
	apps, err := b.children(ctx, conn, atspiRef{Name: atspiRegistryDest, Path: atspiRootPath})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(apps))
	for _, ref := range apps {
		if name, err := b.name(ctx, conn, ref); err == nil && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (b *atspiBridge) children(ctx context.Context, conn *dbus.Conn, ref atspiRef) ([]atspiRef, error) {
	var raw [][]interface{}
	obj := conn.Object(ref.Name, ref.Path)
	if err := obj.CallWithContext(ctx, ifaceAccessible+".GetChildren", 0).Store(&raw); err != nil {
		return nil, err
	}
	refs := make([]atspiRef, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			continue
		}
		name, ok := pair[0].(string)
		if !ok {
			continue
		}
		path, ok := pair[1].(dbus.ObjectPath)
		if !ok {
			continue
		}
		refs = append(refs, atspiRef{Name: name, Path: path})
	}
	return refs, nil
}

func (b *atspiBridge) name(ctx context.Context, conn *dbus.Conn, ref atspiRef) (string, error) {
	variant, err := conn.Object(ref.Name, ref.Path).GetProperty(ifaceAccessible + ".Name")
	if err != nil {
		return "", err
	}
	name, _ := variant.Value().(string)
	return name, nil
}

func (b *atspiBridge) roleName(ctx context.Context, conn *dbus.Conn, ref atspiRef) (string, error) {
	var role string
	obj := conn.Object(ref.Name, ref.Path)
	if err := obj.CallWithContext(ctx, ifaceAccessible+".GetRoleName", 0).Store(&role); err != nil {
		return "", err
	}
	return role, nil
}

// interactiveRole filters the tree down to nodes a user can act on.
func interactiveRole(role string) bool {
	switch strings.ToLower(role) {
	case "push button", "button", "toggle button", "radio button", "check box",
		"menu item", "check menu item", "radio menu item", "link",
		"text", "entry", "password text", "combo box", "spin button",
		"slider", "tab", "page tab", "list item", "table cell":
		return true
	}
	return false
}
