// File: internal/accessibility/bridge.go
package accessibility

import "context"

// rawElement is a node as reported by a native tree, before normalization.
// Coordinates are the element's top-left corner in screen space.
type rawElement struct {
	App     string
	Role    string
	Title   string
	X, Y    int
	W, H    int
	Enabled bool
}

// bridge is the narrow surface each platform binding implements. Bridges may
// return errors or even panic; the adapter absorbs both.
type bridge interface {
	Platform() string
	CanInvoke() bool
	Elements(ctx context.Context, app string) ([]rawElement, error)
	Invoke(ctx context.Context, app, title string) (bool, error)
	Frontmost(ctx context.Context) (string, error)
	Running(ctx context.Context) ([]string, error)
}
