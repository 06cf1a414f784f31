//go:build !linux && !darwin && !windows

// File: internal/accessibility/bridge_other.go
package accessibility

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

var errUnsupported = errors.New("no accessibility binding for this platform")

// nullBridge is the variant for platforms without a native tree. Every query
// fails, which the adapter turns into empty results, so callers simply fall
// through to the visual tiers.
type nullBridge struct{}

func newPlatformBridge(_ config.AccessibilityConfig, _ *zap.Logger) bridge {
	return nullBridge{}
}

func (nullBridge) Platform() string { return "none" }
func (nullBridge) CanInvoke() bool  { return false }

func (nullBridge) Elements(context.Context, string) ([]rawElement, error) {
	return nil, errUnsupported
}

func (nullBridge) Invoke(context.Context, string, string) (bool, error) {
	return false, errUnsupported
}

func (nullBridge) Frontmost(context.Context) (string, error) { return "", errUnsupported }
func (nullBridge) Running(context.Context) ([]string, error) { return nil, errUnsupported }
