// File: internal/oracle/oracle.go

// Package oracle asks a vision model for the screen position of an element
// the cheaper tiers could not find. The oracle is advisory only; its answers
// go through coordinate safety validation before anything acts on them.
package oracle

import (
	"context"
	"errors"

	"github.com/skua-labs/deskpilot/internal/screen"
)

// Guess is the oracle's proposed location for a target, in the coordinate
// space of the frame it was shown.
type Guess struct {
	X          int
	Y          int
	Confidence float64
}

// Locator resolves a target description to a screen position.
type Locator interface {
	Locate(ctx context.Context, frame *screen.Frame, target string) (*Guess, error)
}

// ErrTimeout marks an oracle request that exceeded its deadline. Callers
// treat it as "not found", not as a fault.
var ErrTimeout = errors.New("oracle request timed out")

// ErrUnparseable marks a model reply that carried no usable coordinate.
var ErrUnparseable = errors.New("oracle reply carried no coordinate")
