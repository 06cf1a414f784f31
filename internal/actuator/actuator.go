// File: internal/actuator/actuator.go

// Package actuator dispatches synthetic input. The default implementation
// moves like a person: Fitts's law timing, curved trajectories with drift
// and tremor, and variable key cadence. A plain implementation exists for
// environments where realism is unwanted.
package actuator

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

// Actuator performs input actions at already-validated screen coordinates.
type Actuator interface {
	Click(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string) error
	Scroll(ctx context.Context, dx, dy int) error
}

// New builds the configured actuator over the given injector.
func New(cfg config.ActuatorConfig, injector Injector, logger *zap.Logger) Actuator {
	if cfg.Humanoid.Enabled {
		return newHumanoid(cfg.Humanoid, injector, logger, rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	return &rawActuator{injector: injector, logger: logger.Named("actuator")}
}

// rawActuator performs actions mechanically: teleport, click, type.
type rawActuator struct {
	injector Injector
	logger   *zap.Logger
}

func (a *rawActuator) Click(ctx context.Context, x, y int) error {
	if err := a.injector.MouseMove(ctx, x, y); err != nil {
		return err
	}
	if err := a.injector.MouseDown(ctx); err != nil {
		return err
	}
	return a.injector.MouseUp(ctx)
}

func (a *rawActuator) TypeText(ctx context.Context, text string) error {
	for _, r := range text {
		key := keyName(r)
		if err := a.injector.KeyDown(ctx, key); err != nil {
			return err
		}
		if err := a.injector.KeyUp(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (a *rawActuator) Scroll(ctx context.Context, dx, dy int) error {
	return a.injector.Wheel(ctx, dx, dy)
}

// keyName maps a rune to the injector's key identifier. Most printable runes
// pass through as themselves.
func keyName(r rune) string {
	switch r {
	case '\n':
		return "Return"
	case '\t':
		return "Tab"
	case ' ':
		return "space"
	}
	return string(r)
}
