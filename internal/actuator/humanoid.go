// File: internal/actuator/humanoid.go
package actuator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

const (
	perlinAlpha     = 2.0
	perlinBeta      = 2.0
	perlinOctaves   = 3
	perlinFrequency = 0.8
)

// humanoidActuator synthesizes input with human motion characteristics. All
// pacing goes through the injector's Sleep so tests can run instantly.
type humanoidActuator struct {
	cfg      config.HumanoidConfig
	injector Injector
	logger   *zap.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	currentPos Vector2D
	noiseX     *perlin.Perlin
	noiseY     *perlin.Perlin
}

func newHumanoid(cfg config.HumanoidConfig, injector Injector, logger *zap.Logger, rng *rand.Rand) *humanoidActuator {
	return &humanoidActuator{
		cfg:      cfg,
		injector: injector,
		logger:   logger.Named("actuator.humanoid"),
		rng:      rng,
		noiseX:   perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, rng.Int63()),
		noiseY:   perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, rng.Int63()),
	}
}

// Click moves to the target along a generated trajectory, then presses and
// releases with a randomized hold time.
func (h *humanoidActuator) Click(ctx context.Context, x, y int) error {
	target := Vector2D{X: float64(x), Y: float64(y)}
	if err := h.moveTo(ctx, target); err != nil {
		return err
	}

	// The final event lands exactly on the validated coordinate; tremor
	// must not push the click off target.
	if err := h.injector.MouseMove(ctx, x, y); err != nil {
		return err
	}
	if err := h.injector.MouseDown(ctx); err != nil {
		return err
	}
	if err := h.injector.Sleep(ctx, h.clickHold()); err != nil {
		return err
	}
	if err := h.injector.MouseUp(ctx); err != nil {
		return err
	}

	h.logger.Debug("Click dispatched", zap.Int("x", x), zap.Int("y", y))
	return nil
}

// TypeText emits the text rune by rune with gaussian hold and gap times.
func (h *humanoidActuator) TypeText(ctx context.Context, text string) error {
	for _, r := range text {
		key := keyName(r)
		if err := h.injector.KeyDown(ctx, key); err != nil {
			return err
		}
		if err := h.injector.Sleep(ctx, h.keyHold()); err != nil {
			return err
		}
		if err := h.injector.KeyUp(ctx, key); err != nil {
			return err
		}
		if err := h.injector.Sleep(ctx, h.keyGap()); err != nil {
			return err
		}
	}
	h.logger.Debug("Text typed", zap.Int("runes", len([]rune(text))))
	return nil
}

// Scroll emits the wheel delta in single notches with short pauses, the way
// a finger on a wheel does.
func (h *humanoidActuator) Scroll(ctx context.Context, dx, dy int) error {
	stepY := sign(dy)
	for remaining := abs(dy); remaining > 0; remaining-- {
		if err := h.injector.Wheel(ctx, 0, stepY); err != nil {
			return err
		}
		h.mu.Lock()
		gap := time.Duration(20+h.rng.Intn(60)) * time.Millisecond
		h.mu.Unlock()
		if err := h.injector.Sleep(ctx, gap); err != nil {
			return err
		}
	}
	if dx != 0 {
		return h.injector.Wheel(ctx, dx, 0)
	}
	return nil
}

func (h *humanoidActuator) clickHold() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	spread := h.cfg.ClickHoldMaxMs - h.cfg.ClickHoldMinMs
	if spread <= 0 {
		return time.Duration(h.cfg.ClickHoldMinMs) * time.Millisecond
	}
	return time.Duration(h.cfg.ClickHoldMinMs+h.rng.Intn(spread)) * time.Millisecond
}

func (h *humanoidActuator) keyHold() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return gaussianDuration(h.rng, h.cfg.KeyHoldMeanMs, h.cfg.KeyHoldStdDevMs)
}

func (h *humanoidActuator) keyGap() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Inter-key gaps are wider and more variable than holds.
	return gaussianDuration(h.rng, h.cfg.KeyHoldMeanMs*1.5, h.cfg.KeyHoldStdDevMs*2)
}

// gaussianDuration samples a normal distribution, clamped to stay positive.
func gaussianDuration(rng *rand.Rand, meanMs, stdDevMs float64) time.Duration {
	ms := rng.NormFloat64()*stdDevMs + meanMs
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
