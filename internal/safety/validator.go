// File: internal/safety/validator.go

// Package safety gates every synthetic input coordinate before it reaches
// the actuator. Checks run in a fixed order so a rejection always names the
// severest violation: bounds first, then protected regions, then rate.
package safety

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

// Violation identifies why a coordinate was rejected.
type Violation string

const (
	ViolationNone            Violation = ""
	ViolationOutOfBounds     Violation = "OUT_OF_BOUNDS"
	ViolationProtectedRegion Violation = "PROTECTED_REGION"
	ViolationRateLimited     Violation = "RATE_LIMITED"
)

// Verdict is the outcome of validating one coordinate.
type Verdict struct {
	Allowed   bool
	Violation Violation
	Detail    string
}

func allow() Verdict {
	return Verdict{Allowed: true}
}

func reject(v Violation, detail string) Verdict {
	return Verdict{Violation: v, Detail: detail}
}

// Validator enforces the coordinate safety policy. Safe for concurrent use.
// Only accepted validations count against the rate window, so a caller
// retrying a rejected coordinate cannot starve itself further.
type Validator struct {
	cfg    config.SafetyConfig
	screen config.ScreenConfig
	logger *zap.Logger

	now func() time.Time

	mu     sync.Mutex
	window []time.Time
}

func NewValidator(cfg config.SafetyConfig, screen config.ScreenConfig, logger *zap.Logger) *Validator {
	return &Validator{
		cfg:    cfg,
		screen: screen,
		logger: logger.Named("safety"),
		now:    time.Now,
	}
}

// Validate checks one screen coordinate. The rate window advances only on
// acceptance.
func (v *Validator) Validate(x, y int) Verdict {
	verdict := v.check(x, y)
	if !verdict.Allowed {
		v.logger.Warn("Coordinate rejected",
			zap.Int("x", x), zap.Int("y", y),
			zap.String("violation", string(verdict.Violation)),
			zap.String("detail", verdict.Detail),
		)
	}
	return verdict
}

func (v *Validator) check(x, y int) Verdict {
	if x < 0 || y < 0 || x >= v.screen.Width || y >= v.screen.Height {
		return reject(ViolationOutOfBounds,
			fmt.Sprintf("(%d,%d) outside %dx%d screen", x, y, v.screen.Width, v.screen.Height))
	}

	if verdict := v.checkProtected(x, y); !verdict.Allowed {
		return verdict
	}

	return v.checkRate()
}

func (v *Validator) checkProtected(x, y int) Verdict {
	if m := v.cfg.EdgeMargin; m > 0 {
		if x < m || y < m || x >= v.screen.Width-m || y >= v.screen.Height-m {
			return reject(ViolationProtectedRegion,
				fmt.Sprintf("(%d,%d) within %dpx screen edge margin", x, y, m))
		}
	}
	if y < v.cfg.MenuBarHeight {
		return reject(ViolationProtectedRegion,
			fmt.Sprintf("(%d,%d) inside the system menu strip", x, y))
	}
	for _, region := range v.cfg.ProtectedRegions {
		if pointInRect(x, y, region) {
			name := region.Name
			if name == "" {
				name = "unnamed region"
			}
			return reject(ViolationProtectedRegion,
				fmt.Sprintf("(%d,%d) inside protected region %q", x, y, name))
		}
	}
	return allow()
}

// checkRate applies a sliding-window ceiling and records the acceptance.
// Called under no lock; takes it here.
func (v *Validator) checkRate() Verdict {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	cutoff := now.Add(-v.cfg.RateWindow)

	kept := v.window[:0]
	for _, t := range v.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.window = kept

	if len(v.window) >= v.cfg.RateCeiling {
		return reject(ViolationRateLimited,
			fmt.Sprintf("%d accepted inputs within %s", len(v.window), v.cfg.RateWindow))
	}

	v.window = append(v.window, now)
	return allow()
}

func pointInRect(x, y int, r config.RegionConfig) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}
