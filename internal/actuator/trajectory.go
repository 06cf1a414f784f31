// File: internal/actuator/trajectory.go
package actuator

import (
	"context"
	"math"
	"time"
)

// computeEaseInOutCubic provides a smooth acceleration and deceleration
// profile for movement.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// fittsDuration determines a realistic movement duration from Fitts's law,
// which models the time required to move to a target area.
func (h *humanoidActuator) fittsDuration(distance float64) time.Duration {
	const targetWidth = 30.0 // assumed target width in pixels

	id := math.Log2(1.0 + distance/targetWidth)

	h.mu.Lock()
	mt := h.cfg.FittsA + h.cfg.FittsB*id
	// Slight randomization, +/- 15%.
	mt += mt * (h.rng.Float64()*0.3 - 0.15)
	h.mu.Unlock()

	return time.Duration(mt) * time.Millisecond
}

// generatePath creates a curved trajectory between two points: a cubic
// Bezier whose control points are pushed off the straight line by a random
// perpendicular bow, so no two movements trace the same arc.
func (h *humanoidActuator) generatePath(start, end Vector2D, numSteps int) []Vector2D {
	p0, p3 := start, end
	mainVec := end.Sub(start)
	dist := mainVec.Mag()

	if dist < 1.0 || numSteps <= 1 {
		return []Vector2D{end}
	}

	mainDir := mainVec.Normalize()
	perp := mainDir.Perp()

	h.mu.Lock()
	bow1 := (h.rng.Float64()*2 - 1) * dist * 0.1
	bow2 := (h.rng.Float64()*2 - 1) * dist * 0.1
	h.mu.Unlock()

	p1 := start.Add(mainDir.Mul(dist / 3.0)).Add(perp.Mul(bow1))
	p2 := start.Add(mainDir.Mul(dist * 2.0 / 3.0)).Add(perp.Mul(bow2))

	path := make([]Vector2D, numSteps)
	for i := 0; i < numSteps; i++ {
		t := float64(i) / float64(numSteps-1)
		// Cubic Bezier curve formula.
		omt := 1.0 - t
		omt2 := omt * omt
		omt3 := omt2 * omt
		t2 := t * t
		t3 := t2 * t

		path[i] = p0.Mul(omt3).Add(p1.Mul(3 * omt2 * t)).Add(p2.Mul(3 * omt * t2)).Add(p3.Mul(t3))
	}
	return path
}

// moveTo walks the cursor along a generated path with eased timing, layering
// Perlin drift and gaussian tremor onto each intermediate position.
func (h *humanoidActuator) moveTo(ctx context.Context, end Vector2D) error {
	h.mu.Lock()
	start := h.currentPos
	h.mu.Unlock()

	dist := start.Dist(end)
	duration := h.fittsDuration(dist)
	numSteps := int(duration.Seconds() * 100)
	if numSteps < 2 {
		numSteps = 2
	}

	path := h.generatePath(start, end, numSteps)
	stepDelay := duration / time.Duration(len(path))

	for i, pos := range path {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := 1.0
		if len(path) > 1 {
			t = float64(i) / float64(len(path)-1)
		}
		elapsed := computeEaseInOutCubic(t) * duration.Seconds()

		h.mu.Lock()
		drift := Vector2D{
			X: h.noiseX.Noise1D(elapsed*perlinFrequency) * h.cfg.PerlinAmplitude,
			Y: h.noiseY.Noise1D(elapsed*perlinFrequency) * h.cfg.PerlinAmplitude,
		}
		tremor := Vector2D{
			X: h.rng.NormFloat64() * h.cfg.JitterStrength,
			Y: h.rng.NormFloat64() * h.cfg.JitterStrength,
		}
		h.mu.Unlock()

		perturbed := pos.Add(drift).Add(tremor)

		if err := h.injector.MouseMove(ctx, int(math.Round(perturbed.X)), int(math.Round(perturbed.Y))); err != nil {
			return err
		}

		h.mu.Lock()
		h.currentPos = perturbed
		h.mu.Unlock()

		if err := h.injector.Sleep(ctx, stepDelay); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.currentPos = end
	h.mu.Unlock()
	return nil
}
