// File: internal/resolver/resolver.go

// Package resolver turns a target description into a screen coordinate by
// walking the detection tiers in strict priority order: the accessibility
// tree first, then visual detection on the captured frame, then the vision
// oracle as a last resort. A cheaper tier's hit always wins; later tiers are
// not even consulted.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/accessibility"
	"github.com/skua-labs/deskpilot/internal/oracle"
	"github.com/skua-labs/deskpilot/internal/safety"
	"github.com/skua-labs/deskpilot/internal/screen"
	"github.com/skua-labs/deskpilot/internal/vision"
)

// Tier identifies which detection tier produced a candidate.
type Tier string

const (
	TierNative Tier = "NATIVE"
	TierVisual Tier = "VISUAL"
	TierOracle Tier = "ORACLE"
)

// Candidate is a resolved screen position for a target.
type Candidate struct {
	Point      image.Point
	Tier       Tier
	Confidence float64
	// MethodDetail records how the winning tier found the target, for
	// step history and logs.
	MethodDetail string
}

// Outcome is the result of one resolution attempt. Resolved is nil when no
// tier produced an accepted candidate.
type Outcome struct {
	Resolved *Candidate
	Reason   string
}

// Found reports whether resolution produced a usable candidate.
func (o Outcome) Found() bool { return o.Resolved != nil }

// Request describes one resolution task. Frame must be the current screen
// content; Template optionally supplies a reference image for icon targets
// OCR cannot read.
type Request struct {
	App      string
	Target   string
	Frame    *screen.Frame
	Template image.Image
}

// CoordinateGate admits or rejects oracle guesses before they become
// candidates. Satisfied by *safety.Validator.
type CoordinateGate interface {
	Validate(x, y int) safety.Verdict
}

// Resolver walks the tiers. The oracle locator and template matching are
// optional; a nil locator simply ends the chain after the visual tier.
type Resolver struct {
	adapter  accessibility.Adapter
	detector *vision.Detector
	locator  oracle.Locator
	gate     CoordinateGate
	logger   *zap.Logger

	templateThreshold float64
	speculative       bool
}

func New(
	adapter accessibility.Adapter,
	detector *vision.Detector,
	locator oracle.Locator,
	gate CoordinateGate,
	templateThreshold float64,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		adapter:           adapter,
		detector:          detector,
		locator:           locator,
		gate:              gate,
		templateThreshold: templateThreshold,
		logger:            logger.Named("resolver"),
	}
}

const reasonExhausted = "no tier produced an accepted candidate"

// SetSpeculativeOCR makes Resolve start the OCR pass concurrently with the
// accessibility query. Tier priority is unchanged; a native hit still wins
// and the speculative result is discarded. Trades OCR work for latency.
func (r *Resolver) SetSpeculativeOCR(on bool) { r.speculative = on }

// ocrResult carries a prefetched OCR pass to the visual tier.
type ocrResult struct {
	matches []vision.TextMatch
	err     error
}

// Resolve runs the tier chain for one target.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Outcome, error) {
	if req.Target == "" {
		return Outcome{}, fmt.Errorf("empty target")
	}

	var prefetch chan ocrResult
	if r.speculative && req.Frame != nil {
		prefetchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		prefetch = make(chan ocrResult, 1)
		_, text := vision.ExtractHint(req.Target)
		go func() {
			matches, err := r.detector.FindText(prefetchCtx, req.Frame.Image, text, true)
			prefetch <- ocrResult{matches: matches, err: err}
		}()
	}

	if c, err := r.resolveNative(ctx, req); err != nil {
		return Outcome{}, err
	} else if c != nil {
		r.logResolved(req.Target, c)
		return Outcome{Resolved: c}, nil
	}

	if c, err := r.resolveVisual(ctx, req, prefetch); err != nil {
		return Outcome{}, err
	} else if c != nil {
		r.logResolved(req.Target, c)
		return Outcome{Resolved: c}, nil
	}

	if c, err := r.resolveOracle(ctx, req); err != nil {
		return Outcome{}, err
	} else if c != nil {
		r.logResolved(req.Target, c)
		return Outcome{Resolved: c}, nil
	}

	r.logger.Debug("Resolution exhausted all tiers", zap.String("target", req.Target))
	return Outcome{Reason: reasonExhausted}, nil
}

// resolveNative queries the accessibility tree for an enabled element whose
// title matches the target, preferring exact matches over substring hits.
// Native hits carry full confidence: the platform told us where the element
// is, there is nothing to estimate.
func (r *Resolver) resolveNative(ctx context.Context, req Request) (*Candidate, error) {
	elements, err := r.adapter.FindElements(ctx, accessibility.Query{App: req.App})
	if err != nil {
		return nil, err
	}

	match := pickElement(elements, req.Target)
	if match == nil {
		return nil, nil
	}
	return &Candidate{
		Point:        match.Center,
		Tier:         TierNative,
		Confidence:   1.0,
		MethodDetail: fmt.Sprintf("accessibility:%s", match.Role),
	}, nil
}

// pickElement applies the title match order: case-insensitive exact first,
// then substring. Disabled elements never match.
func pickElement(elements []accessibility.Element, target string) *accessibility.Element {
	for i, el := range elements {
		if el.Enabled && strings.EqualFold(el.Title, target) {
			return &elements[i]
		}
	}
	lower := strings.ToLower(target)
	for i, el := range elements {
		if el.Enabled && strings.Contains(strings.ToLower(el.Title), lower) {
			return &elements[i]
		}
	}
	return nil
}

// resolveVisual searches the frame with OCR, falling back to template
// matching when a reference image was supplied.
func (r *Resolver) resolveVisual(ctx context.Context, req Request, prefetch chan ocrResult) (*Candidate, error) {
	if req.Frame == nil {
		return nil, nil
	}

	var matches []vision.TextMatch
	var err error
	if prefetch != nil {
		res := <-prefetch
		matches, err = res.matches, res.err
	} else {
		_, text := vision.ExtractHint(req.Target)
		matches, err = r.detector.FindText(ctx, req.Frame.Image, text, true)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Debug("OCR pass failed", zap.String("target", req.Target), zap.Error(err))
	}
	// A similarity hit over poorly recognized text can still land below the
	// acceptance floor; such candidates fall through to the later passes.
	matches = confidentOnly(matches, r.detector.ConfidenceFloor())
	if len(matches) > 0 {
		// Relation scoring plus any spatial hint in the target picks among
		// the similarity hits; the detector's ordering is the fallback.
		best := matches[0]
		if scored, ok := vision.BestMatch(matches, req.Target, req.Frame.Image.Bounds()); ok {
			best = scored
		}
		return &Candidate{
			Point:        best.Center,
			Tier:         TierVisual,
			Confidence:   best.Confidence,
			MethodDetail: fmt.Sprintf("ocr:%q", best.Text),
		}, nil
	}

	if req.Template == nil {
		return nil, nil
	}
	hits, err := vision.MatchTemplate(ctx, req.Frame.Image, req.Template, r.templateThreshold)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Debug("Template pass failed", zap.String("target", req.Target), zap.Error(err))
		return nil, nil
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return &Candidate{
		Point:        hits[0].Center,
		Tier:         TierVisual,
		Confidence:   hits[0].Confidence,
		MethodDetail: "template",
	}, nil
}

// resolveOracle consults the vision model. A timeout counts as not found,
// and guesses outside the safety policy are discarded rather than surfaced.
func (r *Resolver) resolveOracle(ctx context.Context, req Request) (*Candidate, error) {
	if r.locator == nil || req.Frame == nil {
		return nil, nil
	}

	guess, err := r.locator.Locate(ctx, req.Frame, req.Target)
	if err != nil {
		if errors.Is(err, oracle.ErrTimeout) || errors.Is(err, oracle.ErrUnparseable) {
			r.logger.Debug("Oracle produced no answer", zap.String("target", req.Target), zap.Error(err))
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("Oracle request failed", zap.String("target", req.Target), zap.Error(err))
		return nil, nil
	}
	if guess == nil {
		return nil, nil
	}

	if verdict := r.gate.Validate(guess.X, guess.Y); !verdict.Allowed {
		r.logger.Warn("Oracle guess rejected by safety policy",
			zap.String("target", req.Target),
			zap.Int("x", guess.X), zap.Int("y", guess.Y),
			zap.String("violation", string(verdict.Violation)),
		)
		return nil, nil
	}

	return &Candidate{
		Point:        image.Point{X: guess.X, Y: guess.Y},
		Tier:         TierOracle,
		Confidence:   guess.Confidence,
		MethodDetail: "oracle",
	}, nil
}

// confidentOnly keeps matches at or above the acceptance floor, preserving
// their order.
func confidentOnly(matches []vision.TextMatch, floor float64) []vision.TextMatch {
	kept := make([]vision.TextMatch, 0, len(matches))
	for _, m := range matches {
		if m.Confidence >= floor {
			kept = append(kept, m)
		}
	}
	return kept
}

func (r *Resolver) logResolved(target string, c *Candidate) {
	r.logger.Info("Target resolved",
		zap.String("target", target),
		zap.String("tier", string(c.Tier)),
		zap.Int("x", c.Point.X), zap.Int("y", c.Point.Y),
		zap.Float64("confidence", c.Confidence),
		zap.String("method", c.MethodDetail),
	)
}
