// File: internal/vision/template.go
package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
)

// MatchTemplate scans the frame for regions resembling the reference image
// using normalized cross-correlation on grayscale intensities. Hits below
// threshold are dropped, and overlapping hits are suppressed keeping the
// highest-scoring one. Results are sorted best-first.
func MatchTemplate(ctx context.Context, frame, template image.Image, threshold float64) ([]TemplateMatch, error) {
	fb, tb := frame.Bounds(), template.Bounds()
	if tb.Dx() == 0 || tb.Dy() == 0 {
		return nil, fmt.Errorf("empty template")
	}
	if tb.Dx() > fb.Dx() || tb.Dy() > fb.Dy() {
		return nil, fmt.Errorf("template %dx%d larger than frame %dx%d", tb.Dx(), tb.Dy(), fb.Dx(), fb.Dy())
	}

	f := grayPlane(frame)
	t := grayPlane(template)
	tMean, tDev := meanStddev(t.pix)
	if tDev == 0 {
		return nil, fmt.Errorf("template has no contrast")
	}

	tw, th := t.w, t.h
	var hits []TemplateMatch
	for y := 0; y+th <= f.h; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x+tw <= f.w; x++ {
			score := ncc(f, t, x, y, tMean, tDev)
			if score < threshold {
				continue
			}
			bounds := image.Rect(fb.Min.X+x, fb.Min.Y+y, fb.Min.X+x+tw, fb.Min.Y+y+th)
			hits = append(hits, TemplateMatch{
				Bounds:     bounds,
				Center:     image.Point{X: bounds.Min.X + tw/2, Y: bounds.Min.Y + th/2},
				Confidence: score,
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Confidence > hits[j].Confidence })
	return suppressOverlaps(hits), nil
}

// suppressOverlaps keeps, for every cluster of intersecting hits, only the
// highest-confidence one. Input must be sorted best-first.
func suppressOverlaps(hits []TemplateMatch) []TemplateMatch {
	var kept []TemplateMatch
	for _, h := range hits {
		overlapping := false
		for _, k := range kept {
			if h.Bounds.Overlaps(k.Bounds) {
				overlapping = true
				break
			}
		}
		if !overlapping {
			kept = append(kept, h)
		}
	}
	return kept
}

// plane is a dense grayscale copy of an image, avoiding per-pixel interface
// dispatch in the correlation loop.
type plane struct {
	pix  []float64
	w, h int
}

func grayPlane(img image.Image) plane {
	b := img.Bounds()
	p := plane{pix: make([]float64, b.Dx()*b.Dy()), w: b.Dx(), h: b.Dy()}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, in [0,255].
			p.pix[i] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257.0
			i++
		}
	}
	return p
}

func meanStddev(pix []float64) (mean, dev float64) {
	for _, v := range pix {
		mean += v
	}
	mean /= float64(len(pix))
	for _, v := range pix {
		d := v - mean
		dev += d * d
	}
	return mean, math.Sqrt(dev)
}

// ncc computes the normalized cross-correlation of the template against the
// frame window at (x0, y0). Zero-variance windows score zero.
func ncc(f, t plane, x0, y0 int, tMean, tDev float64) float64 {
	var fSum float64
	for y := 0; y < t.h; y++ {
		row := (y0+y)*f.w + x0
		for x := 0; x < t.w; x++ {
			fSum += f.pix[row+x]
		}
	}
	n := float64(t.w * t.h)
	fMean := fSum / n

	var num, fVar float64
	for y := 0; y < t.h; y++ {
		row := (y0+y)*f.w + x0
		trow := y * t.w
		for x := 0; x < t.w; x++ {
			fd := f.pix[row+x] - fMean
			td := t.pix[trow+x] - tMean
			num += fd * td
			fVar += fd * fd
		}
	}
	if fVar == 0 {
		return 0
	}
	return num / (math.Sqrt(fVar) * tDev)
}
