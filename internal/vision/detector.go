// File: internal/vision/detector.go
package vision

import (
	"context"
	"image"
	"math"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

// maxPhraseWords bounds how many adjacent words are merged when matching
// multi-word targets like "Don't Save".
const maxPhraseWords = 4

// Detector runs an OCR engine over frames and answers fuzzy text queries.
type Detector struct {
	cfg    config.DetectionConfig
	logger *zap.Logger
	engine Engine
	jw     *metrics.JaroWinkler
}

func NewDetector(cfg config.DetectionConfig, engine Engine, logger *zap.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger.Named("detector"),
		engine: engine,
		jw:     metrics.NewJaroWinkler(),
	}
}

// ConfidenceFloor is the minimum confidence (recognition times similarity) a
// text match must reach to be an acceptable candidate.
func (d *Detector) ConfidenceFloor() float64 { return d.cfg.FuzzyThreshold }

// AllText recognizes every word in the frame.
func (d *Detector) AllText(ctx context.Context, img image.Image) ([]Word, error) {
	return d.engine.Recognize(ctx, img)
}

// FindText locates target in the frame. Matching is case-insensitive; when
// fuzzy is true, candidates within the configured similarity threshold are
// accepted, otherwise only exact (normalized) equality counts. The result is
// sorted best-first: by confidence, with near-ties going to the match whose
// center is vertically closest to the frame's center.
func (d *Detector) FindText(ctx context.Context, img image.Image, target string, fuzzy bool) ([]TextMatch, error) {
	words, err := d.engine.Recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	matches := d.Match(words, target, fuzzy)
	sortMatches(matches, d.cfg.TieEpsilon, img.Bounds())
	if len(matches) > 0 {
		best := matches[0]
		d.logger.Debug("Text located",
			zap.String("target", target),
			zap.String("matched", best.Text),
			zap.Float64("confidence", best.Confidence),
			zap.Int("candidates", len(matches)),
		)
	}
	return matches, nil
}

// Match scores already-recognized words against target without re-running
// OCR. Adjacent words on the same line are merged into phrases so multi-word
// targets can hit.
func (d *Detector) Match(words []Word, target string, fuzzy bool) []TextMatch {
	needle := normalize(target)
	if needle == "" {
		return nil
	}

	var matches []TextMatch
	for _, candidate := range phrases(words) {
		similarity := d.similarity(needle, normalize(candidate.Text))
		if similarity < 1.0 && !fuzzy {
			continue
		}
		if similarity < d.cfg.FuzzyThreshold {
			continue
		}
		matches = append(matches, TextMatch{
			Text:       candidate.Text,
			Bounds:     candidate.Bounds,
			Center:     candidate.Center(),
			Similarity: similarity,
			Confidence: candidate.Confidence * similarity,
		})
	}
	return matches
}

func (d *Detector) similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return strutil.Similarity(a, b, d.jw)
}

// sortMatches orders best-first. Confidences within epsilon of each other
// are treated as equal and broken by vertical distance to the frame center,
// since dialogs and their action buttons cluster there.
func sortMatches(matches []TextMatch, epsilon float64, bounds image.Rectangle) {
	midY := bounds.Min.Y + bounds.Dy()/2
	sort.SliceStable(matches, func(i, j int) bool {
		di := matches[i].Confidence - matches[j].Confidence
		if math.Abs(di) > epsilon {
			return di > 0
		}
		return absInt(matches[i].Center.Y-midY) < absInt(matches[j].Center.Y-midY)
	})
}

// phrases yields each word plus merged runs of up to maxPhraseWords adjacent
// words sharing a text line. A merged phrase carries the union bounds and the
// minimum confidence of its parts.
func phrases(words []Word) []Word {
	byLine := groupLines(words)
	var out []Word
	for _, line := range byLine {
		for start := range line {
			limit := start + maxPhraseWords
			if limit > len(line) {
				limit = len(line)
			}
			merged := line[start]
			out = append(out, merged)
			for end := start + 1; end < limit; end++ {
				next := line[end]
				merged = Word{
					Text:       merged.Text + " " + next.Text,
					Bounds:     merged.Bounds.Union(next.Bounds),
					Confidence: math.Min(merged.Confidence, next.Confidence),
				}
				out = append(out, merged)
			}
		}
	}
	return out
}

// groupLines buckets words into visual lines by vertical overlap, ordered
// left to right within each line.
func groupLines(words []Word) [][]Word {
	sorted := make([]Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Bounds.Min.Y != sorted[j].Bounds.Min.Y {
			return sorted[i].Bounds.Min.Y < sorted[j].Bounds.Min.Y
		}
		return sorted[i].Bounds.Min.X < sorted[j].Bounds.Min.X
	})

	var lines [][]Word
	for _, w := range sorted {
		placed := false
		for i := range lines {
			last := lines[i][len(lines[i])-1]
			if verticalOverlap(last.Bounds, w.Bounds) {
				lines[i] = append(lines[i], w)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, []Word{w})
		}
	}
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool {
			return line[i].Bounds.Min.X < line[j].Bounds.Min.X
		})
	}
	return lines
}

func verticalOverlap(a, b image.Rectangle) bool {
	top := maxInt(a.Min.Y, b.Min.Y)
	bottom := minInt(a.Max.Y, b.Max.Y)
	overlap := bottom - top
	smaller := minInt(a.Dy(), b.Dy())
	return smaller > 0 && float64(overlap) >= 0.5*float64(smaller)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
