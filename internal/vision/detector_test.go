// File: internal/vision/detector_test.go
package vision

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/config"
)

// fakeEngine serves a canned word list.
type fakeEngine struct {
	words []Word
	err   error
	calls int
}

func (f *fakeEngine) Recognize(context.Context, image.Image) ([]Word, error) {
	f.calls++
	return f.words, f.err
}
func (f *fakeEngine) Name() string    { return "fake" }
func (f *fakeEngine) Available() bool { return true }

func detectionConfig() config.DetectionConfig {
	return config.DetectionConfig{
		FuzzyThreshold:    0.85,
		TieEpsilon:        0.02,
		TemplateThreshold: 0.8,
	}
}

func newTestDetector(words []Word) (*Detector, *fakeEngine) {
	engine := &fakeEngine{words: words}
	return NewDetector(detectionConfig(), engine, zap.NewNop()), engine
}

func frame(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func word(text string, x, y int, conf float64) Word {
	return Word{Text: text, Bounds: image.Rect(x, y, x+40, y+16), Confidence: conf}
}

func TestFindTextExactMatch(t *testing.T) {
	detector, engine := newTestDetector([]Word{
		word("Cancel", 100, 300, 0.97),
		word("Save", 200, 300, 0.93),
	})

	matches, err := detector.FindText(context.Background(), frame(800, 600), "Save", false)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	assert.Equal(t, "Save", matches[0].Text)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
	assert.InDelta(t, 0.93, matches[0].Confidence, 1e-9, "confidence is recognition times similarity")
	assert.Equal(t, 1, engine.calls)
}

func TestFindTextCaseInsensitive(t *testing.T) {
	detector, _ := newTestDetector([]Word{word("SAVE", 200, 300, 0.9)})

	matches, err := detector.FindText(context.Background(), frame(800, 600), "save", false)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestFindTextFuzzyThreshold(t *testing.T) {
	detector, _ := newTestDetector([]Word{
		word("Sav3", 200, 300, 0.9), // plausible OCR slip, similar enough
		word("Quit", 300, 300, 0.9), // unrelated, must stay out
	})

	matches, err := detector.FindText(context.Background(), frame(800, 600), "Save", true)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Sav3", matches[0].Text)
	assert.Less(t, matches[0].Similarity, 1.0)
	assert.GreaterOrEqual(t, matches[0].Similarity, 0.85)
	assert.InDelta(t, 0.9*matches[0].Similarity, matches[0].Confidence, 1e-9)
}

func TestFindTextExactModeRejectsNearMisses(t *testing.T) {
	detector, _ := newTestDetector([]Word{word("Sav3", 200, 300, 0.99)})

	matches, err := detector.FindText(context.Background(), frame(800, 600), "Save", false)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindTextTieBreaksTowardVerticalCenter(t *testing.T) {
	// Two equally confident hits; the one nearer the vertical midline of
	// the frame (y=300 for a 600-high frame) must come first.
	detector, _ := newTestDetector([]Word{
		word("Save", 200, 40, 0.93),
		word("Save", 200, 280, 0.93),
	})

	matches, err := detector.FindText(context.Background(), frame(800, 600), "Save", true)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 288, matches[0].Center.Y)
	assert.Equal(t, 48, matches[1].Center.Y)
}

func TestFindTextClearWinnerIgnoresPosition(t *testing.T) {
	detector, _ := newTestDetector([]Word{
		word("Save", 200, 40, 0.99),  // far from center but clearly better
		word("Save", 200, 280, 0.90), // near center
	})

	matches, err := detector.FindText(context.Background(), frame(800, 600), "Save", true)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 48, matches[0].Center.Y)
}

func TestFindTextMergesAdjacentWords(t *testing.T) {
	detector, _ := newTestDetector([]Word{
		{Text: "Don't", Bounds: image.Rect(100, 300, 140, 316), Confidence: 0.95},
		{Text: "Save", Bounds: image.Rect(146, 300, 180, 316), Confidence: 0.9},
	})

	matches, err := detector.FindText(context.Background(), frame(800, 600), "Don't Save", false)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Don't Save", matches[0].Text)
	assert.Equal(t, image.Rect(100, 300, 180, 316), matches[0].Bounds)
	assert.InDelta(t, 0.9, matches[0].Confidence, 1e-9, "merged confidence is the weakest part")
}

func TestParseTSV(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"1\t1\t0\t0\t0\t0\t0\t0\t800\t600\t-1\t\n" +
		"5\t1\t1\t1\t1\t1\t200\t300\t40\t16\t93.2\tSave\n" +
		"5\t1\t1\t1\t1\t2\t260\t300\t50\t16\t31.0\tgarbled\n" +
		"5\t1\t1\t1\t1\t3\t320\t300\t10\t16\t88.0\t \n"

	words := parseTSV(tsv)
	require.Len(t, words, 1, "layout rows, low-confidence and blank tokens are dropped")
	assert.Equal(t, "Save", words[0].Text)
	assert.Equal(t, image.Rect(200, 300, 240, 316), words[0].Bounds)
	assert.InDelta(t, 0.932, words[0].Confidence, 1e-9)
	assert.Equal(t, image.Point{X: 220, Y: 308}, words[0].Center())
}

func TestMatchTemplateFindsEmbeddedPatch(t *testing.T) {
	// A distinctive checkerboard patch stamped into an otherwise flat frame.
	patch := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := color.RGBA{A: 255}
			if (x+y)%2 == 0 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			patch.SetRGBA(x, y, c)
		}
	}
	fr := frame(64, 64)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			fr.SetRGBA(24+x, 32+y, patch.RGBAAt(x, y))
		}
	}

	hits, err := MatchTemplate(context.Background(), fr, patch, 0.8)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, image.Point{X: 28, Y: 36}, hits[0].Center)
	assert.InDelta(t, 1.0, hits[0].Confidence, 1e-6)

	// Overlap suppression: the sorted hit list must not contain two
	// intersecting regions.
	for i := 1; i < len(hits); i++ {
		assert.False(t, hits[0].Bounds.Overlaps(hits[i].Bounds))
	}
}

func TestMatchTemplateRejectsOversizedTemplate(t *testing.T) {
	_, err := MatchTemplate(context.Background(), frame(8, 8), frame(16, 16), 0.8)
	require.Error(t, err)
}

func TestMatchTemplateRejectsFlatTemplate(t *testing.T) {
	_, err := MatchTemplate(context.Background(), frame(64, 64), frame(8, 8), 0.8)
	require.Error(t, err)
}
