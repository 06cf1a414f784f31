// File: internal/vision/targeting_test.go
package vision

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		candidate, target string
		want              Relation
	}{
		{"Save", "Save", RelationExact},
		{"save", "SAVE", RelationExact},
		{"Save As", "Save", RelationPrefix},
		{"Always Save", "Save", RelationWord},
		{"Autosave", "save", RelationSubstring},
		{"Sav", "Save", RelationPartial},
		{"Quit", "Save", RelationNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.candidate, tc.target),
			"Classify(%q, %q)", tc.candidate, tc.target)
	}
}

func TestScoreOrdering(t *testing.T) {
	target := "Save"
	exact := Score("Save", target)
	prefix := Score("Save As", target)
	word := Score("Always Save", target)
	substring := Score("Autosave", target)
	partial := Score("Sav", target)

	assert.Greater(t, exact, prefix)
	assert.Greater(t, prefix, word)
	assert.Greater(t, word, substring)
	assert.Greater(t, substring, partial)
	assert.Greater(t, partial, 0.0)
	assert.Zero(t, Score("Quit", target))
}

func TestScoreBrevityBonus(t *testing.T) {
	// Whole-word hits in shorter strings must beat the same hit buried in
	// a longer string.
	assert.Greater(t, Score("OK", "OK"), Score("OK to continue", "OK"))
}

func TestScoreLengthPenalty(t *testing.T) {
	short := Score("Save file", "Save")
	long := Score("Save the current document before closing", "Save")
	assert.Greater(t, short, long)
}

func TestExtractHint(t *testing.T) {
	hint, rest := ExtractHint("top Save")
	assert.Equal(t, HintTop, hint)
	assert.Equal(t, "Save", rest)

	hint, rest = ExtractHint("Don't Save")
	assert.Equal(t, HintNone, hint)
	assert.Equal(t, "Don't Save", rest)

	hint, rest = ExtractHint("last item")
	assert.Equal(t, HintLast, hint)
	assert.Equal(t, "item", rest)

	// A bare qualifier is a target, not a hint.
	hint, rest = ExtractHint("center")
	assert.Equal(t, HintNone, hint)
	assert.Equal(t, "center", rest)
}

func textMatch(text string, x, y int, conf float64) TextMatch {
	return TextMatch{
		Text:       text,
		Bounds:     image.Rect(x, y, x+40, y+16),
		Center:     image.Point{X: x + 20, Y: y + 8},
		Similarity: 1.0,
		Confidence: conf,
	}
}

func TestBestMatchPrefersExactRelation(t *testing.T) {
	matches := []TextMatch{
		textMatch("Save As", 100, 100, 0.99),
		textMatch("Save", 100, 200, 0.9),
	}
	best, ok := BestMatch(matches, "Save", image.Rect(0, 0, 800, 600))
	require.True(t, ok)
	assert.Equal(t, "Save", best.Text)
}

func TestBestMatchKeepsInputOrderOnEqualScores(t *testing.T) {
	// The detector sorts its matches before they reach BestMatch; equal
	// relation scores must not reshuffle that order toward raw confidence.
	matches := []TextMatch{
		textMatch("Save", 100, 292, 0.920),
		textMatch("Save", 100, 92, 0.935),
	}
	best, ok := BestMatch(matches, "Save", image.Rect(0, 0, 800, 600))
	require.True(t, ok)
	assert.Equal(t, 300, best.Center.Y)
}

func TestBestMatchAppliesRegionalHint(t *testing.T) {
	matches := []TextMatch{
		textMatch("Save", 100, 50, 0.95),  // top half
		textMatch("Save", 100, 500, 0.95), // bottom half
	}
	bounds := image.Rect(0, 0, 800, 600)

	best, ok := BestMatch(matches, "bottom Save", bounds)
	require.True(t, ok)
	assert.Equal(t, 508, best.Center.Y)

	best, ok = BestMatch(matches, "top Save", bounds)
	require.True(t, ok)
	assert.Equal(t, 58, best.Center.Y)
}

func TestBestMatchOrdinalHints(t *testing.T) {
	matches := []TextMatch{
		textMatch("item", 100, 300, 0.9),
		textMatch("item", 100, 100, 0.9),
		textMatch("item", 100, 500, 0.9),
	}
	bounds := image.Rect(0, 0, 800, 600)

	best, ok := BestMatch(matches, "first item", bounds)
	require.True(t, ok)
	assert.Equal(t, 108, best.Center.Y)

	best, ok = BestMatch(matches, "last item", bounds)
	require.True(t, ok)
	assert.Equal(t, 508, best.Center.Y)
}

func TestBestMatchHintFallsBackWhenRegionEmpty(t *testing.T) {
	matches := []TextMatch{textMatch("Save", 100, 500, 0.9)} // bottom half only
	best, ok := BestMatch(matches, "top Save", image.Rect(0, 0, 800, 600))
	require.True(t, ok)
	assert.Equal(t, "Save", best.Text)
}

func TestBestMatchNoRelation(t *testing.T) {
	matches := []TextMatch{textMatch("Quit", 100, 100, 0.99)}
	_, ok := BestMatch(matches, "Save", image.Rect(0, 0, 800, 600))
	assert.False(t, ok)
}
