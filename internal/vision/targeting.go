// File: internal/vision/targeting.go
package vision

import (
	"image"
	"sort"
	"strings"
)

// Relation classifies how a recognized string relates to the requested
// target, from strongest to weakest.
type Relation int

const (
	RelationNone Relation = iota
	RelationPartial
	RelationSubstring
	RelationWord
	RelationPrefix
	RelationExact
)

// Base scores per relation class. Exact and whole-word hits additionally earn
// a brevity bonus so "OK" beats "OK to continue" for the target "OK".
const (
	scoreExact     = 1000.0
	scorePrefix    = 750.0
	scoreWord      = 650.0
	scoreSubstring = 450.0
	scorePartial   = 350.0

	lengthBonusScale   = 500.0
	lengthPenaltySlack = 5
	lengthPenaltyRate  = 20.0
)

// SpatialHint is a positional qualifier extracted from a target description,
// e.g. "top" in "top Save button".
type SpatialHint string

const (
	HintNone   SpatialHint = ""
	HintTop    SpatialHint = "top"
	HintBottom SpatialHint = "bottom"
	HintLeft   SpatialHint = "left"
	HintRight  SpatialHint = "right"
	HintCenter SpatialHint = "center"
	HintFirst  SpatialHint = "first"
	HintLast   SpatialHint = "last"
)

// ExtractHint splits a leading spatial qualifier off a target description.
// "top Save" yields (HintTop, "Save"); descriptions without a qualifier come
// back unchanged.
func ExtractHint(target string) (SpatialHint, string) {
	fields := strings.Fields(target)
	if len(fields) < 2 {
		return HintNone, target
	}
	switch h := SpatialHint(strings.ToLower(fields[0])); h {
	case HintTop, HintBottom, HintLeft, HintRight, HintCenter, HintFirst, HintLast:
		return h, strings.Join(fields[1:], " ")
	}
	return HintNone, target
}

// Classify determines the relation of candidate text to the target. Both are
// compared after normalization.
func Classify(candidate, target string) Relation {
	c, t := normalize(candidate), normalize(target)
	if c == "" || t == "" {
		return RelationNone
	}
	switch {
	case c == t:
		return RelationExact
	case strings.HasPrefix(c, t):
		return RelationPrefix
	case containsWord(c, t):
		return RelationWord
	case strings.Contains(c, t):
		return RelationSubstring
	case strings.Contains(t, c):
		return RelationPartial
	}
	return RelationNone
}

func containsWord(haystack, needle string) bool {
	for _, w := range strings.Fields(haystack) {
		if w == needle {
			return true
		}
	}
	return false
}

// Score rates a candidate string for the target. Stronger relation classes
// dominate; within a class, shorter candidates win via the brevity bonus and
// candidates much longer than the target are penalized.
func Score(candidate, target string) float64 {
	relation := Classify(candidate, target)
	var score float64
	switch relation {
	case RelationExact:
		score = scoreExact
	case RelationPrefix:
		score = scorePrefix
	case RelationWord:
		score = scoreWord
	case RelationSubstring:
		score = scoreSubstring
	case RelationPartial:
		score = scorePartial
	default:
		return 0
	}

	if relation == RelationExact || relation == RelationWord {
		score += lengthBonusScale / float64(len(normalize(candidate))+1)
	}
	if delta := len(normalize(candidate)) - len(normalize(target)); delta > lengthPenaltySlack {
		score -= float64(delta) * lengthPenaltyRate
	}
	return score
}

// BestMatch picks the strongest hit for a possibly hint-qualified target.
// Spatial hints first narrow the candidate set to the relevant screen region
// (or reading-order position), then relation scoring ranks what remains.
// Equal relation scores keep the input order, so matches sorted by the
// detector inherit its confidence and center-proximity tie-breaking.
// Returns false when nothing relates to the target at all.
func BestMatch(matches []TextMatch, target string, bounds image.Rectangle) (TextMatch, bool) {
	hint, text := ExtractHint(target)

	type scored struct {
		match TextMatch
		score float64
	}
	var candidates []scored
	for _, m := range matches {
		if s := Score(m.Text, text); s > 0 {
			candidates = append(candidates, scored{match: m, score: s})
		}
	}
	if len(candidates) == 0 {
		return TextMatch{}, false
	}

	candidates = applyHint(candidates, hint, bounds, func(s scored) TextMatch { return s.match })

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	return candidates[0].match, true
}

// applyHint narrows candidates by screen position. Regional hints keep the
// matching half (or middle third); ordinal hints reduce to a single candidate
// in reading order. An empty narrowing falls back to the full set.
func applyHint[T any](candidates []T, hint SpatialHint, bounds image.Rectangle, matchOf func(T) TextMatch) []T {
	if hint == HintNone || len(candidates) == 0 {
		return candidates
	}

	switch hint {
	case HintFirst, HintLast:
		ordered := make([]T, len(candidates))
		copy(ordered, candidates)
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := matchOf(ordered[i]).Center, matchOf(ordered[j]).Center
			if a.Y != b.Y {
				return a.Y < b.Y
			}
			return a.X < b.X
		})
		if hint == HintFirst {
			return ordered[:1]
		}
		return ordered[len(ordered)-1:]
	}

	midX := bounds.Min.X + bounds.Dx()/2
	midY := bounds.Min.Y + bounds.Dy()/2
	thirdW, thirdH := bounds.Dx()/3, bounds.Dy()/3

	inRegion := func(p image.Point) bool {
		switch hint {
		case HintTop:
			return p.Y < midY
		case HintBottom:
			return p.Y >= midY
		case HintLeft:
			return p.X < midX
		case HintRight:
			return p.X >= midX
		case HintCenter:
			// Middle third of the frame on both axes.
			return absInt(p.X-midX) <= thirdW/2 && absInt(p.Y-midY) <= thirdH/2
		}
		return true
	}

	var kept []T
	for _, c := range candidates {
		if inRegion(matchOf(c).Center) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}
