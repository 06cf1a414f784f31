// File: internal/oracle/parse.go
package oracle

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type guessPayload struct {
	X          *int     `json:"x"`
	Y          *int     `json:"y"`
	Confidence *float64 `json:"confidence"`
}

// ParseGuess extracts a coordinate from a model reply. The contract asks for
// a JSON object, but models drift, so a bare "x,y" pair is accepted too. A
// well-formed refusal (negative coordinates) yields (nil, nil); anything
// else unusable yields ErrUnparseable.
func ParseGuess(reply string) (*Guess, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if g, ok := parseJSONGuess(text); ok {
		return normalizeGuess(g)
	}
	if g, ok := parsePairGuess(text); ok {
		return normalizeGuess(g)
	}
	return nil, ErrUnparseable
}

func parseJSONGuess(text string) (Guess, bool) {
	// Tolerate prose around the object by slicing the outermost braces.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Guess{}, false
	}

	var payload guessPayload
	if err := json.UnmarshalFromString(text[start:end+1], &payload); err != nil {
		return Guess{}, false
	}
	if payload.X == nil || payload.Y == nil {
		return Guess{}, false
	}

	g := Guess{X: *payload.X, Y: *payload.Y, Confidence: 1.0}
	if payload.Confidence != nil {
		g.Confidence = *payload.Confidence
	}
	return g, true
}

// parsePairGuess handles the degenerate "312,487" reply shape.
func parsePairGuess(text string) (Guess, bool) {
	parts := strings.SplitN(text, ",", 2)
	if len(parts) != 2 {
		return Guess{}, false
	}
	x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errX != nil || errY != nil {
		return Guess{}, false
	}
	return Guess{X: x, Y: y, Confidence: 1.0}, true
}

func normalizeGuess(g Guess) (*Guess, error) {
	if g.X < 0 || g.Y < 0 {
		return nil, nil // explicit "not visible"
	}
	if g.Confidence < 0 {
		g.Confidence = 0
	}
	if g.Confidence > 1 {
		g.Confidence = 1
	}
	return &g, nil
}
