// File: internal/vision/engine.go
package vision

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"
)

// Engine recognizes text in a frame. Engines must be safe for concurrent
// use; each Recognize call is independent.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) ([]Word, error)
	Name() string
	Available() bool
}

// NewEngine builds the engine named in configuration. The name "auto" walks
// the known engines in preference order and picks the first available one.
func NewEngine(name string, logger *zap.Logger) (Engine, error) {
	switch name {
	case "tesseract":
		return newTesseractEngine(logger), nil
	case "auto", "":
		for _, candidate := range []Engine{newTesseractEngine(logger)} {
			if candidate.Available() {
				logger.Info("OCR engine selected", zap.String("engine", candidate.Name()))
				return candidate, nil
			}
		}
		return nil, fmt.Errorf("no OCR engine available on this host")
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", name)
	}
}
