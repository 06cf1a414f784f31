// File: internal/vision/vision.go

// Package vision locates on-screen text and imagery when no accessibility
// tree can answer. It wraps interchangeable OCR engines behind one interface
// and adds fuzzy text search and normalized template matching on top.
package vision

import "image"

// Word is a single recognized token with its screen geometry. Confidence is
// the engine's recognition confidence in [0,1].
type Word struct {
	Text       string
	Bounds     image.Rectangle
	Confidence float64
}

// Center returns the midpoint of the word's bounding box.
func (w Word) Center() image.Point {
	return image.Point{
		X: w.Bounds.Min.X + w.Bounds.Dx()/2,
		Y: w.Bounds.Min.Y + w.Bounds.Dy()/2,
	}
}

// TextMatch is a scored hit for a text query. Confidence is the product of
// the engine's recognition confidence and the string similarity of the hit,
// so an exact match of a confidently recognized word scores highest.
type TextMatch struct {
	Text       string
	Bounds     image.Rectangle
	Center     image.Point
	Similarity float64
	Confidence float64
}

// TemplateMatch is a region of the frame resembling a reference image.
type TemplateMatch struct {
	Bounds     image.Rectangle
	Center     image.Point
	Confidence float64
}
