// Package classify holds the per-frame safety signals: the external ML image
// classifier adapter, the pixel-level skin-ratio heuristic, and the optional
// antivirus pre-scan.
package classify

import (
	"context"
	"image"
)

// Prediction is one class probability from the image classifier.
type Prediction struct {
	ClassName   string  `json:"className"`
	Probability float64 `json:"probability"`
}

// Classifier scores a single decoded frame.
type Classifier interface {
	ClassifyFrame(ctx context.Context, frame image.Image) ([]Prediction, error)
}

// MalwareScanner checks a raw file before any decoding happens. A nil error
// means clean.
type MalwareScanner interface {
	Scan(ctx context.Context, path string) error
}
