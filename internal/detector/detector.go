// Package detector finds objects in images. The Adapter owns a single Model
// backend which is created on first use and shared by all callers.
package detector

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/MeKo-Tech/detscan/internal/onnx"
)

// Supported backends.
const (
	BackendONNX = "onnx"
	BackendHTTP = "http"
)

// ErrModelUnavailable is returned when the detection backend cannot be loaded or reached.
var ErrModelUnavailable = errors.New("detection model unavailable")

// Config holds configuration for the object detector.
type Config struct {
	Backend        string         // "onnx" or "http"
	ModelPath      string         // Path to ONNX detection model
	LabelsPath     string         // YAML class names for the ONNX model
	Endpoint       string         // Inference URL for the http backend
	ConfThreshold  float32        // Minimum class score (default: 0.25)
	IOUThreshold   float64        // IoU threshold for class-aware NMS (default: 0.45)
	InputSize      int            // Square model input size (default: 640)
	NumThreads     int            // Number of CPU threads (default: 0 for auto)
	RequestTimeout time.Duration  // Timeout of one http backend request
	GPU            onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns a default detector configuration.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendONNX,
		ModelPath:      "models/detector.onnx",
		LabelsPath:     "models/labels.yaml",
		ConfThreshold:  0.25,
		IOUThreshold:   0.45,
		InputSize:      640,
		RequestTimeout: 30 * time.Second,
		GPU:            onnx.DefaultGPUConfig(),
	}
}

// Box is an axis aligned box in source image pixels.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Width returns X2-X1.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns Y2-Y1.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detection is one detected object.
type Detection struct {
	Label      string
	Confidence float64
	Box        Box
}

// Model is a loaded detection backend.
type Model interface {
	Predict(ctx context.Context, img image.Image) ([]Detection, error)
	Close() error
}

// ModelFactory loads a Model. It is called at most once per successful Adapter.
type ModelFactory func(cfg Config) (Model, error)
