package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// Adapter lazily loads the configured Model and serialises access to it.
type Adapter struct {
	config  Config
	factory ModelFactory

	mu    sync.Mutex
	model Model
}

// NewAdapter creates an adapter. Nothing is loaded until the first Detect.
// A nil factory selects the backend named in cfg.Backend.
func NewAdapter(cfg Config, factory ModelFactory) *Adapter {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Adapter{config: cfg, factory: factory}
}

// DefaultFactory builds the backend named in cfg.Backend.
func DefaultFactory(cfg Config) (Model, error) {
	switch cfg.Backend {
	case BackendONNX, "":
		m, err := NewONNXModel(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	case BackendHTTP:
		m, err := NewHTTPModel(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

// GetConfig returns a copy of the adapter configuration.
func (a *Adapter) GetConfig() Config {
	return a.config
}

// Loaded reports whether the backend has been initialised.
func (a *Adapter) Loaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model != nil
}

// Detect decodes the image at imagePath and runs detection on it.
func (a *Adapter) Detect(ctx context.Context, imagePath string) ([]Detection, error) {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", imagePath, err)
	}
	return a.DetectImage(ctx, img)
}

// DetectImage runs detection on a decoded image. Boxes are clamped to the
// image bounds and ordered so that X1<=X2 and Y1<=Y2.
func (a *Adapter) DetectImage(ctx context.Context, img image.Image) ([]Detection, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureLoaded(); err != nil {
		return nil, err
	}

	start := time.Now()
	dets, err := a.model.Predict(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	bounds := img.Bounds()
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		d.Box = clampBox(d.Box, float64(bounds.Dx()), float64(bounds.Dy()))
		out = append(out, d)
	}

	slog.Debug("Detection finished",
		"backend", a.config.Backend,
		"detections", len(out),
		"duration", time.Since(start))
	return out, nil
}

// Close releases the backend if it was loaded.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.model == nil {
		return nil
	}
	err := a.model.Close()
	a.model = nil
	return err
}

// ensureLoaded must be called with a.mu held.
func (a *Adapter) ensureLoaded() error {
	if a.model != nil {
		return nil
	}

	slog.Debug("Initializing detector",
		"backend", a.config.Backend,
		"model_path", a.config.ModelPath,
		"gpu_enabled", a.config.GPU.UseGPU)

	model, err := a.factory(a.config)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	a.model = model
	slog.Info("Detector initialized", "backend", a.config.Backend)
	return nil
}

func clampBox(b Box, w, h float64) Box {
	if b.X2 < b.X1 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y2 < b.Y1 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	b.X1 = clamp(b.X1, 0, w)
	b.X2 = clamp(b.X2, 0, w)
	b.Y1 = clamp(b.Y1, 0, h)
	b.Y2 = clamp(b.Y2, 0, h)
	return b
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
