// Package recognizer reads text from cropped image regions.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
)

// Config holds configuration for text extraction.
type Config struct {
	Languages      []string // Tesseract language codes, at least two
	TessdataPrefix string   // directory holding *.traineddata, empty for the system default
	PageSegMode    int      // Tesseract page segmentation mode
	Contrast       float64  // contrast change in percent (-100..100) applied before recognition
	Upscale        int      // crops shorter than this many pixels are enlarged to it, 0 disables
}

// DefaultConfig returns the default extraction configuration.
func DefaultConfig() Config {
	return Config{
		Languages:   []string{"eng", "kor"},
		PageSegMode: 6,
		Contrast:    20,
		Upscale:     32,
	}
}

// Engine recognises text lines in an encoded PNG image. Spans are returned
// in reading order.
type Engine interface {
	Recognize(ctx context.Context, png []byte) ([]string, error)
	Close() error
}

// EngineFactory creates an Engine. It is called on first use.
type EngineFactory func(cfg Config) (Engine, error)

// Extractor lazily creates the engine and serialises access to it.
type Extractor struct {
	config  Config
	factory EngineFactory

	mu     sync.Mutex
	engine Engine
}

// NewExtractor creates an extractor. A nil factory selects Tesseract.
func NewExtractor(cfg Config, factory EngineFactory) *Extractor {
	if factory == nil {
		factory = NewTesseractEngine
	}
	return &Extractor{config: cfg, factory: factory}
}

// Loaded reports whether the engine has been created.
func (e *Extractor) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.engine != nil
}

// Extract returns the text found in region, joined with single spaces.
// It never fails: any problem yields "" and a warning.
func (e *Extractor) Extract(ctx context.Context, region image.Image) (text string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Text extraction panicked", "panic", r)
			extractionFailures.WithLabelValues("panic").Inc()
			text = ""
		}
	}()

	spans, err := e.recognize(ctx, region)
	if err != nil {
		slog.Warn("Text extraction failed", "error", err)
		extractionFailures.WithLabelValues("error").Inc()
		return ""
	}
	return JoinSpans(spans)
}

func (e *Extractor) recognize(ctx context.Context, region image.Image) ([]string, error) {
	if region == nil {
		return nil, errors.New("region is nil")
	}
	b := region.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("region is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := encodeForRecognition(region, e.config)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine == nil {
		start := time.Now()
		engine, err := e.factory(e.config)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize text engine: %w", err)
		}
		e.engine = engine
		slog.Info("Text engine initialized", "languages", e.config.Languages, "duration", time.Since(start))
	}

	return e.engine.Recognize(ctx, data)
}

// Close releases the engine if it was created.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine == nil {
		return nil
	}
	err := e.engine.Close()
	e.engine = nil
	return err
}
