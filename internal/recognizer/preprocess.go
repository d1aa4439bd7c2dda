package recognizer

import (
	"bytes"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
)

// preprocess converts a crop to grayscale, adjusts contrast and enlarges
// small crops so Tesseract has enough pixels per glyph.
func preprocess(img image.Image, cfg Config) image.Image {
	out := image.Image(effect.Grayscale(img))

	if cfg.Contrast != 0 {
		out = adjust.Contrast(out, clampContrast(cfg.Contrast)/100)
	}

	if h := out.Bounds().Dy(); cfg.Upscale > 0 && h < cfg.Upscale {
		out = imaging.Resize(out, 0, cfg.Upscale, imaging.Lanczos)
	}
	return out
}

func clampContrast(v float64) float64 {
	if v < -100 {
		return -100
	}
	if v > 100 {
		return 100
	}
	return v
}

// encodeForRecognition preprocesses img and encodes it as PNG.
func encodeForRecognition(img image.Image, cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, preprocess(img, cfg), imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode region: %w", err)
	}
	return buf.Bytes(), nil
}
