package recognizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine recognises text with a single reused gosseract client.
type TesseractEngine struct {
	client *gosseract.Client
}

// NewTesseractEngine creates a client for the configured languages.
func NewTesseractEngine(cfg Config) (Engine, error) {
	if len(cfg.Languages) == 0 {
		return nil, errors.New("no recognition languages configured")
	}

	client := gosseract.NewClient()
	if cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(cfg.TessdataPrefix); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(cfg.Languages...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if cfg.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
		}
	}

	return &TesseractEngine{client: client}, nil
}

// Recognize returns one span per text line.
func (t *TesseractEngine) Recognize(ctx context.Context, png []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.client.SetImageFromBytes(png); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err == nil {
		spans := make([]string, 0, len(boxes))
		for _, box := range boxes {
			spans = append(spans, box.Word)
		}
		return spans, nil
	}

	text, err := t.client.Text()
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}
	return strings.Split(text, "\n"), nil
}

// Close releases the Tesseract client.
func (t *TesseractEngine) Close() error {
	return t.client.Close()
}
