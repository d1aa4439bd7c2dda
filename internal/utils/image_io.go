// Package utils validates and inspects uploaded image data.
package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SupportedImageExtensions lists the file extensions accepted for analysis.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff", ".webp"}

// ImageProcessingError represents errors that can occur while inspecting an image.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error {
	return e.Err
}

// ImageConstraints bounds the dimensions of an accepted image.
type ImageConstraints struct {
	MinWidth  int
	MinHeight int
	MaxWidth  int
	MaxHeight int
}

// DefaultImageConstraints returns the limits applied to uploads.
func DefaultImageConstraints() ImageConstraints {
	return ImageConstraints{
		MinWidth:  1,
		MinHeight: 1,
		MaxWidth:  16384,
		MaxHeight: 16384,
	}
}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ImageMetadata captures lightweight format and pixel information.
type ImageMetadata struct {
	Format    string
	SizeBytes int64
	Width     int
	Height    int
}

// InspectImage decodes only the header of data and reports its format and size.
func InspectImage(data []byte) (ImageMetadata, error) {
	if len(data) == 0 {
		return ImageMetadata{}, &ImageProcessingError{Operation: "inspect", Err: errors.New("empty image data")}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: err}
	}
	return ImageMetadata{
		Format:    format,
		SizeBytes: int64(len(data)),
		Width:     cfg.Width,
		Height:    cfg.Height,
	}, nil
}

// ReadImageFile reads an image file from disk and inspects it.
func ReadImageFile(path string) ([]byte, ImageMetadata, error) {
	if path == "" {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a user-provided image path is expected
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: err}
	}
	meta, err := InspectImage(data)
	if err != nil {
		return nil, ImageMetadata{}, err
	}
	return data, meta, nil
}

// ValidateImageConstraints checks dimensions against the provided constraints.
func ValidateImageConstraints(meta ImageMetadata, constraints ImageConstraints) error {
	w, h := meta.Width, meta.Height
	if w < constraints.MinWidth || h < constraints.MinHeight {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("image too small: %dx%d < %dx%d", w, h, constraints.MinWidth, constraints.MinHeight),
		}
	}
	if (constraints.MaxWidth > 0 && w > constraints.MaxWidth) || (constraints.MaxHeight > 0 && h > constraints.MaxHeight) {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("image too large: %dx%d > %dx%d", w, h, constraints.MaxWidth, constraints.MaxHeight),
		}
	}
	return nil
}
