// Package models locates detection models, their class labels and the
// tesseract language data on disk.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Default file names inside a models directory.
const (
	DetectorModel  = "detector.onnx"
	DetectorLabels = "labels.yaml"
	TessdataDir    = "tessdata"
)

// Model type categories for the organized directory layout.
const (
	TypeDetection   = "detection"
	TypeRecognition = "recognition"
)

// DefaultModelsDir is used when nothing else is configured.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "DETSCAN_MODELS_DIR"

// ProjectRoot walks up from the working directory to the first go.mod.
func ProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root (go.mod not found)")
		}
		dir = parent
	}
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. DETSCAN_MODELS_DIR, 3. project root + models.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if root, err := ProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath returns <models>/<modelType>/<filename> when it exists and
// the flat <models>/<filename> otherwise.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	base := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(base, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(base, filename)
}

// Resolve maps a configured path to a file. Empty selects the default file
// name, absolute paths and relative paths that exist are used as they are,
// and any other relative path is looked up in the models directory.
func Resolve(modelsDir, modelType, path, defaultName string) string {
	switch {
	case path == "":
		return ResolveModelPath(modelsDir, modelType, defaultName)
	case filepath.IsAbs(path):
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ResolveModelPath(modelsDir, modelType, path)
}

// GetDetectorModelPath resolves the detection model.
func GetDetectorModelPath(modelsDir, path string) string {
	return Resolve(modelsDir, TypeDetection, path, DetectorModel)
}

// GetLabelsPath resolves the class labels file of the detection model.
func GetLabelsPath(modelsDir, path string) string {
	return Resolve(modelsDir, TypeDetection, path, DetectorLabels)
}

// GetTessdataDir returns the tesseract data directory bundled with the
// models, or "" to use the system installation.
func GetTessdataDir(modelsDir string) string {
	dir := ResolveModelPath(modelsDir, TypeRecognition, TessdataDir)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}

// ValidateModelExists checks that a model file exists.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}
