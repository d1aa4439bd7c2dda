package onnx

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/detscan/internal/models"
	"github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides the shared library lookup.
const LibraryPathEnv = "ONNXRUNTIME_LIB_PATH"

var envMu sync.Mutex

// libraryName returns the shared library file name for the current OS.
func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// LibraryCandidates lists the shared library locations tried in order: the
// environment override, install prefixes (GPU builds first when useGPU), and
// an onnxruntime/ directory next to go.mod.
func LibraryCandidates(useGPU bool) []string {
	var candidates []string
	if p := os.Getenv(LibraryPathEnv); p != "" {
		candidates = append(candidates, p)
	}
	lib, err := libraryName()
	if err != nil {
		return candidates
	}

	prefixes := []string{"/usr/local/lib", "/usr/lib", "/opt/onnxruntime/cpu/lib"}
	if useGPU {
		prefixes = append([]string{"/opt/onnxruntime/gpu/lib"}, prefixes...)
	}
	for _, dir := range prefixes {
		candidates = append(candidates, filepath.Join(dir, lib))
	}

	if root, err := models.ProjectRoot(); err == nil {
		if useGPU {
			candidates = append(candidates, filepath.Join(root, "onnxruntime", "gpu", "lib", lib))
		}
		candidates = append(candidates, filepath.Join(root, "onnxruntime", "lib", lib))
	}
	return candidates
}

// SetONNXLibraryPath points onnxruntime_go at the first library that exists.
func SetONNXLibraryPath(useGPU bool) error {
	candidates := LibraryCandidates(useGPU)
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			onnxruntime_go.SetSharedLibraryPath(path)
			return nil
		}
	}
	return fmt.Errorf("ONNX Runtime library not found (tried %d locations, set %s)", len(candidates), LibraryPathEnv)
}

// EnsureEnvironment loads the shared library and initializes the runtime once
// per process. The environment is never destroyed while sessions may exist.
func EnsureEnvironment(useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	if err := SetONNXLibraryPath(useGPU); err != nil {
		return err
	}
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}
