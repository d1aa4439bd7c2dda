package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/batch"
	"github.com/MeKo-Tech/detscan/internal/detector"
	"github.com/MeKo-Tech/detscan/internal/models"
	"github.com/MeKo-Tech/detscan/internal/recognizer"
	"github.com/MeKo-Tech/detscan/internal/store"
	"github.com/MeKo-Tech/detscan/internal/telemetry"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	det := detector.DefaultConfig()
	rec := recognizer.DefaultConfig()
	st := store.DefaultConfig()
	art := artifacts.DefaultConfig()

	return Config{
		LogLevel: "info",
		Verbose:  false,
		Detector: DetectorConfig{
			Backend:        det.Backend,
			ModelPath:      "",
			LabelsPath:     "",
			Endpoint:       det.Endpoint,
			ConfThreshold:  float64(det.ConfThreshold),
			IOUThreshold:   det.IOUThreshold,
			InputSize:      det.InputSize,
			NumThreads:     det.NumThreads,
			RequestTimeout: int(det.RequestTimeout / time.Second),
			GPU: GPUConfig{
				Enabled:     false,
				Device:      0,
				MemoryLimit: "auto",
			},
		},
		Recognizer: RecognizerConfig{
			Languages:      rec.Languages,
			TessdataPrefix: rec.TessdataPrefix,
			PageSegMode:    rec.PageSegMode,
			Contrast:       rec.Contrast,
			Upscale:        rec.Upscale,
		},
		Store: StoreConfig{
			Driver:      st.Driver,
			DSN:         st.DSN,
			AutoMigrate: st.AutoMigrate,
			LogLevel:    st.LogLevel,
		},
		Artifacts: ArtifactsConfig{
			MediaRoot:   art.MediaRoot,
			ResultsRoot: art.ResultsRoot,
			JPEGQuality: art.JPEGQuality,
			FontSize:    art.FontSize,
			BoxColor:    art.BoxColor,
			TextColor:   art.TextColor,
			Mirror: MirrorConfig{
				Region: "us-east-1",
				Prefix: "results",
			},
		},
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8000,
			CORSOrigin:        "*",
			MaxUploadMB:       20,
			TimeoutSec:        120,
			ShutdownTimeout:   10,
			RateLimitEnabled:  false,
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     500 * 1024 * 1024,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			SampleRatio: 1.0,
			ServiceName: "detscan",
		},
		Batch: BatchConfig{
			Workers: batch.DefaultConfig().Workers,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validBackends := []string{detector.BackendONNX, detector.BackendHTTP}
	if !contains(validBackends, c.Detector.Backend) {
		return fmt.Errorf("invalid detector backend: %s (must be one of: %s)", c.Detector.Backend, strings.Join(validBackends, ", "))
	}
	if c.Detector.Backend == detector.BackendHTTP && c.Detector.Endpoint == "" {
		return fmt.Errorf("detector.endpoint is required for the %s backend", detector.BackendHTTP)
	}
	if err := validateThreshold(c.Detector.ConfThreshold, "detector.conf_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Detector.IOUThreshold, "detector.iou_threshold"); err != nil {
		return err
	}
	if c.Detector.InputSize <= 0 || c.Detector.InputSize%32 != 0 {
		return fmt.Errorf("invalid detector input size: %d (must be a positive multiple of 32)", c.Detector.InputSize)
	}
	if c.Detector.GPU.MemoryLimit != "auto" && c.Detector.GPU.MemoryLimit != "" {
		if _, err := parseMemoryLimit(c.Detector.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}

	if len(c.Recognizer.Languages) < 2 {
		return fmt.Errorf("recognizer.languages needs at least two languages, got %d", len(c.Recognizer.Languages))
	}
	if c.Recognizer.Contrast < -100 || c.Recognizer.Contrast > 100 {
		return fmt.Errorf("invalid recognizer contrast: %.1f (must be between -100 and 100)", c.Recognizer.Contrast)
	}

	validDrivers := []string{store.DriverSQLite, store.DriverPostgres, store.DriverMySQL}
	if !contains(validDrivers, c.Store.Driver) {
		return fmt.Errorf("invalid store driver: %s (must be one of: %s)", c.Store.Driver, strings.Join(validDrivers, ", "))
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn cannot be empty")
	}

	if c.Artifacts.ResultsRoot == "" {
		return fmt.Errorf("artifacts.results_root cannot be empty")
	}
	if c.Artifacts.MediaRoot == "" {
		return fmt.Errorf("artifacts.media_root cannot be empty")
	}
	if c.Artifacts.JPEGQuality < 1 || c.Artifacts.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d (must be between 1 and 100)", c.Artifacts.JPEGQuality)
	}
	if c.Artifacts.Mirror.Enabled && (c.Artifacts.Mirror.Endpoint == "" || c.Artifacts.Mirror.Bucket == "") {
		return fmt.Errorf("artifacts.mirror requires endpoint and bucket when enabled")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}

	validExporters := []string{telemetry.ExporterStdout, telemetry.ExporterOTLP, telemetry.ExporterNone}
	if c.Tracing.Enabled && !contains(validExporters, c.Tracing.Exporter) {
		return fmt.Errorf("invalid tracing exporter: %s (must be one of: %s)", c.Tracing.Exporter, strings.Join(validExporters, ", "))
	}
	if err := validateThreshold(c.Tracing.SampleRatio, "tracing.sample_ratio"); err != nil {
		return err
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("invalid batch workers: %d (must be at least 1)", c.Batch.Workers)
	}

	return nil
}

// ToDetectorConfig converts to detector.Config.
func (c *Config) ToDetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.Backend = c.Detector.Backend
	cfg.ModelPath = models.GetDetectorModelPath(c.ModelsDir, c.Detector.ModelPath)
	cfg.LabelsPath = models.GetLabelsPath(c.ModelsDir, c.Detector.LabelsPath)
	cfg.Endpoint = c.Detector.Endpoint
	cfg.ConfThreshold = float32(c.Detector.ConfThreshold)
	cfg.IOUThreshold = c.Detector.IOUThreshold
	cfg.InputSize = c.Detector.InputSize
	cfg.NumThreads = c.Detector.NumThreads
	if c.Detector.RequestTimeout > 0 {
		cfg.RequestTimeout = time.Duration(c.Detector.RequestTimeout) * time.Second
	}
	cfg.GPU.UseGPU = c.Detector.GPU.Enabled
	cfg.GPU.DeviceID = c.Detector.GPU.Device
	if limit, err := parseMemoryLimit(c.Detector.GPU.MemoryLimit); err == nil {
		cfg.GPU.GPUMemLimit = limit
	}
	return cfg
}

// ToRecognizerConfig converts to recognizer.Config.
func (c *Config) ToRecognizerConfig() recognizer.Config {
	cfg := recognizer.DefaultConfig()
	if len(c.Recognizer.Languages) > 0 {
		cfg.Languages = append([]string(nil), c.Recognizer.Languages...)
	}
	cfg.TessdataPrefix = c.Recognizer.TessdataPrefix
	if cfg.TessdataPrefix == "" {
		cfg.TessdataPrefix = models.GetTessdataDir(c.ModelsDir)
	}
	cfg.PageSegMode = c.Recognizer.PageSegMode
	cfg.Contrast = c.Recognizer.Contrast
	cfg.Upscale = c.Recognizer.Upscale
	return cfg
}

// ToStoreConfig converts to store.Config.
func (c *Config) ToStoreConfig() store.Config {
	return store.Config{
		Driver:      c.Store.Driver,
		DSN:         c.Store.DSN,
		AutoMigrate: c.Store.AutoMigrate,
		LogLevel:    c.Store.LogLevel,
	}
}

// ToArtifactsConfig converts to artifacts.Config.
func (c *Config) ToArtifactsConfig() artifacts.Config {
	cfg := artifacts.DefaultConfig()
	cfg.MediaRoot = c.Artifacts.MediaRoot
	cfg.ResultsRoot = c.Artifacts.ResultsRoot
	cfg.JPEGQuality = c.Artifacts.JPEGQuality
	cfg.FontPath = c.Artifacts.FontPath
	if c.Artifacts.FontSize > 0 {
		cfg.FontSize = c.Artifacts.FontSize
	}
	if c.Artifacts.BoxColor != "" {
		cfg.BoxColor = c.Artifacts.BoxColor
	}
	if c.Artifacts.TextColor != "" {
		cfg.TextColor = c.Artifacts.TextColor
	}
	return cfg
}

// ToMirrorConfig converts to artifacts.MirrorConfig. The second return value
// reports whether mirroring is enabled at all.
func (c *Config) ToMirrorConfig() (artifacts.MirrorConfig, bool) {
	m := c.Artifacts.Mirror
	return artifacts.MirrorConfig{
		Endpoint:  m.Endpoint,
		Bucket:    m.Bucket,
		Region:    m.Region,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		UseSSL:    m.UseSSL,
		Prefix:    m.Prefix,
	}, m.Enabled
}

// ToBatchConfig converts to batch.Config.
func (c *Config) ToBatchConfig() batch.Config {
	return batch.Config{
		Workers:         c.Batch.Workers,
		Recursive:       c.Batch.Recursive,
		IncludePatterns: c.Batch.IncludePatterns,
		ExcludePatterns: c.Batch.ExcludePatterns,
		FailFast:        c.Batch.FailFast,
	}
}

// ToTelemetryConfig converts to telemetry.Config.
func (c *Config) ToTelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:     c.Tracing.Enabled,
		Exporter:    c.Tracing.Exporter,
		SampleRatio: c.Tracing.SampleRatio,
		ServiceName: c.Tracing.ServiceName,
		Version:     version,
	}
}

// Helper functions

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// parseMemoryLimit parses a GPU memory limit such as "1GB" or "512MB" into bytes.
// "auto" and the empty string mean unlimited and yield 0.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		num, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || num < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(num * u.scale), nil
	}

	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
