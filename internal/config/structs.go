//nolint:lll
package config

// Config represents the complete configuration for the detscan application.
// It covers every command (serve, analyze, runs, migrate) and supports loading
// from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// ModelsDir holds the detection model, its labels and optional tessdata.
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`

	Detector   DetectorConfig   `mapstructure:"detector" yaml:"detector" json:"detector"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store" json:"store"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts" yaml:"artifacts" json:"artifacts"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`

	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// DetectorConfig contains object detection settings.
type DetectorConfig struct {
	Backend        string    `mapstructure:"backend" yaml:"backend" json:"backend"`
	ModelPath      string    `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LabelsPath     string    `mapstructure:"labels_path" yaml:"labels_path" json:"labels_path"`
	Endpoint       string    `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	ConfThreshold  float64   `mapstructure:"conf_threshold" yaml:"conf_threshold" json:"conf_threshold"`
	IOUThreshold   float64   `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	InputSize      int       `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	NumThreads     int       `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	RequestTimeout int       `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
	GPU            GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// GPUConfig contains GPU acceleration settings for the ONNX backend.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// RecognizerConfig contains text extraction settings.
type RecognizerConfig struct {
	Languages      []string `mapstructure:"languages" yaml:"languages" json:"languages"`
	TessdataPrefix string   `mapstructure:"tessdata_prefix" yaml:"tessdata_prefix" json:"tessdata_prefix"`
	PageSegMode    int      `mapstructure:"page_seg_mode" yaml:"page_seg_mode" json:"page_seg_mode"`
	Contrast       float64  `mapstructure:"contrast" yaml:"contrast" json:"contrast"`
	Upscale        int      `mapstructure:"upscale" yaml:"upscale" json:"upscale"`
}

// StoreConfig contains record store settings.
type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN         string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate" json:"auto_migrate"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
}

// ArtifactsConfig contains settings for uploaded images and result bundles.
type ArtifactsConfig struct {
	MediaRoot   string       `mapstructure:"media_root" yaml:"media_root" json:"media_root"`
	ResultsRoot string       `mapstructure:"results_root" yaml:"results_root" json:"results_root"`
	JPEGQuality int          `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
	FontPath    string       `mapstructure:"font_path" yaml:"font_path" json:"font_path"`
	FontSize    float64      `mapstructure:"font_size" yaml:"font_size" json:"font_size"`
	BoxColor    string       `mapstructure:"box_color" yaml:"box_color" json:"box_color"`
	TextColor   string       `mapstructure:"text_color" yaml:"text_color" json:"text_color"`
	Mirror      MirrorConfig `mapstructure:"mirror" yaml:"mirror" json:"mirror"`
}

// MirrorConfig contains settings for copying result bundles to S3-compatible storage.
type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Region    string `mapstructure:"region" yaml:"region" json:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" json:"-"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl" json:"use_ssl"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Rate limiting
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Exporter    string  `mapstructure:"exporter" yaml:"exporter" json:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio" json:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
}

// BatchConfig contains settings for analyzing many files from the command line.
type BatchConfig struct {
	Workers         int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive       bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns" json:"exclude_patterns"`
	FailFast        bool     `mapstructure:"fail_fast" yaml:"fail_fast" json:"fail_fast"`
}
