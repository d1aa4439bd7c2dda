package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "detscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "DETSCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader backed by the global viper
// instance so that cobra flag bindings are visible.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewIsolatedLoader creates a loader with its own viper instance.
func NewIsolatedLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the final validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and env vars only.
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)
	l.v.SetDefault("models_dir", defaults.ModelsDir)

	l.v.SetDefault("detector.backend", defaults.Detector.Backend)
	l.v.SetDefault("detector.model_path", defaults.Detector.ModelPath)
	l.v.SetDefault("detector.labels_path", defaults.Detector.LabelsPath)
	l.v.SetDefault("detector.endpoint", defaults.Detector.Endpoint)
	l.v.SetDefault("detector.conf_threshold", defaults.Detector.ConfThreshold)
	l.v.SetDefault("detector.iou_threshold", defaults.Detector.IOUThreshold)
	l.v.SetDefault("detector.input_size", defaults.Detector.InputSize)
	l.v.SetDefault("detector.num_threads", defaults.Detector.NumThreads)
	l.v.SetDefault("detector.request_timeout", defaults.Detector.RequestTimeout)
	l.v.SetDefault("detector.gpu.enabled", defaults.Detector.GPU.Enabled)
	l.v.SetDefault("detector.gpu.device", defaults.Detector.GPU.Device)
	l.v.SetDefault("detector.gpu.memory_limit", defaults.Detector.GPU.MemoryLimit)

	l.v.SetDefault("recognizer.languages", defaults.Recognizer.Languages)
	l.v.SetDefault("recognizer.tessdata_prefix", defaults.Recognizer.TessdataPrefix)
	l.v.SetDefault("recognizer.page_seg_mode", defaults.Recognizer.PageSegMode)
	l.v.SetDefault("recognizer.contrast", defaults.Recognizer.Contrast)
	l.v.SetDefault("recognizer.upscale", defaults.Recognizer.Upscale)

	l.v.SetDefault("store.driver", defaults.Store.Driver)
	l.v.SetDefault("store.dsn", defaults.Store.DSN)
	l.v.SetDefault("store.auto_migrate", defaults.Store.AutoMigrate)
	l.v.SetDefault("store.log_level", defaults.Store.LogLevel)

	l.v.SetDefault("artifacts.media_root", defaults.Artifacts.MediaRoot)
	l.v.SetDefault("artifacts.results_root", defaults.Artifacts.ResultsRoot)
	l.v.SetDefault("artifacts.jpeg_quality", defaults.Artifacts.JPEGQuality)
	l.v.SetDefault("artifacts.font_path", defaults.Artifacts.FontPath)
	l.v.SetDefault("artifacts.font_size", defaults.Artifacts.FontSize)
	l.v.SetDefault("artifacts.box_color", defaults.Artifacts.BoxColor)
	l.v.SetDefault("artifacts.text_color", defaults.Artifacts.TextColor)
	l.v.SetDefault("artifacts.mirror.enabled", defaults.Artifacts.Mirror.Enabled)
	l.v.SetDefault("artifacts.mirror.endpoint", defaults.Artifacts.Mirror.Endpoint)
	l.v.SetDefault("artifacts.mirror.bucket", defaults.Artifacts.Mirror.Bucket)
	l.v.SetDefault("artifacts.mirror.region", defaults.Artifacts.Mirror.Region)
	l.v.SetDefault("artifacts.mirror.access_key", defaults.Artifacts.Mirror.AccessKey)
	l.v.SetDefault("artifacts.mirror.secret_key", defaults.Artifacts.Mirror.SecretKey)
	l.v.SetDefault("artifacts.mirror.use_ssl", defaults.Artifacts.Mirror.UseSSL)
	l.v.SetDefault("artifacts.mirror.prefix", defaults.Artifacts.Mirror.Prefix)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit_enabled", defaults.Server.RateLimitEnabled)
	l.v.SetDefault("server.requests_per_minute", defaults.Server.RequestsPerMinute)
	l.v.SetDefault("server.requests_per_hour", defaults.Server.RequestsPerHour)
	l.v.SetDefault("server.max_requests_per_day", defaults.Server.MaxRequestsPerDay)
	l.v.SetDefault("server.max_data_per_day", defaults.Server.MaxDataPerDay)

	l.v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	l.v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	l.v.SetDefault("tracing.sample_ratio", defaults.Tracing.SampleRatio)
	l.v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	l.v.SetDefault("batch.workers", defaults.Batch.Workers)
	l.v.SetDefault("batch.recursive", defaults.Batch.Recursive)
	l.v.SetDefault("batch.include_patterns", defaults.Batch.IncludePatterns)
	l.v.SetDefault("batch.exclude_patterns", defaults.Batch.ExcludePatterns)
	l.v.SetDefault("batch.fail_fast", defaults.Batch.FailFast)
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes a configuration file populated with defaults.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewIsolatedLoader()
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}

	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	paths = append(paths, "/etc/"+ConfigFileName)

	return paths
}
