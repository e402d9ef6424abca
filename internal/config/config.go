package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	SupportedExtensions []string          `mapstructure:"supported_extensions"`
	Compression         CompressionConfig `mapstructure:"compression"`
	Performance         PerformanceConfig `mapstructure:"performance"`
	Server              ServerConfig      `mapstructure:"server"`
	Logging             LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig holds defaults for compression requests
type CompressionConfig struct {
	DefaultQuality int     `mapstructure:"default_quality"` // percent, 1-100
	CustomSize     bool    `mapstructure:"custom_size"`
	TargetSize     float64 `mapstructure:"target_size"`
	TargetUnit     string  `mapstructure:"target_unit"` // MB or KB
	OutputDir      string  `mapstructure:"output_dir"`
	OutputPrefix   string  `mapstructure:"output_prefix"`
	KeepExif       bool    `mapstructure:"keep_exif"`
	SkipMarked     bool    `mapstructure:"skip_marked"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int `mapstructure:"worker_threads"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Port        int           `mapstructure:"port"`
	ResultTTL   time.Duration `mapstructure:"result_ttl"`
	MaxUploadMB int           `mapstructure:"max_upload_mb"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		SupportedExtensions: []string{
			".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp", ".tiff", ".tif",
		},
		Compression: CompressionConfig{
			DefaultQuality: 80,
			CustomSize:     false,
			TargetSize:     1,
			TargetUnit:     "MB",
			OutputDir:      "compressed",
			OutputPrefix:   "compressed-",
			KeepExif:       false,
			SkipMarked:     true,
		},
		Performance: PerformanceConfig{
			WorkerThreads: 4,
		},
		Server: ServerConfig{
			Port:        8080,
			ResultTTL:   30 * time.Minute,
			MaxUploadMB: 32,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "photo-squeeze.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath searches the default locations; a missing file there
// is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.photo-squeeze")
		v.AddConfigPath("/etc/photo-squeeze")
	}

	v.SetEnvPrefix("PHOTO_SQUEEZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Decode into a zero value: list settings replace the defaults instead
	// of overwriting a prefix of them.
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("supported_extensions", c.SupportedExtensions)
	v.SetDefault("compression.default_quality", c.Compression.DefaultQuality)
	v.SetDefault("compression.custom_size", c.Compression.CustomSize)
	v.SetDefault("compression.target_size", c.Compression.TargetSize)
	v.SetDefault("compression.target_unit", c.Compression.TargetUnit)
	v.SetDefault("compression.output_dir", c.Compression.OutputDir)
	v.SetDefault("compression.output_prefix", c.Compression.OutputPrefix)
	v.SetDefault("compression.keep_exif", c.Compression.KeepExif)
	v.SetDefault("compression.skip_marked", c.Compression.SkipMarked)
	v.SetDefault("performance.worker_threads", c.Performance.WorkerThreads)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.result_ttl", c.Server.ResultTTL)
	v.SetDefault("server.max_upload_mb", c.Server.MaxUploadMB)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Compression.DefaultQuality < 1 || c.Compression.DefaultQuality > 100 {
		return fmt.Errorf("invalid default_quality: %d (valid: 1-100)", c.Compression.DefaultQuality)
	}

	c.Compression.TargetUnit = strings.ToUpper(c.Compression.TargetUnit)
	if c.Compression.TargetUnit != "MB" && c.Compression.TargetUnit != "KB" {
		return fmt.Errorf("invalid target_unit: %s (valid: MB, KB)", c.Compression.TargetUnit)
	}
	if c.Compression.CustomSize && c.Compression.TargetSize <= 0 {
		return fmt.Errorf("target_size must be positive when custom_size is enabled")
	}
	if c.Compression.OutputDir == "" {
		c.Compression.OutputDir = "compressed"
	}

	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)

	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 4
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 32
	}
	if c.Server.ResultTTL < 0 {
		return fmt.Errorf("result_ttl must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// IsSupportedExtension checks if the extension is a supported image type
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
