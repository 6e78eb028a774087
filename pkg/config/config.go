package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/h5fs/pkg/adapter/fuse"
	"github.com/marmos91/h5fs/pkg/store/cache"
	"github.com/spf13/viper"
)

// Config represents the complete h5fs configuration.
//
// This structure captures all configurable aspects of h5fs including:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics)
//   - Mount settings (presentation and FUSE options)
//   - Data Store selection and configuration (store-specific)
//   - Content store selection for dataset payloads (store-specific)
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (H5FS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type and factory function.
// The Config struct contains type-specific sections (e.g., content.filesystem, content.s3)
// and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Mount configures how the store is presented and mounted
	Mount MountConfig `mapstructure:"mount" yaml:"mount"`

	// Store specifies the Data Store type and type-specific configuration
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Content specifies where dataset payloads of a persistent store live
	Content ContentConfig `mapstructure:"content" yaml:"content"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus exporter
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus metrics server.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP exporter
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the exporter
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// MountConfig configures the mounted filesystem.
//
// The FUSE options are inlined so that mount.mountpoint, mount.allow_other,
// etc. sit next to the presentation.
type MountConfig struct {
	// Presentation selects how datasets appear
	// Valid values: npy (header + payload, ".npy" suffix), raw (payload only)
	Presentation string `mapstructure:"presentation" yaml:"presentation" validate:"required,oneof=npy raw"`

	// Owner overrides the uid/gid reported for every entry. When unset the
	// mounting process's ids are used.
	Owner *OwnerConfig `mapstructure:"owner" yaml:"owner,omitempty"`

	// Cache keeps recent lookups and group listings in memory
	Cache cache.CacheConfig `mapstructure:"cache" yaml:"cache"`

	fuse.FuseConfig `mapstructure:",squash" yaml:",inline"`
}

// OwnerConfig is an explicit uid/gid pair.
type OwnerConfig struct {
	UID uint32 `mapstructure:"uid" yaml:"uid"`
	GID uint32 `mapstructure:"gid" yaml:"gid"`
}

// StoreConfig specifies Data Store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StoreConfig struct {
	// Type specifies which Data Store implementation to use
	// Valid values: memory, badger, hdf5
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger hdf5"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// HDF5 names the .h5 file served read-only (path, chunk_cache_size)
	// Only used when Type = "hdf5"
	HDF5 map[string]any `mapstructure:"hdf5" yaml:"hdf5"`
}

// ContentConfig specifies payload store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
// The memory Data Store keeps payloads itself and ignores this section.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (H5FS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use H5FS_ prefix and underscores
	// Example: H5FS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("H5FS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/h5fs/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		// An explicit path that does not exist surfaces as a PathError
		if os.IsNotExist(err) {
			return nil
		}
		// Other errors are problems
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "h5fs")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "h5fs")
}

// getDataDir returns the directory holding the default database and
// payloads: $XDG_DATA_HOME/h5fs, falling back to ~/.local/share/h5fs.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "h5fs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "h5fs")
	}

	return filepath.Join(home, ".local", "share", "h5fs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
