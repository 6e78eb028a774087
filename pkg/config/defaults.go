package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/h5fs/pkg/adapter/fuse"
	"github.com/marmos91/h5fs/pkg/store/cache"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMountDefaults(&cfg.Mount)
	applyStoreDefaults(&cfg.Store)
	applyContentDefaults(&cfg.Content)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyMountDefaults sets mount defaults. The mountpoint has no default; it
// usually comes from the command line.
func applyMountDefaults(cfg *MountConfig) {
	if cfg.Presentation == "" {
		cfg.Presentation = "npy"
	}
	cfg.Presentation = strings.ToLower(cfg.Presentation)

	defaults := cache.DefaultCacheConfig()
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = defaults.TTL
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = defaults.MaxEntries
	}

	applyFuseDefaults(&cfg.FuseConfig)
}

// applyFuseDefaults mirrors the adapter's own defaults so that generated
// config files show them.
func applyFuseDefaults(cfg *fuse.FuseConfig) {
	if cfg.FsName == "" {
		cfg.FsName = "h5fs"
	}
	if cfg.EntryTimeout == 0 {
		cfg.EntryTimeout = time.Second
	}
	if cfg.AttrTimeout == 0 {
		cfg.AttrTimeout = time.Second
	}
	if cfg.NegativeTimeout == 0 {
		cfg.NegativeTimeout = 100 * time.Millisecond
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// applyStoreDefaults sets Data Store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	// Initialize maps if nil
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.HDF5 == nil {
		cfg.HDF5 = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(getDataDir(), "db")
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	// Initialize maps if nil
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(getDataDir(), "content")
	}
	if _, ok := cfg.Memory["max_size_bytes"]; !ok {
		cfg.Memory["max_size_bytes"] = uint64(1073741824) // 1GB
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
