package config

import (
	"testing"
	"time"

	"github.com/marmos91/h5fs/pkg/adapter/fuse"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Mount(t *testing.T) {
	cfg := &Config{Mount: MountConfig{Presentation: "RAW"}}
	ApplyDefaults(cfg)

	if cfg.Mount.Presentation != "raw" {
		t.Errorf("Expected presentation normalized to 'raw', got %q", cfg.Mount.Presentation)
	}
	if cfg.Mount.EntryTimeout != time.Second {
		t.Errorf("Expected default entry_timeout 1s, got %v", cfg.Mount.EntryTimeout)
	}
	if cfg.Mount.NegativeTimeout != 100*time.Millisecond {
		t.Errorf("Expected default negative_timeout 100ms, got %v", cfg.Mount.NegativeTimeout)
	}
	if cfg.Mount.Mountpoint != "" {
		t.Errorf("Expected no default mountpoint, got %q", cfg.Mount.Mountpoint)
	}
}

func TestApplyDefaults_Stores(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Store.Type != "badger" {
		t.Errorf("Expected default store type 'badger', got %q", cfg.Store.Type)
	}
	if _, ok := cfg.Store.Badger["db_path"]; !ok {
		t.Error("Expected default badger db_path")
	}
	if cfg.Store.Memory == nil {
		t.Error("Expected memory options map to be initialized")
	}
	if cfg.Store.HDF5 == nil {
		t.Error("Expected hdf5 options map to be initialized")
	}
	if cfg.Content.Type != "filesystem" {
		t.Errorf("Expected default content type 'filesystem', got %q", cfg.Content.Type)
	}
	if _, ok := cfg.Content.Filesystem["path"]; !ok {
		t.Error("Expected default filesystem content path")
	}
	if cfg.Content.S3 == nil {
		t.Error("Expected s3 options map to be initialized")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "WARN", Format: "json", Output: "stderr"},
		Server:  ServerConfig{ShutdownTimeout: 5 * time.Second, Metrics: MetricsConfig{Port: 9100}},
		Mount: MountConfig{
			Presentation: "raw",
			FuseConfig: fuse.FuseConfig{
				Mountpoint:   "/mnt/x",
				FsName:       "data",
				EntryTimeout: time.Minute,
			},
		},
		Store: StoreConfig{
			Type:   "badger",
			Badger: map[string]any{"db_path": "/srv/db"},
		},
		Content: ContentConfig{
			Type:       "s3",
			Filesystem: map[string]any{"path": "/srv/blobs"},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Expected explicit logging to be kept, got %+v", cfg.Logging)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Metrics.Port != 9100 {
		t.Errorf("Expected metrics port 9100, got %d", cfg.Server.Metrics.Port)
	}
	if cfg.Mount.FsName != "data" || cfg.Mount.EntryTimeout != time.Minute {
		t.Errorf("Expected explicit FUSE options to be kept, got %+v", cfg.Mount.FuseConfig)
	}
	if cfg.Store.Badger["db_path"] != "/srv/db" {
		t.Errorf("Expected explicit db_path, got %v", cfg.Store.Badger["db_path"])
	}
	if cfg.Content.Type != "s3" || cfg.Content.Filesystem["path"] != "/srv/blobs" {
		t.Errorf("Expected explicit content config to be kept, got %+v", cfg.Content)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestApplyDefaults_MountCache(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Mount.Cache.Enabled {
		t.Error("Expected the lookup cache to be off by default")
	}
	if cfg.Mount.Cache.TTL != time.Minute {
		t.Errorf("Expected default cache ttl 1m, got %v", cfg.Mount.Cache.TTL)
	}
	if cfg.Mount.Cache.MaxEntries != 10000 {
		t.Errorf("Expected default cache max_entries 10000, got %d", cfg.Mount.Cache.MaxEntries)
	}
}
