package config

import (
	contentS3 "github.com/marmos91/h5fs/pkg/content/s3"
	"github.com/marmos91/h5fs/pkg/metrics"
	promMetrics "github.com/marmos91/h5fs/pkg/metrics/prometheus"
	"github.com/marmos91/h5fs/pkg/vfs"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// VFSMetrics is the collector for the virtual filesystem (nil if disabled)
	VFSMetrics vfs.Metrics

	// S3Metrics is the collector for the S3 content store (nil if disabled)
	S3Metrics contentS3.S3Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled every field is nil and components fall back to
// their no-op implementations (zero overhead).
//
// Parameters:
//   - cfg: The complete h5fs configuration
//
// Returns:
//   - MetricsResult containing all metrics components
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{}
	}

	// Initialize global Prometheus registry
	metrics.InitRegistry()

	// Create metrics HTTP server
	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:     server,
		VFSMetrics: promMetrics.NewVFSMetrics(),
		S3Metrics:  promMetrics.NewS3Metrics(),
	}
}
