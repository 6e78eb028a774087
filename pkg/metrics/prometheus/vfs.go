// Package prometheus provides Prometheus-backed implementations of the
// metrics interfaces declared by h5fs components.
package prometheus

import (
	"time"

	"github.com/marmos91/h5fs/pkg/metrics"
	"github.com/marmos91/h5fs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// vfsMetrics is the Prometheus implementation of vfs.Metrics.
type vfsMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesRead         *prometheus.CounterVec
	readSize          prometheus.Histogram
}

// NewVFSMetrics creates a new Prometheus-backed vfs.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes the filesystem fall back to its no-op implementation.
func NewVFSMetrics() vfs.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newVFSMetrics(metrics.GetRegistry())
}

func newVFSMetrics(reg prometheus.Registerer) *vfsMetrics {
	return &vfsMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "h5fs_vfs_operations_total",
				Help: "Total number of filesystem operations by operation and status",
			},
			[]string{"operation", "status", "error_code"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "h5fs_vfs_operation_duration_milliseconds",
				Help: "Duration of filesystem operations in milliseconds",
				Buckets: []float64{
					0.1,  // 100µs
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"operation"},
		),
		bytesRead: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "h5fs_vfs_bytes_read_total",
				Help: "Total bytes served from dataset files, by origin (header or payload)",
			},
			[]string{"origin"},
		),
		readSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "h5fs_vfs_read_size_bytes",
				Help: "Distribution of read sizes",
				Buckets: []float64{
					4096,    // 4KB
					65536,   // 64KB
					131072,  // 128KB
					1048576, // 1MB
				},
			},
		),
	}
}

func (m *vfsMetrics) ObserveOperation(op string, duration time.Duration, err error) {
	status, code := "success", ""
	if err != nil {
		status = "error"
		code = errorCodeLabel(err)
	}

	m.operationsTotal.WithLabelValues(op, status, code).Inc()
	m.operationDuration.WithLabelValues(op).Observe(float64(duration) / float64(time.Millisecond))
}

func (m *vfsMetrics) RecordRead(headerBytes, payloadBytes int) {
	m.bytesRead.WithLabelValues("header").Add(float64(headerBytes))
	m.bytesRead.WithLabelValues("payload").Add(float64(payloadBytes))
	m.readSize.Observe(float64(headerBytes + payloadBytes))
}

// errorCodeLabel maps an error to a short, stable label value.
func errorCodeLabel(err error) string {
	code, ok := vfs.CodeOf(err)
	if !ok {
		return "io"
	}
	switch code {
	case vfs.CodeNotFound:
		return "not_found"
	case vfs.CodeIsADirectory:
		return "is_a_directory"
	case vfs.CodeNotADirectory:
		return "not_a_directory"
	case vfs.CodePermissionDenied:
		return "permission_denied"
	case vfs.CodeUnsupportedEntry:
		return "unsupported"
	default:
		return "io"
	}
}
