package s3

import "time"

// S3Metrics provides observability for S3 operations.
//
// Implementations can use this interface to collect metrics about S3
// operations, latency, throughput and errors. This is optional: when no
// implementation is provided, a no-op is used.
type S3Metrics interface {
	// ObserveOperation records an S3 operation with its duration and outcome
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes transferred for read/write operations
	RecordBytes(operation string, bytes int64)
}

// noopMetrics is a default no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) ObserveOperation(operation string, duration time.Duration, err error) {}
func (noopMetrics) RecordBytes(operation string, bytes int64)                            {}
