package vfs

import "time"

// Metrics provides observability for core operations.
//
// This is optional: when no implementation is provided, a no-op is used.
type Metrics interface {
	// ObserveOperation records one core operation ("resolve", "stat",
	// "list", "read") with its duration and outcome.
	ObserveOperation(op string, duration time.Duration, err error)

	// RecordRead records bytes served, split by origin.
	RecordRead(headerBytes, payloadBytes int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordRead(int, int)                           {}
