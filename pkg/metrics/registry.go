// Package metrics holds the Prometheus registry and the HTTP server that
// exposes it while a mount is served.
//
// Collection is opt-in. Until InitRegistry is called GetRegistry returns nil
// and every constructor in the prometheus subpackage returns nil, which the
// instrumented components replace with their no-op implementations.
//
//	metrics.InitRegistry()
//	fs, err := vfs.New(st, vfs.Config{Metrics: prometheus.NewVFSMetrics()})
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors already registered. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Register adds collectors to the global registry. It does nothing when
// metrics are disabled, and a collector that is already registered is not
// an error.
func Register(cs ...prometheus.Collector) error {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}

	var errs []error
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
