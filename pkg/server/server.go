// Package server runs the request dispatchers of one h5fs instance and owns
// the Data Store they share.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/adapter"
	"github.com/marmos91/h5fs/pkg/metrics"
	"github.com/marmos91/h5fs/pkg/store"
	"github.com/marmos91/h5fs/pkg/vfs"
)

const defaultShutdownTimeout = 30 * time.Second

// Server manages the lifecycle of the adapters that expose one virtual
// filesystem, and of the Data Store behind it.
//
// Architecture:
// All adapters share the same *vfs.FS, and therefore the same store handle,
// providing a unified view regardless of how the filesystem is reached.
// The server is the only owner of the store: it is opened by the caller,
// handed over in New, and closed exactly once after every adapter has
// released it.
//
// Lifecycle:
//  1. Creation: New() with the store and filesystem
//  2. Registration: AddAdapter() for each dispatcher
//  3. Startup: Serve() starts all adapters (and the metrics server) concurrently
//  4. Shutdown: Context cancellation stops adapters in reverse order, then
//     closes the store
//
// Thread safety:
// Server is safe for concurrent use. AddAdapter() may be called concurrently
// with other methods. Serve() should only be called once per server instance.
//
// Example usage:
//
//	srv := server.New(st, fs)
//	srv.AddAdapter(fuseAdapter)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type Server struct {
	// store is the Data Store; closed by the server
	store store.Store

	// fs is the shared virtual filesystem injected into every adapter
	fs *vfs.FS

	// metricsServer is optional
	metricsServer *metrics.Server

	// shutdownTimeout bounds each adapter's Stop()
	shutdownTimeout time.Duration

	// adapters contains all registered adapters
	adapters []adapter.Adapter

	// mu protects the adapters slice and serving flag
	mu sync.RWMutex

	// served indicates whether Serve() has been called
	served bool

	closeOnce sync.Once
	closeErr  error
}

// New creates a new Server over an open store and the filesystem built on it.
//
// Parameters:
//   - st: Open Data Store; ownership passes to the server
//   - fs: Virtual filesystem over st
//
// Returns a configured but not yet started Server. Call AddAdapter() to
// register dispatchers, then Serve() to start.
//
// Panics if either argument is nil (indicates programmer error).
func New(st store.Store, fs *vfs.FS) *Server {
	if st == nil {
		panic("data store cannot be nil")
	}
	if fs == nil {
		panic("filesystem cannot be nil")
	}

	return &Server{
		store:           st,
		fs:              fs,
		shutdownTimeout: defaultShutdownTimeout,
		adapters:        make([]adapter.Adapter, 0, 2),
	}
}

// SetMetricsServer registers the Prometheus exporter to run alongside the
// adapters. nil disables it.
func (s *Server) SetMetricsServer(ms *metrics.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsServer = ms
}

// SetShutdownTimeout bounds how long each adapter may take to stop.
func (s *Server) SetShutdownTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownTimeout = d
}

// AddAdapter registers a new adapter with the server.
//
// This method injects the shared filesystem into the adapter and adds it to
// the list of adapters that will be started when Serve() is called.
//
// Duplicate protocols or endpoint conflicts (two mounts on one directory)
// are detected and return an error.
//
// Panics if:
//   - adapter is nil (programmer error)
//   - Serve() has already been called (server is running)
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check if Serve() has been called
	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	endpoint := a.Endpoint()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if existing.Endpoint() == endpoint {
			return fmt.Errorf("endpoint %s already in use by %s adapter", endpoint, existing.Protocol())
		}
	}

	// Inject shared filesystem
	a.SetFilesystem(s.fs)

	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter at %s", protocol, endpoint)

	return nil
}

// Serve starts all registered adapters and blocks until the context is cancelled
// or an adapter fails.
//
// Serve() orchestrates the lifecycle of all adapters:
//  1. Validates that at least one adapter is registered
//  2. Starts the metrics server and all adapters concurrently
//  3. Monitors for context cancellation or adapter failures
//  4. On shutdown signal: stops all adapters in reverse order
//  5. Waits for all adapters to complete shutdown
//  6. Closes the Data Store
//
// Returns:
//   - context.Canceled (or DeadlineExceeded) if shutdown was triggered by the context
//   - error if an adapter failed, or closing the store failed
//
// Serve() must only be called once; a second call returns an error.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.served = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	metricsServer := s.metricsServer
	stopTimeout := s.shutdownTimeout
	s.mu.Unlock()

	err := s.serve(ctx, adapters, metricsServer, stopTimeout)

	// The store outlives every adapter: close it only after all Serve()
	// goroutines have returned.
	if closeErr := s.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

func (s *Server) serve(ctx context.Context, adapters []adapter.Adapter, metricsServer *metrics.Server, stopTimeout time.Duration) error {
	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting h5fs server with %d adapter(s)", len(adapters))

	// Adapters and the metrics server stop on this context; cancelling it
	// on adapter failure brings everything down together.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered to prevent goroutine leaks if multiple adapters fail simultaneously
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup

	if metricsServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsServer.Start(runCtx); err != nil {
				// Metrics are best-effort; a port clash must not unmount the filesystem.
				logger.Warn("Metrics server stopped: %v", err)
			}
		}()
	}

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter at %s", protocol, a.Endpoint())

			if err := a.Serve(runCtx); err != nil {
				// context.Canceled is expected during shutdown
				if !errors.Is(err, context.Canceled) && runCtx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped gracefully", protocol)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	// Wait for either context cancellation or adapter error
	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	cancel()
	stopAllAdapters(adapters, stopTimeout)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("h5fs server stopped")

	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error for better error reporting.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters initiates graceful shutdown of all adapters in reverse registration order.
//
// Each adapter receives a Stop() call with a timeout context. Errors are
// logged and the remaining adapters are still stopped.
func stopAllAdapters(adapters []adapter.Adapter, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (%s)", protocol, adp.Endpoint())

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}

// Close closes the Data Store. It is called by Serve on return and is safe
// to call again, or instead of Serve when startup is abandoned.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.store.Close()
		if s.closeErr != nil {
			logger.Error("Closing data store: %v", s.closeErr)
		} else {
			logger.Debug("Data store closed")
		}
	})
	return s.closeErr
}

// Adapters returns a snapshot of currently registered adapters.
//
// The returned slice is a copy and safe to iterate over without holding locks.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
