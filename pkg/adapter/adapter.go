package adapter

import (
	"context"

	"github.com/marmos91/h5fs/pkg/vfs"
)

// Adapter represents a request dispatcher that exposes the virtual
// filesystem to clients and can be managed by the Server.
//
// Each adapter bridges one host interface (a FUSE mount today) onto the
// shared *vfs.FS. All adapters of a server share the same Data Store
// handle, ensuring consistency across them.
//
// Lifecycle:
//  1. Creation: Adapter is created with its own configuration
//  2. Filesystem injection: SetFilesystem() provides the shared core
//  3. Startup: Serve() starts dispatching and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetFilesystem() is
// called once before Serve(), but Stop() may be called concurrently with
// Serve().
type Adapter interface {
	// Serve starts the dispatcher and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new requests (unmount)
	//   - Wait for the host to release the filesystem
	//   - Return context.Canceled or nil
	//
	// If Serve returns before context cancellation (for example because the
	// mount was released externally with fusermount -u), the Server treats
	// it as a fatal error and stops all other adapters.
	//
	// Parameters:
	//   - ctx: Controls the dispatcher lifecycle. Cancellation triggers shutdown.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - context.Canceled if cancelled via context
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// SetFilesystem injects the shared virtual filesystem.
	//
	// This method is called exactly once by the Server before Serve() is
	// called. The adapter never closes the underlying Data Store; the
	// Server owns it.
	SetFilesystem(fs *vfs.FS)

	// Stop initiates graceful shutdown of the dispatcher.
	//
	// This method may be called concurrently with Serve() during Server shutdown.
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Respect the context timeout for shutdown operations
	//
	// Parameters:
	//   - ctx: Controls the shutdown timeout. When cancelled, give up waiting.
	//
	// Returns:
	//   - nil if shutdown completed successfully
	//   - error if shutdown exceeded timeout or encountered errors
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	//
	// Example: "FUSE"
	Protocol() string

	// Endpoint returns where clients reach the adapter (the mountpoint for
	// FUSE). Used for logging.
	Endpoint() string
}
