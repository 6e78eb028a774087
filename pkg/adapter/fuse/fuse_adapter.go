// Package fuse implements the request dispatcher that mounts the virtual
// filesystem through FUSE.
//
// Every kernel request (lookup, getattr, readdir, open, read) is answered
// by the vfs core. The mount is read-only: mutating requests get EROFS.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/vfs"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FuseConfig holds configuration parameters for the FUSE mount.
//
// Default values (applied by New if zero):
//   - FsName: "h5fs"
//   - EntryTimeout: 1s
//   - AttrTimeout: 1s
//   - NegativeTimeout: 100ms
//   - ShutdownTimeout: 10s
type FuseConfig struct {
	// Mountpoint is the directory the filesystem is mounted on. Created if
	// missing.
	Mountpoint string `mapstructure:"mountpoint" yaml:"mountpoint"`

	// FsName is shown as the source device in mount(8) output.
	FsName string `mapstructure:"fs_name" yaml:"fs_name"`

	// AllowOther lets users other than the mounting user access the mount.
	// Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// EntryTimeout and AttrTimeout control kernel caching of lookups and
	// attributes. The store is immutable while mounted, so long timeouts
	// are safe.
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout" validate:"min=0"`
	AttrTimeout  time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout" validate:"min=0"`

	// NegativeTimeout controls caching of failed lookups.
	NegativeTimeout time.Duration `mapstructure:"negative_timeout" yaml:"negative_timeout" validate:"min=0"`

	// ShutdownTimeout bounds how long Stop waits for the kernel to release
	// the mount.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// Debug logs every FUSE request and reply (go-fuse debug output).
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *FuseConfig) applyDefaults() {
	if c.FsName == "" {
		c.FsName = "h5fs"
	}
	if c.EntryTimeout == 0 {
		c.EntryTimeout = time.Second
	}
	if c.AttrTimeout == 0 {
		c.AttrTimeout = time.Second
	}
	if c.NegativeTimeout == 0 {
		c.NegativeTimeout = 100 * time.Millisecond
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// validate checks that the configuration can be mounted.
func (c *FuseConfig) validate() error {
	if c.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required")
	}
	if c.EntryTimeout < 0 || c.AttrTimeout < 0 || c.NegativeTimeout < 0 {
		return fmt.Errorf("cache timeouts must be >= 0")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be >= 0", c.ShutdownTimeout)
	}
	return nil
}

// FuseAdapter mounts a *vfs.FS and dispatches kernel requests to it.
//
// Thread safety:
// go-fuse serves requests on multiple goroutines; every node method calls
// into the stateless vfs core, so no locking is needed there. Stop uses
// sync.Once and may race with Serve.
type FuseAdapter struct {
	config FuseConfig
	fs     *vfs.FS

	mu     sync.Mutex
	server *fuse.Server

	stopOnce sync.Once
	stopping atomic.Bool
}

// New creates a new FuseAdapter with the specified configuration.
//
// The adapter is created in a stopped state. Call SetFilesystem() to
// inject the core, then call Serve() to mount.
//
// Returns an error if the configuration is invalid.
func New(config FuseConfig) (*FuseAdapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid FUSE config: %w", err)
	}

	return &FuseAdapter{config: config}, nil
}

// SetFilesystem injects the shared virtual filesystem.
func (a *FuseAdapter) SetFilesystem(fs *vfs.FS) {
	a.fs = fs
}

// Serve mounts the filesystem and blocks until the context is cancelled or
// the mount is released.
func (a *FuseAdapter) Serve(ctx context.Context) error {
	if a.fs == nil {
		return fmt.Errorf("FUSE adapter: filesystem not set")
	}

	server, err := a.mount(ctx)
	if err != nil {
		return err
	}

	logger.Info("FUSE filesystem mounted at %s (presentation: %s)",
		a.config.Mountpoint, presentationName(a.fs))

	served := make(chan struct{})
	defer close(served)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("FUSE shutdown signal received: %v", ctx.Err())
			a.unmount()
		case <-served:
		}
	}()

	server.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if a.stopping.Load() {
		return nil
	}
	// The kernel dropped the mount without us asking.
	return errors.New("FUSE mount released externally")
}

// mount performs the go-fuse mount. The root node is the store's root group.
func (a *FuseAdapter) mount(ctx context.Context) (*fuse.Server, error) {
	rootEntry, err := a.fs.Resolve(ctx, "/")
	if err != nil {
		return nil, fmt.Errorf("resolving root group: %w", err)
	}

	if err := os.MkdirAll(a.config.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", a.config.Mountpoint, err)
	}

	root := &node{fs: a.fs, entry: rootEntry}

	entryTimeout := a.config.EntryTimeout
	attrTimeout := a.config.AttrTimeout
	negativeTimeout := a.config.NegativeTimeout

	server, err := gofuse.Mount(a.config.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     a.config.FsName,
			Name:       "h5fs",
			AllowOther: a.config.AllowOther,
			Debug:      a.config.Debug,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", a.config.Mountpoint, err)
	}

	a.mu.Lock()
	a.server = server
	stopping := a.stopping.Load()
	a.mu.Unlock()

	// Stop raced with the mount and found no server to release.
	if stopping {
		if err := server.Unmount(); err != nil {
			logger.Warn("FUSE unmount of %s failed: %v", a.config.Mountpoint, err)
		}
	}
	return server, nil
}

// unmount releases the mount once. Safe to call concurrently.
func (a *FuseAdapter) unmount() {
	a.stopOnce.Do(func() {
		a.stopping.Store(true)

		a.mu.Lock()
		server := a.server
		a.mu.Unlock()
		if server == nil {
			return
		}

		if err := server.Unmount(); err != nil {
			logger.Warn("FUSE unmount of %s failed: %v", a.config.Mountpoint, err)
			return
		}
		logger.Info("FUSE filesystem unmounted from %s", a.config.Mountpoint)
	})
}

// Stop unmounts and waits for Serve to observe it, bounded by ctx and the
// configured shutdown timeout.
func (a *FuseAdapter) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.unmount()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("FUSE shutdown timed out: %v", ctx.Err())
		return ctx.Err()
	}
}

// Protocol returns "FUSE".
func (a *FuseAdapter) Protocol() string {
	return "FUSE"
}

// Endpoint returns the mountpoint.
func (a *FuseAdapter) Endpoint() string {
	return a.config.Mountpoint
}

func presentationName(fs *vfs.FS) string {
	if ext := fs.Presenter().Extension(); ext != "" {
		return ext
	}
	return "raw"
}
