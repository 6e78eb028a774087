package fuse

import (
	"context"
	"errors"
	"syscall"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/vfs"
)

// toErrno maps a core error to the errno returned to the kernel.
//
// Expected outcomes (not found, wrong kind, refused access) are logged at
// DEBUG; store failures at WARN since they indicate a broken backend.
func toErrno(op, path string, err error) syscall.Errno {
	if err == nil {
		return 0
	}

	errno := errnoOf(err)
	if errno == syscall.EIO {
		logger.Warn("FUSE %s %s: %v", op, path, err)
	} else {
		logger.Debug("FUSE %s %s: %v (%s)", op, path, err, errno)
	}
	return errno
}

func errnoOf(err error) syscall.Errno {
	// A request interrupted by the kernel cancels its context.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return syscall.EINTR
	}

	code, ok := vfs.CodeOf(err)
	if !ok {
		return syscall.EIO
	}

	switch code {
	case vfs.CodeNotFound:
		return syscall.ENOENT
	case vfs.CodeIsADirectory:
		return syscall.EISDIR
	case vfs.CodeNotADirectory:
		return syscall.ENOTDIR
	case vfs.CodePermissionDenied:
		return syscall.EACCES
	case vfs.CodeUnsupportedEntry:
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}
