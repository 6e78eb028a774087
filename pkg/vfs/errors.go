package vfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/h5fs/pkg/store"
)

// ============================================================================
// Error Taxonomy
// ============================================================================
//
// Every failure returned by this package is a *Error carrying one of the
// codes below. The sentinels make errors.Is work without type assertions:
//
//	if errors.Is(err, vfs.ErrNotFound) { ... }
//
// None of these are transient. Retrying the same request against the same
// store yields the same outcome.

// Code classifies a core failure.
type Code int

const (
	// CodeNotFound: no entry resolves for the virtual path.
	CodeNotFound Code = iota + 1

	// CodeIsADirectory: a read or open targeted a group.
	CodeIsADirectory

	// CodeUnsupportedEntry: the store returned an entry kind that has no
	// filesystem representation.
	CodeUnsupportedEntry

	// CodePermissionDenied: anything but read-only access was requested.
	CodePermissionDenied

	// CodeNotADirectory: a listing targeted a dataset.
	CodeNotADirectory

	// CodeIO: the Data Store failed underneath us (corrupt record, missing
	// payload blob, cancelled request).
	CodeIO
)

var (
	// ErrNotFound indicates that no entry resolves for a virtual path.
	//
	// This includes paths that only differ from a real entry by a missing or
	// misapplied extension suffix: "/grp/melu" is not found when melu is a
	// dataset, because its only name is "/grp/melu.npy".
	ErrNotFound = errors.New("no such entry")

	// ErrIsADirectory indicates a read or open of a group.
	ErrIsADirectory = errors.New("is a group")

	// ErrUnsupportedEntry indicates an entry that is neither group nor dataset.
	ErrUnsupportedEntry = errors.New("unsupported entry kind")

	// ErrPermissionDenied indicates a request for anything but read access.
	// The filesystem is unconditionally read-only.
	ErrPermissionDenied = errors.New("read-only filesystem")

	// ErrNotADirectory indicates a listing of a dataset.
	ErrNotADirectory = errors.New("is a dataset")

	// ErrIO indicates a Data Store failure.
	ErrIO = errors.New("data store failure")
)

func (c Code) sentinel() error {
	switch c {
	case CodeNotFound:
		return ErrNotFound
	case CodeIsADirectory:
		return ErrIsADirectory
	case CodeUnsupportedEntry:
		return ErrUnsupportedEntry
	case CodePermissionDenied:
		return ErrPermissionDenied
	case CodeNotADirectory:
		return ErrNotADirectory
	default:
		return ErrIO
	}
}

func (c Code) String() string {
	return c.sentinel().Error()
}

// Error is a failed core operation.
type Error struct {
	Code Code
	Op   string
	Path string

	// Err is the underlying cause, if any (store or context error).
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Code)
}

// Unwrap exposes both the code's sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Code.sentinel(), e.Err}
	}
	return []error{e.Code.sentinel()}
}

func newError(code Code, op, path string, cause error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: cause}
}

// CodeOf extracts the code of a core error. ok is false for errors that did
// not originate here.
func CodeOf(err error) (code Code, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// fromStore classifies a Data Store error.
func fromStore(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeIO, op, path, err)
	}

	code, ok := store.CodeOf(err)
	switch {
	case ok && code == store.ErrNotFound:
		return newError(CodeNotFound, op, path, err)
	case ok && (code == store.ErrNotDataset || code == store.ErrNotGroup):
		// The entry changed kind between resolve and use, which a
		// read-only store cannot do; treat it like a vanished entry.
		return newError(CodeNotFound, op, path, err)
	default:
		return newError(CodeIO, op, path, err)
	}
}
