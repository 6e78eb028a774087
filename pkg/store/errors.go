package store

import (
	"errors"
	"fmt"
)

// StoreError represents a domain error from Data Store operations.
//
// These are business logic errors (entry not found, malformed path, etc.)
// as opposed to infrastructure errors (disk failure, network error), which
// are wrapped with fmt.Errorf and returned as-is.
//
// The virtual filesystem layer translates StoreError codes into its own
// error taxonomy, and the request dispatcher translates those into errnos.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the native store path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// Is lets errors.Is match two StoreErrors by code alone.
func (e *StoreError) Is(target error) bool {
	var other *StoreError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code && other.Message == "" && other.Path == ""
}

// ErrorCode represents the category of a Data Store error.
type ErrorCode int

const (
	// ErrNotFound indicates no entry exists at the requested native path
	ErrNotFound ErrorCode = iota

	// ErrNotGroup indicates a path component that should be a group is a dataset
	ErrNotGroup

	// ErrNotDataset indicates a payload operation was attempted on a group
	ErrNotDataset

	// ErrAlreadyExists indicates an entry already occupies the path
	ErrAlreadyExists

	// ErrInvalidArgument indicates malformed input (bad path, bad dtype,
	// payload size that disagrees with shape and item width)
	ErrInvalidArgument

	// ErrIOError indicates the backing storage failed
	ErrIOError

	// ErrReadOnly indicates a mutation was attempted on a store opened read-only
	ErrReadOnly
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrNotGroup:
		return "not a group"
	case ErrNotDataset:
		return "not a dataset"
	case ErrAlreadyExists:
		return "already exists"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrIOError:
		return "i/o error"
	case ErrReadOnly:
		return "read-only store"
	default:
		return fmt.Sprintf("error code %d", int(c))
	}
}

// NewError builds a StoreError with the given code.
func NewError(code ErrorCode, path string, format string, args ...any) *StoreError {
	return &StoreError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Path:    path,
	}
}

// NotFound returns the canonical ErrNotFound error for path.
func NotFound(path string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: "entry not found", Path: path}
}

// CodeOf extracts the ErrorCode from err. The second result is false when
// err is not (and does not wrap) a StoreError.
func CodeOf(err error) (ErrorCode, bool) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code, true
	}
	return 0, false
}

// IsNotFound reports whether err is a StoreError with code ErrNotFound.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrNotFound
}
