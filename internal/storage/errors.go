package storage

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

// Error kinds. Match them with errors.Is against any *Error.
var (
	ErrWrite      = errors.New("storage write failed")
	ErrRead       = errors.New("storage read failed")
	ErrNotFound   = errors.New("content not found")
	ErrPermission = errors.New("storage permission denied")
	ErrFull       = errors.New("storage full")
	ErrValidation = errors.New("invalid storage request")
	ErrBatchRun   = errors.New("no active batch run")
	ErrLocked     = errors.New("batch storage locked by another process")
)

// Error describes a failed tier operation.
type Error struct {
	Tier Tier
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s storage %s", e.Tier, e.Op)
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

// classify maps an OS error onto a kind, defaulting to fallback.
func classify(err, fallback error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermission
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EDQUOT):
		return ErrFull
	default:
		return fallback
	}
}

func newError(tier Tier, op, path string, kind, err error) *Error {
	return &Error{Tier: tier, Op: op, Path: path, Kind: kind, Err: err}
}

// retryable reports whether an operation may succeed if attempted again.
func retryable(err error) bool {
	var serr *Error
	if !errors.As(err, &serr) {
		return true
	}
	switch serr.Kind {
	case ErrNotFound, ErrPermission, ErrValidation, ErrBatchRun, ErrFull:
		return false
	default:
		return true
	}
}
