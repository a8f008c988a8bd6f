package waypoint

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoTable       = errors.New("waypoint: no table backend configured")
	ErrVersionExists = errors.New("waypoint: checkpoint version already exists")

	// Not found errors.
	ErrCheckpointNotFound = errors.New("waypoint: checkpoint not found")
	ErrNoCheckpoints      = errors.New("waypoint: thread has no checkpoints")
	ErrThreadNotFound     = errors.New("waypoint: thread not found")
	ErrBlobNotFound       = errors.New("waypoint: blob not found")

	// State errors.
	ErrThreadNotActive   = errors.New("waypoint: thread is not active")
	ErrNoPendingApproval = errors.New("waypoint: no pending approval")
	ErrApprovalResolved  = errors.New("waypoint: approval already resolved")
	ErrUnknownPhase      = errors.New("waypoint: unknown phase")
	ErrUnknownFormat     = errors.New("waypoint: unknown export format")

	// ErrReplayContinueUnsupported is returned when a replay is requested
	// with continue_execution set. Replay is strictly non-mutating; resuming
	// execution from a historical checkpoint is not implemented.
	ErrReplayContinueUnsupported = errors.New("waypoint: replay with continued execution is not supported")
)

// permanentError marks a backend failure that retrying cannot fix
// (misconfiguration, missing bucket, auth). The saver logs it once and
// degrades to the fallback instead of burning retry attempts.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return "waypoint: permanent: " + e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so IsPermanent reports true. Backends wrap errors
// they know retrying cannot fix. Wrapping nil returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// permanent via Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Permanentf is shorthand for Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}
