package device

import (
	"errors"
	"fmt"
)

var (
	// ErrOracleUnavailable matches every OracleUnavailableError.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrInvalidBlock is returned when a transform input is not a multiple of the block size.
	ErrInvalidBlock = errors.New("value length must be a multiple of 16")
	// ErrBlockTooLarge is returned when a transform input exceeds the device limit.
	ErrBlockTooLarge = errors.New("value exceeds device limit")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// OracleUnavailableError reports a failed session or device-level rejection.
// Any occurrence aborts the whole run.
type OracleUnavailableError struct {
	Op  string
	Err error
}

func (e *OracleUnavailableError) Error() string {
	return fmt.Sprintf("oracle unavailable: %s: %v", e.Op, e.Err)
}

func (e *OracleUnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrOracleUnavailable) hold for every instance.
func (e *OracleUnavailableError) Is(target error) bool {
	return target == ErrOracleUnavailable
}

func unavailable(op string, err error) error {
	return &OracleUnavailableError{Op: op, Err: err}
}

// FailureError is a failure reported by the device itself.
type FailureError struct {
	Code    uint64
	Message string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("device failure %d: %s", e.Code, e.Message)
}
