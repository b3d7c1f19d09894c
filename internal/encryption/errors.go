package encryption

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPadding matches every MalformedPaddingError.
	ErrMalformedPadding = errors.New("malformed padding")
	// ErrTruncatedHeader matches every TruncatedHeaderError.
	ErrTruncatedHeader = errors.New("truncated header")
	// ErrIntegrityMismatch matches every IntegrityMismatchError.
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	// ErrKeyPathMismatch matches every KeyPathMismatchError.
	ErrKeyPathMismatch = errors.New("key path mismatch")
	// ErrMalformedHeader is returned for headers that are complete but unreadable.
	ErrMalformedHeader = errors.New("malformed header")
	// ErrUnsupportedScheme is returned for scheme and format combinations that cannot be encoded.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	// ErrOutputExists is returned when the output exists and does not match the input.
	ErrOutputExists = errors.New("output already exists")
	// ErrEmptyCiphertext is returned for a header without ciphertext.
	ErrEmptyCiphertext = errors.New("header without ciphertext")
	// ErrInputChanged is returned when the input changes while it is being encrypted.
	ErrInputChanged = errors.New("input changed during encryption")

	// errBadRecord marks a structured record that was read in full but does not decode.
	errBadRecord = errors.New("unreadable record")
)

// MalformedPaddingError reports an invalid trailing padding byte.
type MalformedPaddingError struct {
	Value  int
	Length int
}

func (e *MalformedPaddingError) Error() string {
	return fmt.Sprintf("malformed padding: value %d for %d bytes", e.Value, e.Length)
}

func (e *MalformedPaddingError) Is(target error) bool { return target == ErrMalformedPadding }

// TruncatedHeaderError reports a header shorter than it declares.
type TruncatedHeaderError struct {
	Want int
	Got  int
}

func (e *TruncatedHeaderError) Error() string {
	return fmt.Sprintf("truncated header: need %d bytes, have %d", e.Want, e.Got)
}

func (e *TruncatedHeaderError) Is(target error) bool { return target == ErrTruncatedHeader }

// IntegrityMismatchError reports that decrypted content does not match the recorded digest,
// or that the ciphertext could not be authenticated at all (Cause set).
type IntegrityMismatchError struct {
	Expected string
	Actual   string
	Cause    error
}

func (e *IntegrityMismatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("integrity mismatch: %v", e.Cause)
	}

	return fmt.Sprintf("integrity mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *IntegrityMismatchError) Is(target error) bool { return target == ErrIntegrityMismatch }

func (e *IntegrityMismatchError) Unwrap() error { return e.Cause }

// KeyPathMismatchError is a warning: the header records a different derivation
// path (or key name) than the one configured. The recorded value is used.
type KeyPathMismatchError struct {
	Field      string
	Recorded   string
	Configured string
}

func (e *KeyPathMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: using recorded %q instead of %q", e.Field, e.Recorded, e.Configured)
}

func (e *KeyPathMismatchError) Is(target error) bool { return target == ErrKeyPathMismatch }
