// Package mlagerr defines the MLAG core's error taxonomy and its mapping to
// POSIX-style negative error codes at the API boundary.
package mlagerr

import "fmt"

// Code classifies an error into one of the taxonomy kinds the core
// distinguishes at its API boundary.
type Code int

const (
	// CodeUnknown is the zero value and should never be returned deliberately.
	CodeUnknown Code = iota

	// CodeInvalidArgument marks out-of-range or null inputs rejected before
	// any state change.
	CodeInvalidArgument

	// CodePreconditionFailed marks an operation called before init/start,
	// or on a non-existent entity.
	CodePreconditionFailed

	// CodeNotFound marks a lookup of an unknown peer/IPL/opcode.
	CodeNotFound

	// CodeIoError marks a socket, file, or timer backend failure.
	CodeIoError

	// CodeTimeout marks a bounded wait that expired.
	CodeTimeout

	// CodeAddressFamilyUnsupported marks an IPv6 IPL configuration attempt.
	CodeAddressFamilyUnsupported

	// CodeFull marks a registry at capacity.
	CodeFull
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodePreconditionFailed:
		return "PreconditionFailed"
	case CodeNotFound:
		return "NotFound"
	case CodeIoError:
		return "IoError"
	case CodeTimeout:
		return "Timeout"
	case CodeAddressFamilyUnsupported:
		return "AddressFamilyUnsupported"
	case CodeFull:
		return "Full"
	default:
		return "Unknown"
	}
}

// POSIX returns the negative errno value spec.md §7 assigns to this code.
// Codes without a POSIX mapping (Timeout, Unknown) return 0.
func (c Code) POSIX() int {
	switch c {
	case CodeInvalidArgument:
		return -22 // EINVAL
	case CodePreconditionFailed:
		return -1 // EPERM
	case CodeNotFound:
		return -2 // ENOENT
	case CodeIoError:
		return -5 // EIO
	case CodeAddressFamilyUnsupported:
		return -97 // EAFNOSUPPORT
	case CodeFull:
		return -28 // ENOSPC
	default:
		return 0
	}
}

// Error is the MLAG core's error type: a taxonomy code, a component tag,
// and a wrapped cause.
type Error struct {
	Code      Code
	Component string
	Err       error
}

// New builds an *Error with no wrapped cause.
func New(code Code, component, msg string) *Error {
	return &Error{Code: code, Component: component, Err: fmt.Errorf("%s", msg)}
}

// Wrap builds an *Error wrapping an existing error.
func Wrap(code Code, component string, err error) *Error {
	return &Error{Code: code, Component: component, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Code, e.Component, e.Err)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// POSIX returns the negative errno this error maps to at the API boundary.
func (e *Error) POSIX() int {
	return e.Code.POSIX()
}
