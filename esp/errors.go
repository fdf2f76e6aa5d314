package esp

import (
	"errors"
	"fmt"

	"i4.energy/across/esplink/at"
)

var (
	// ErrNoDialer is returned when a Driver is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the module.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Driver
	// that has no transport.
	//
	// This can occur if the Dialer returned a nil Transport or if the Driver
	// was not created via New.
	ErrNotInitialized = errors.New("driver not initialized")

	// ErrAlreadyClosed is returned when an operation or Close is called on a
	// Driver that has already been closed.
	ErrAlreadyClosed = errors.New("driver already closed")

	// ErrIO is returned when the transport fails to read or write. It is
	// fatal to the current operation only.
	ErrIO = errors.New("transport error")

	// ErrTimeout is returned when the deadline of an operation elapsed before
	// the module printed a terminal token. The caller may retry.
	ErrTimeout = errors.New("response timeout")

	// ErrModuleRejected is returned when the module answered with an explicit
	// failure token (ERROR, FAIL, SEND FAIL).
	//
	// Whether a retry makes sense depends on the cause, see JoinError.
	ErrModuleRejected = errors.New("module rejected command")

	// ErrDecode is returned when the response did not follow the expected
	// grammar. This usually means a firmware version mismatch.
	ErrDecode = errors.New("undecodable response")

	// ErrEncoding is returned when caller supplied parameters violate the
	// module's length or format constraints. Nothing is written.
	ErrEncoding = at.ErrEncoding

	// ErrNoData is returned by CIPReceive when no notification is pending.
	ErrNoData = errors.New("no pending data")
)

// CommandError describes a failed exchange. It unwraps to one of the
// sentinel errors above so callers can use errors.Is.
type CommandError struct {
	// Command is the AT command line, without terminator. Raw payload
	// writes are reported as "<data>".
	Command string
	// Response holds the payload captured before the failure, if any.
	Response string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Response == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %q", e.Command, e.Err, e.Response)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// JoinReason is the error code the module reports with +CWJAP when joining
// an access point fails.
type JoinReason int

const (
	JoinUnknown JoinReason = iota
	JoinTimeout
	JoinWrongPassword
	JoinNoAP
	JoinFailed
)

func (r JoinReason) String() string {
	switch r {
	case JoinTimeout:
		return "connection timeout"
	case JoinWrongPassword:
		return "wrong password"
	case JoinNoAP:
		return "access point not found"
	case JoinFailed:
		return "connection failed"
	default:
		return "unknown reason"
	}
}

// JoinError is returned by JoinAP when the module rejects the association.
// It wraps ErrModuleRejected.
type JoinError struct {
	Reason JoinReason
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join access point: %s", e.Reason)
}

func (e *JoinError) Unwrap() error {
	return ErrModuleRejected
}
