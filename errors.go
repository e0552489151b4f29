package rs232

import (
	"errors"
	"fmt"
)

var (
	ErrClosed             = errors.New("rs232: session closed")
	ErrAlreadyOpen        = errors.New("rs232: session already open")
	ErrTimeout            = errors.New("rs232: timed out")
	ErrNoDetectString     = errors.New("rs232: no detect string configured")
	ErrCommandInFlight    = errors.New("rs232: command already in flight")
	ErrInvalidLineOptions = errors.New("rs232: invalid line options")
	ErrInvalidHex         = errors.New("rs232: invalid hex byte string")
	ErrInvalidPortName    = errors.New("rs232: invalid port name")
	ErrDeviceNotFound     = errors.New("rs232: device not found")
)

// TransportError reports a failure of the underlying byte transport. The
// session stays open; only the call that hit the failure is affected.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rs232: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a wait or command timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
