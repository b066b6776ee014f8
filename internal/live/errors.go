package live

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is returned by Connect when Disconnect ran while it was
	// still in flight.
	ErrAborted = errors.New("connect aborted by disconnect")

	// ErrRemoteClosed reports that the remote ended the stream without an
	// error of its own.
	ErrRemoteClosed = errors.New("remote closed the session")
)

// PreconditionError rejects a Connect before any resource is acquired.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "live session precondition: " + e.Reason
}

// DeviceError is an input or output audio device failure: unavailable,
// permission denied or broken mid-stream.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s device: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// TransportError is a remote service failure: dial, handshake, send,
// receive or an error reported by the service.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorKind names the class of a session error for logs and metrics.
func ErrorKind(err error) string {
	var (
		pe *PreconditionError
		de *DeviceError
		te *TransportError
	)
	switch {
	case errors.As(err, &pe):
		return "precondition"
	case errors.As(err, &de):
		return "device"
	case errors.As(err, &te):
		return "transport"
	default:
		return "unknown"
	}
}
