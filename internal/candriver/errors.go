package candriver

import "errors"

// Error taxonomy shared by every driver implementation. Errors returned from
// driver methods should wrap one of these with fmt.Errorf("...: %w", ...) so
// callers can classify failures with errors.Is.
var (
	// ErrInvalidInput marks malformed user input: bad frame syntax,
	// unsupported bitrate, or opening a channel before set_bitrate.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDeviceAbsent marks an adapter that disconnected or never matched
	// the requested identifier.
	ErrDeviceAbsent = errors.New("device absent")

	// ErrTimeout marks a transfer that exceeded its timeout; normally
	// benign at the transport layer.
	ErrTimeout = errors.New("timeout")

	// ErrStall marks a halted endpoint.
	ErrStall = errors.New("endpoint stalled")

	// ErrProtocol marks a short read/write or an implausible header; the
	// engine resynchronizes without tearing down the session.
	ErrProtocol = errors.New("protocol error")

	// ErrFatal marks an unrecoverable USB or OS error that must propagate
	// and cause the bridge to shut down cleanly.
	ErrFatal = errors.New("fatal driver error")

	// ErrNotSupported marks an operation unavailable on this driver
	// variant (used by the PCAN stub).
	ErrNotSupported = errors.New("not supported by this driver")
)
