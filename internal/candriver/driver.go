// Package candriver defines the adapter-agnostic driver capability set
// consumed by the server bridge, and a registry of named driver
// constructors, grounded on the Bus/RegisterInterface pattern used for
// pluggable CAN interfaces elsewhere in the ecosystem.
package candriver

import (
	"context"
	"fmt"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

// Driver is the capability set the server bridge drives every adapter
// through: enable_timestamp, set_bitrate, get_bitrate, open_channel,
// send_frame, read_frames, close_channel.
type Driver interface {
	// EnableTimestamp asks the adapter to timestamp received frames.
	// Drivers that don't support the request may still report success,
	// since the mode flag alone can suffice.
	EnableTimestamp(ctx context.Context) error

	// SetBitrate programs the adapter's bit timing for bitrate bits/sec.
	// Must be called before OpenChannel.
	SetBitrate(ctx context.Context, bitrate uint32) error

	// GetBitrate returns the last bitrate successfully programmed, if any.
	GetBitrate() (bitrate uint32, ok bool)

	// OpenChannel transitions the adapter into active CAN communication.
	OpenChannel(ctx context.Context) error

	// SendFrame transmits a single frame.
	SendFrame(ctx context.Context, frame canframe.Frame) error

	// ReadFrames returns any frames received since the last call. It
	// does not block waiting for new data; an empty slice is a normal
	// result.
	ReadFrames(ctx context.Context) ([]canframe.Frame, error)

	// CloseChannel closes the CAN channel. Idempotent: calling it again
	// after a successful close must not panic, though it may return an
	// error.
	CloseChannel(ctx context.Context) error

	// Name identifies the driver variant, e.g. "gsusb", "slcan", "pcan".
	Name() string
}

// NewDriverFunc constructs a Driver bound to the given identifier (a USB
// selector, a serial port path, or a PCAN channel name depending on the
// variant).
type NewDriverFunc func(ctx context.Context, identifier string) (Driver, error)

var registry = make(map[string]NewDriverFunc)

// Register makes a driver constructor available under name. Intended to be
// called from a driver package's init().
func Register(name string, fn NewDriverFunc) {
	registry[name] = fn
}

// Open constructs a new driver of the named variant.
func Open(ctx context.Context, name, identifier string) (Driver, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("candriver: unsupported driver %q: %w", name, ErrInvalidInput)
	}
	return fn(ctx, identifier)
}

// Names returns the currently registered driver names, for CLI usage text.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
