// Package pcan registers the "pcan" driver name so it appears in driver
// selection lists and produces a clear error rather than an "unknown
// driver" message. PEAK-System's PCAN-Basic API is a proprietary
// Windows/Linux shared library (not a Go module available anywhere in this
// project's dependency pack), so there is nothing to wire it to; every
// operation reports ErrNotSupported instead of attempting a cgo binding.
package pcan

import (
	"context"
	"fmt"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/candriver"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

func init() {
	candriver.Register("pcan", func(ctx context.Context, identifier string) (candriver.Driver, error) {
		return nil, fmt.Errorf("pcan: PCAN-Basic bindings are not built into this binary: %w", candriver.ErrNotSupported)
	})
}

// stub exists only so the package type-checks as a Driver implementation;
// it is never constructed, since the constructor registered above always
// fails.
type stub struct{}

func (stub) EnableTimestamp(ctx context.Context) error { return candriver.ErrNotSupported }
func (stub) SetBitrate(ctx context.Context, bitrate uint32) error {
	return candriver.ErrNotSupported
}
func (stub) GetBitrate() (uint32, bool)      { return 0, false }
func (stub) OpenChannel(ctx context.Context) error { return candriver.ErrNotSupported }
func (stub) SendFrame(ctx context.Context, frame canframe.Frame) error {
	return candriver.ErrNotSupported
}
func (stub) ReadFrames(ctx context.Context) ([]canframe.Frame, error) {
	return nil, candriver.ErrNotSupported
}
func (stub) CloseChannel(ctx context.Context) error { return candriver.ErrNotSupported }
func (stub) Name() string                           { return "pcan" }

var _ candriver.Driver = stub{}
