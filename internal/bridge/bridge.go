// Package bridge adapts one candriver.Driver instance to two
// unidirectional IPC endpoints, forwarding frames between CAN and any
// number of connected IPC clients.
package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/candriver"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/ipc"
)

// socketNames returns the pair of IPC socket paths used for a channel
// named name under runtimeDir, following the "..._in"/"..._out" naming
// fixed by the external interface contract.
func socketNames(runtimeDir, name string) (in, out string) {
	return filepath.Join(runtimeDir, fmt.Sprintf("can_%s_in", name)),
		filepath.Join(runtimeDir, fmt.Sprintf("can_%s_out", name))
}

// SocketPaths returns the pair of IPC socket paths used for a channel named
// name under runtimeDir, for CLI front-ends that need to dial a bridge
// started elsewhere.
func SocketPaths(runtimeDir, name string) (in, out string) {
	return socketNames(runtimeDir, name)
}

// AllocateChannelName resolves "auto" to the first unclaimed "canN" name
// under runtimeDir by probing whether a server already answers on that
// name's inbound socket; any other name is returned unchanged.
func AllocateChannelName(runtimeDir, requested string) string {
	if requested != "auto" {
		return requested
	}
	for i := 0; ; i++ {
		name := fmt.Sprintf("can%d", i)
		in, _ := socketNames(runtimeDir, name)
		client, err := ipc.Dial(in)
		if err != nil {
			return name
		}
		client.Close()
	}
}

// Bridge owns one driver instance and the two IPC servers for a single
// named channel.
type Bridge struct {
	log    *logrus.Entry
	driver candriver.Driver

	// driverMu serializes every call into driver: send_frame and
	// read_frames never run concurrently with each other or with
	// close_channel.
	driverMu sync.Mutex

	inbound  *ipc.Server
	outbound *ipc.Server

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New starts the channel's inbound/outbound IPC servers and returns a
// Bridge ready to Run.
func New(driver candriver.Driver, runtimeDir, channel string, log *logrus.Entry) (*Bridge, error) {
	inPath, outPath := socketNames(runtimeDir, channel)

	inbound, err := ipc.Listen(inPath, log.WithField("endpoint", "in"))
	if err != nil {
		return nil, fmt.Errorf("bridge: starting inbound endpoint: %w", err)
	}
	outbound, err := ipc.Listen(outPath, log.WithField("endpoint", "out"))
	if err != nil {
		inbound.Close()
		return nil, fmt.Errorf("bridge: starting outbound endpoint: %w", err)
	}

	return &Bridge{
		log:      log,
		driver:   driver,
		inbound:  inbound,
		outbound: outbound,
		stopCh:   make(chan struct{}),
	}, nil
}

// Run starts the inbound and outbound forwarding tasks and blocks until
// ctx is cancelled or one of them exits, then shuts down.
func (b *Bridge) Run(ctx context.Context) error {
	b.wg.Add(2)
	go b.inboundLoop(ctx)
	go b.outboundLoop(ctx)

	// The tasks only exit on ctx cancellation or on stopCh closing, so
	// waiting on both covers "one of them exits".
	select {
	case <-ctx.Done():
	case <-b.stopCh:
	}
	return b.Shutdown(context.Background())
}

// inboundLoop is the IPC -> CAN forwarding task: deserialize each incoming
// message and hand it to send_frame, logging per-message failures without
// stopping the loop.
func (b *Bridge) inboundLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case payload := <-b.inbound.Incoming:
			frame, err := ipc.DecodeFrame(payload)
			if err != nil {
				b.log.WithError(err).Warn("bridge: dropping malformed inbound message")
				continue
			}

			b.driverMu.Lock()
			err = b.driver.SendFrame(ctx, frame)
			b.driverMu.Unlock()
			if err != nil {
				b.log.WithError(err).Warn("bridge: send_frame failed")
			}
		}
	}
}

// outboundLoop is the CAN -> IPC forwarding task: poll read_frames and
// broadcast each frame to connected clients with a non-blocking send,
// dropping frames when no one can keep up.
func (b *Bridge) outboundLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.driverMu.Lock()
			frames, err := b.driver.ReadFrames(ctx)
			b.driverMu.Unlock()
			if err != nil {
				b.log.WithError(err).Warn("bridge: read_frames failed")
				continue
			}
			for _, frame := range frames {
				b.publish(frame)
			}
		}
	}
}

func (b *Bridge) publish(frame canframe.Frame) {
	payload, err := ipc.EncodeFrame(frame)
	if err != nil {
		b.log.WithError(err).Warn("bridge: dropping frame that failed to encode")
		return
	}
	b.outbound.Broadcast(payload)
}

// Shutdown aborts both forwarding tasks, waits for them to release the
// driver lock, and calls close_channel exactly once. Safe to call more
// than once; only the first call does any work.
func (b *Bridge) Shutdown(ctx context.Context) error {
	var closeErr error
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()

		b.driverMu.Lock()
		closeErr = b.driver.CloseChannel(ctx)
		b.driverMu.Unlock()
		if closeErr != nil {
			b.log.WithError(closeErr).Warn("bridge: close_channel failed")
		}

		b.inbound.Close()
		b.outbound.Close()
	})
	return closeErr
}
