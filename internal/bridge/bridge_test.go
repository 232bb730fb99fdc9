package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/ipc"
)

// fakeDriver is a minimal in-memory candriver.Driver for exercising the
// bridge's forwarding and shutdown logic without real hardware.
type fakeDriver struct {
	mu         sync.Mutex
	sent       []canframe.Frame
	toDeliver  []canframe.Frame
	closeCalls int
}

func (f *fakeDriver) EnableTimestamp(ctx context.Context) error          { return nil }
func (f *fakeDriver) SetBitrate(ctx context.Context, bitrate uint32) error { return nil }
func (f *fakeDriver) GetBitrate() (uint32, bool)                        { return 500_000, true }
func (f *fakeDriver) OpenChannel(ctx context.Context) error             { return nil }
func (f *fakeDriver) Name() string                                      { return "fake" }

func (f *fakeDriver) SendFrame(ctx context.Context, frame canframe.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeDriver) ReadFrames(ctx context.Context) ([]canframe.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.toDeliver
	f.toDeliver = nil
	return out, nil
}

func (f *fakeDriver) CloseChannel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeDriver) deliver(frame canframe.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toDeliver = append(f.toDeliver, frame)
}

func newTestBridge(t *testing.T, driver *fakeDriver) (*Bridge, string) {
	t.Helper()
	dir := t.TempDir()
	log := logrus.NewEntry(logrus.New())
	b, err := New(driver, dir, "test", log)
	if err != nil {
		t.Fatal(err)
	}
	return b, dir
}

func TestBridgeForwardsOutboundFrames(t *testing.T) {
	frame, err := canframe.New(0x42, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	driver := &fakeDriver{}
	b, dir := newTestBridge(t, driver)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	_, outPath := socketNames(dir, "test")
	client, err := ipc.Dial(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// The client connection is registered asynchronously by the server's
	// accept loop; give it a moment before the bridge broadcasts.
	time.Sleep(20 * time.Millisecond)
	driver.deliver(frame)

	recvCh := make(chan []byte, 1)
	go func() {
		if payload, err := client.Receive(); err == nil {
			recvCh <- payload
		}
	}()

	select {
	case payload := <-recvCh:
		got, err := ipc.DecodeFrame(payload)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != 0x42 {
			t.Errorf("forwarded frame id = %#x, want 0x42", got.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the forwarded frame")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not shut down")
	}

	if driver.closeCalls != 1 {
		t.Errorf("close_channel called %d times, want exactly 1", driver.closeCalls)
	}
}

// TestBridgeShutdownIsExactlyOnce reproduces S6: calling Shutdown twice
// must still only invoke close_channel once.
func TestBridgeShutdownIsExactlyOnce(t *testing.T) {
	driver := &fakeDriver{}
	b, _ := newTestBridge(t, driver)

	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	if driver.closeCalls != 1 {
		t.Errorf("close_channel called %d times, want exactly 1", driver.closeCalls)
	}
}
