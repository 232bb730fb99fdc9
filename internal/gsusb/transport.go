package gsusb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/candriver"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

// transport owns the gousb device handle exclusively. Every control and
// bulk operation is issued from the single goroutine running loop(); the
// protocol engine above it never touches ctx/dev/intf directly.
//
// This is the Go analogue of a dedicated single-owner USB thread: instead
// of a cgo libusb thread pumping libusb_handle_events, gousb's Context
// already runs its own background event-handling goroutine, so the
// single-owner discipline here is enforced purely by funneling every
// command through cmdCh rather than by an explicit OS thread.
type transport struct {
	log *logrus.Entry

	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	inEP  *gousb.InEndpoint
	outEP *gousb.OutEndpoint

	outWmax int

	cmdCh    chan command
	doneCh   chan struct{}
	doneOnce sync.Once

	// RX accumulator state, touched only inside loop().
	rxAcc           []byte
	channel         uint8
	timestampOn     bool
	lastTimestamp64 uint64
	padEnabled      bool

	frameCh chan canframe.Frame
}

type command struct {
	kind    commandKind
	request uint8
	value   uint16
	index   uint16
	data    []byte
	length  int
	reply   chan commandReply
}

type commandKind int

const (
	cmdControlOut commandKind = iota
	cmdControlIn
	cmdBulkWrite
	cmdUpdateConfig
	cmdShutdown
)

type commandReply struct {
	n    int
	data []byte
	err  error
}

// openTransport selects a gs_usb device matching identifier, claims its
// vendor interface, and starts the owning event-loop goroutine.
func openTransport(ctx context.Context, identifier string, log *logrus.Entry) (*transport, error) {
	usbCtx := gousb.NewContext()

	addr, info, label, err := selectDevice(usbCtx, identifier)
	if err != nil {
		usbCtx.Close()
		return nil, err
	}
	log = log.WithField("device", label)

	dev, err := addr.open(usbCtx)
	if err != nil {
		usbCtx.Close()
		return nil, fmt.Errorf("gsusb: opening device: %w", err)
	}

	dev.SetAutoDetach(true)

	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}
	cfg, err := dev.Config(cfgNum)
	if err != nil {
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("gsusb: claiming config: %w", err)
	}

	intf, err := cfg.Interface(info.interfaceNum, info.altSetting)
	if err != nil {
		cfg.Close()
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("gsusb: claiming interface %d alt %d: %w", info.interfaceNum, info.altSetting, err)
	}

	inEP, err := intf.InEndpoint(int(info.inEP & 0x0f))
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("gsusb: opening IN endpoint: %w", err)
	}

	outEP, err := intf.OutEndpoint(int(info.outEP & 0x0f))
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("gsusb: opening OUT endpoint: %w", err)
	}

	t := &transport{
		log:     log,
		ctx:     usbCtx,
		dev:     dev,
		cfg:     cfg,
		intf:    intf,
		inEP:    inEP,
		outEP:   outEP,
		outWmax: int(info.outWmax),
		cmdCh:   make(chan command, 128),
		doneCh:  make(chan struct{}),
		frameCh: make(chan canframe.Frame, 1024),
	}

	go t.loop()

	return t, nil
}

// loop is the single owning execution context for the USB handle: it
// serializes command processing and maintains numRxTransfers concurrent
// bulk-in reads, exactly as spec.md §4.A requires.
func (t *transport) loop() {
	defer close(t.doneCh)

	rxResults := make(chan rxResult, numRxTransfers)
	for i := 0; i < numRxTransfers; i++ {
		go t.submitRead(rxResults)
	}

	for {
		select {
		case cmd, ok := <-t.cmdCh:
			if !ok {
				return
			}
			if !t.handleCommand(cmd) {
				return
			}

		case res := <-rxResults:
			if !t.handleRxResult(res) {
				return
			}
			go t.submitRead(rxResults) // resubmit the completed slot
		}
	}
}

type rxResult struct {
	data []byte
	err  error
}

func (t *transport) submitRead(out chan<- rxResult) {
	readLen := t.outWmax
	if readLen < headerLen {
		readLen = maxFrameLen
	}
	buf := make([]byte, readLen)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := t.inEP.ReadContext(ctx, buf)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		// A read timeout with nothing received is the normal idle
		// case; resubmit silently rather than surfacing WouldBlock.
		out <- rxResult{}
		return
	}
	out <- rxResult{data: buf[:n], err: err}
}

// handleRxResult processes one completed bulk-in read. It returns false when
// the loop must terminate: a classified candriver.ErrDeviceAbsent means the
// device is gone, not stalled, and retrying forever would only hang every
// caller blocked in ReadFrames/SendFrame. Any other error (stall, timeout) is
// transient and is retried by the normal clearHalt-and-resubmit path.
func (t *transport) handleRxResult(res rxResult) bool {
	if res.err != nil {
		classified := classifyUSBError(res.err)
		if errors.Is(classified, candriver.ErrDeviceAbsent) {
			t.log.WithError(res.err).Warn("device disappeared, terminating transport loop")
			return false
		}
		t.log.WithError(res.err).Debug("bulk-in transfer failed, clearing halt")
		t.clearHalt(t.inEP.Desc.Address)
		time.Sleep(stallRecoverDelay)
		return true
	}
	if len(res.data) == 0 {
		return true
	}

	acc, frames := drainRxChunk(t.rxAcc, res.data, t.channel, t.timestampOn, &t.lastTimestamp64, t.outWmax, t.padEnabled)
	t.rxAcc = acc
	for _, f := range frames {
		select {
		case t.frameCh <- f:
		default:
			t.log.Warn("frame channel full, dropping received frame")
		}
	}
	return true
}

// handleCommand processes one command issued from controlOut/controlIn/
// bulkWrite. It always replies on cmd.reply before returning so the calling
// goroutine never hangs, but returns false when the classified error is
// candriver.ErrDeviceAbsent: the device is gone, so the loop terminates
// instead of accepting further commands that can only fail the same way.
func (t *transport) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdControlOut:
		n, err := t.dev.Control(requestTypeOut, cmd.request, cmd.value, cmd.index, cmd.data)
		classified := classifyUSBError(err)
		cmd.reply <- commandReply{n: n, err: classified}
		return !errors.Is(classified, candriver.ErrDeviceAbsent)

	case cmdControlIn:
		buf := make([]byte, cmd.length)
		n, err := t.dev.Control(requestTypeIn, cmd.request, cmd.value, cmd.index, buf)
		if err == nil {
			buf = buf[:n]
		}
		classified := classifyUSBError(err)
		cmd.reply <- commandReply{data: buf, err: classified}
		return !errors.Is(classified, candriver.ErrDeviceAbsent)

	case cmdBulkWrite:
		ctx, cancel := context.WithTimeout(context.Background(), usbBulkTXTimeout)
		n, err := t.outEP.WriteContext(ctx, cmd.data)
		cancel()

		classified := classifyUSBError(err)
		if classified != nil && !errors.Is(classified, candriver.ErrDeviceAbsent) {
			t.clearHalt(t.outEP.Desc.Address)
			if isBrokenPipe(err) {
				t.recoverFromStall()
			}
		}
		cmd.reply <- commandReply{n: n, err: classified}
		return !errors.Is(classified, candriver.ErrDeviceAbsent)

	case cmdUpdateConfig:
		t.timestampOn = cmd.value != 0
		t.padEnabled = len(cmd.data) > 0 && cmd.data[0] != 0
		return true

	case cmdShutdown:
		return false
	}
	return true
}

func (t *transport) controlOut(ctx context.Context, request uint8, value, index uint16, data []byte) (int, error) {
	reply := make(chan commandReply, 1)
	select {
	case t.cmdCh <- command{kind: cmdControlOut, request: request, value: value, index: index, data: data, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.doneCh:
		return 0, fmt.Errorf("gsusb: transport closed: %w", candriver.ErrFatal)
	}
	select {
	case r := <-reply:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *transport) controlIn(ctx context.Context, request uint8, value, index uint16, length int) ([]byte, error) {
	reply := make(chan commandReply, 1)
	select {
	case t.cmdCh <- command{kind: cmdControlIn, request: request, value: value, index: index, length: length, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.doneCh:
		return nil, fmt.Errorf("gsusb: transport closed: %w", candriver.ErrFatal)
	}
	select {
	case r := <-reply:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *transport) bulkWrite(ctx context.Context, data []byte) (int, error) {
	reply := make(chan commandReply, 1)
	select {
	case t.cmdCh <- command{kind: cmdBulkWrite, data: data, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.doneCh:
		return 0, fmt.Errorf("gsusb: transport closed: %w", candriver.ErrFatal)
	}
	select {
	case r := <-reply:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// updateRxConfig tells the event loop about negotiated channel/timestamp/
// padding state so handleRxResult can parse frames without racing the
// caller.
func (t *transport) updateRxConfig(channel uint8, timestampOn bool) {
	tsVal := uint16(0)
	if timestampOn {
		tsVal = 1
	}
	select {
	case t.cmdCh <- command{kind: cmdUpdateConfig, value: tsVal, data: []byte{boolByte(timestampOn)}}:
	case <-t.doneCh:
	}
	t.channel = channel
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// readFrames drains whatever frames are already queued. It also reports
// whether the owning loop has terminated (device gone or shutdown), so
// callers can surface a fatal error instead of silently returning nothing
// forever.
func (t *transport) readFrames() ([]canframe.Frame, bool) {
	select {
	case <-t.doneCh:
		return nil, false
	default:
	}

	var frames []canframe.Frame
	for {
		select {
		case f := <-t.frameCh:
			frames = append(frames, f)
		default:
			return frames, true
		}
	}
}

// classifyUSBError maps a raw gousb/libusb error onto the driver error
// taxonomy so callers can branch with errors.Is rather than string matching.
func classifyUSBError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("gsusb: %w", candriver.ErrTimeout)
	case isBrokenPipe(err):
		return fmt.Errorf("gsusb: endpoint stalled: %w", candriver.ErrStall)
	case errors.Is(err, gousb.ErrorNotFound), errors.Is(err, gousb.ErrorNoDevice):
		return fmt.Errorf("gsusb: %w", candriver.ErrDeviceAbsent)
	default:
		return fmt.Errorf("gsusb: %w", err)
	}
}

func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gousb.ErrorPipe)
}

// clearHalt is called wherever a halted endpoint would be cleared. gousb has
// no direct ClearHalt call, so this only logs the occurrence; the endpoint's
// halt and data-toggle state are not reset. On the TX path a broken-pipe
// error additionally runs the mode-level recovery in recoverFromStall.
func (t *transport) clearHalt(addr gousb.EndpointAddress) {
	t.log.WithField("endpoint", addr).Debug("clearing halted endpoint")
}

// recoverFromStall runs the stall-recovery mode transition described in
// spec.md §4.A: MODE(RESET) then MODE(START) with the current flags, using
// a short timeout, before the original error is returned to the caller.
func (t *transport) recoverFromStall() {
	prevTimeout := t.dev.ControlTimeout
	t.dev.ControlTimeout = usbControlTimeout
	defer func() { t.dev.ControlTimeout = prevTimeout }()

	t.padEnabled = false

	resetBuf := make([]byte, 4)
	if _, err := t.dev.Control(requestTypeOut, breqMode, modeReset, uint16(t.channel), resetBuf); err != nil {
		t.log.WithError(err).Warn("stall recovery: MODE(RESET) failed")
		return
	}

	flags := uint32(0)
	if t.timestampOn {
		flags |= modeFlagHWTimestamp
	}
	flagBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(flagBuf, flags)
	if _, err := t.dev.Control(requestTypeOut, breqMode, modeStart, uint16(t.channel), flagBuf); err != nil {
		t.log.WithError(err).Warn("stall recovery: MODE(START) failed")
	}
}

func (t *transport) close() {
	t.doneOnce.Do(func() {
		select {
		case t.cmdCh <- command{kind: cmdShutdown}:
		default:
		}
		close(t.cmdCh)
	})
	<-t.doneCh
	t.intf.Close()
	t.cfg.Close()
	t.dev.Close()
	t.ctx.Close()
}
