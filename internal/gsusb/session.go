package gsusb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/candriver"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/logging"
)

func init() {
	candriver.Register("gsusb", func(ctx context.Context, identifier string) (candriver.Driver, error) {
		return Open(ctx, identifier)
	})
}

const hostFormatMagic uint32 = 0xBEEF

// session implements candriver.Driver against a single gs_usb adapter.
type session struct {
	log *logrus.Entry
	t   *transport

	mu               sync.Mutex
	constraints      BitTimingConstraints
	configuredBitrate uint32
	haveBitrate      bool
	timestampEnabled bool
	channelOpen      bool
	padEnabled       bool
	featureFD        bool
	featurePad       bool

	channel uint8
	txCount uint32
}

// Open selects a gs_usb adapter matching identifier, claims its vendor
// interface, and performs the power-on handshake.
func Open(ctx context.Context, identifier string) (candriver.Driver, error) {
	log := logging.For("gsusb", identifier)

	t, err := openTransport(ctx, identifier, log)
	if err != nil {
		return nil, err
	}

	s := &session{log: log, t: t}
	if err := s.handshake(ctx); err != nil {
		t.close()
		return nil, err
	}
	return s, nil
}

func (s *session) Name() string { return "gsusb" }

// handshake implements the power-on sequence: HOST_FORMAT, BT_CONST_EXT
// with a BT_CONST fallback, a DEVICE_CONFIG liveness probe, then a feature
// re-read from whichever BT constant response was actually used.
func (s *session) handshake(ctx context.Context) error {
	magic := make([]byte, 4)
	binary.LittleEndian.PutUint32(magic, hostFormatMagic)
	n, err := s.t.controlOut(ctx, breqHostFormat, 1, 0, magic)
	if err != nil {
		return fmt.Errorf("gsusb: HOST_FORMAT: %w", err)
	}
	if n != len(magic) {
		return fmt.Errorf("gsusb: HOST_FORMAT short write (%d of %d bytes): %w", n, len(magic), candriver.ErrFatal)
	}

	constraints, err := s.readBitTimingConstraints(ctx)
	if err != nil {
		return err
	}
	s.constraints = constraints
	s.featureFD = constraints.Feature&featureFD != 0
	s.featurePad = constraints.Feature&featurePadPktsToMaxPktSize != 0

	if _, err := s.t.controlIn(ctx, breqDeviceConfig, 1, 0, 4); err != nil {
		return fmt.Errorf("gsusb: DEVICE_CONFIG liveness probe: %w", err)
	}

	return nil
}

// readBitTimingConstraints tries BT_CONST_EXT (52 bytes) first; a short
// read (at least 4 but fewer than 40 bytes) falls back to a fresh BT_CONST
// (40 bytes) request rather than treating the partial response as usable.
func (s *session) readBitTimingConstraints(ctx context.Context) (BitTimingConstraints, error) {
	ext, err := s.t.controlIn(ctx, breqBtConstExt, 0, 0, 52)
	if err == nil && len(ext) >= 40 {
		return ParseBtConst(ext)
	}
	if err == nil && len(ext) >= 4 && len(ext) < 40 {
		s.log.Debug("BT_CONST_EXT returned a short response, falling back to BT_CONST")
	}

	plain, err := s.t.controlIn(ctx, breqBtConst, 0, 0, 40)
	if err != nil {
		return BitTimingConstraints{}, fmt.Errorf("gsusb: BT_CONST: %w", err)
	}
	return ParseBtConst(plain)
}

func (s *session) EnableTimestamp(ctx context.Context) error {
	val := make([]byte, 4)
	binary.LittleEndian.PutUint32(val, 1)
	_, err := s.t.controlOut(ctx, breqTimestamp, 0, 0, val)
	// A timed-out or unsupported TIMESTAMP request is treated as success:
	// the HW_TIMESTAMP mode flag alone can be enough on some adapters.
	if err != nil && !errors.Is(err, candriver.ErrTimeout) {
		s.log.WithError(err).Debug("TIMESTAMP request failed, proceeding anyway")
	}

	s.mu.Lock()
	s.timestampEnabled = true
	s.mu.Unlock()
	return nil
}

func (s *session) SetBitrate(ctx context.Context, bitrate uint32) error {
	s.mu.Lock()
	constraints := s.constraints
	s.mu.Unlock()

	sol, ok := CalcBitTiming(bitrate, constraints)
	if !ok {
		return fmt.Errorf("gsusb: no bit-timing solution for %d bps: %w", bitrate, candriver.ErrInvalidInput)
	}

	if _, err := s.t.controlOut(ctx, breqMode, modeReset, uint16(s.channel), make([]byte, 4)); err != nil {
		return fmt.Errorf("gsusb: MODE(RESET) before BITTIMING: %w", err)
	}

	wire := sol.ToBytes()
	if _, err := s.t.controlOut(ctx, breqBitTiming, 0, uint16(s.channel), wire[:]); err != nil {
		return fmt.Errorf("gsusb: BITTIMING: %w", err)
	}

	s.mu.Lock()
	s.configuredBitrate = bitrate
	s.haveBitrate = true
	s.mu.Unlock()
	return nil
}

func (s *session) GetBitrate() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configuredBitrate, s.haveBitrate
}

func (s *session) OpenChannel(ctx context.Context) error {
	s.mu.Lock()
	if !s.haveBitrate {
		s.mu.Unlock()
		return fmt.Errorf("gsusb: open_channel before set_bitrate: %w", candriver.ErrInvalidInput)
	}
	timestampEnabled := s.timestampEnabled
	padRequested := s.featurePad
	s.mu.Unlock()

	var flags uint32
	if timestampEnabled {
		flags |= modeFlagHWTimestamp
	}
	if padRequested {
		flags |= modeFlagPadPktsToMaxSize
	}

	if _, err := s.t.controlOut(ctx, breqMode, modeReset, uint16(s.channel), make([]byte, 4)); err != nil {
		return fmt.Errorf("gsusb: MODE(RESET) before open: %w", err)
	}
	flagBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(flagBuf, flags)
	if _, err := s.t.controlOut(ctx, breqMode, modeStart, uint16(s.channel), flagBuf); err != nil {
		return fmt.Errorf("gsusb: MODE(START): %w", err)
	}

	s.mu.Lock()
	s.channelOpen = true
	s.padEnabled = padRequested
	s.mu.Unlock()

	s.t.updateRxConfig(s.channel, timestampEnabled)
	return nil
}

func (s *session) SendFrame(ctx context.Context, frame canframe.Frame) error {
	s.mu.Lock()
	if !s.channelOpen {
		s.mu.Unlock()
		return fmt.Errorf("gsusb: send_frame before open_channel: %w", candriver.ErrInvalidInput)
	}
	useFD := s.featureFD
	padEnabled := s.padEnabled
	s.mu.Unlock()

	echoID := atomic.AddUint32(&s.txCount, 1) % 16

	buf := s.encodeFrame(frame, echoID, useFD)
	if padEnabled {
		buf = padToPacketSize(buf, s.t.outWmax)
	}

	n, err := s.t.bulkWrite(ctx, buf)
	if err != nil {
		if errors.Is(err, candriver.ErrStall) && padEnabled {
			s.log.Warn("adapter rejected padded write, disabling padding for this session")
			s.mu.Lock()
			s.padEnabled = false
			s.mu.Unlock()

			retryBuf := s.encodeFrame(frame, echoID, useFD)
			_, retryErr := s.t.bulkWrite(ctx, retryBuf)
			return retryErr
		}
		return fmt.Errorf("gsusb: bulk_write: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("gsusb: bulk_write short write (%d of %d bytes): %w", n, len(buf), candriver.ErrProtocol)
	}
	return nil
}

func (s *session) encodeFrame(frame canframe.Frame, echoID uint32, useFD bool) []byte {
	if useFD {
		return encodeFrameFD(frame, echoID, s.channel)
	}
	return encodeFrameClassic(frame, echoID, s.channel)
}

func (s *session) ReadFrames(ctx context.Context) ([]canframe.Frame, error) {
	frames, alive := s.t.readFrames()
	if !alive {
		return nil, fmt.Errorf("gsusb: transport loop terminated: %w", candriver.ErrDeviceAbsent)
	}
	return frames, nil
}

func (s *session) CloseChannel(ctx context.Context) error {
	s.mu.Lock()
	if !s.channelOpen {
		s.mu.Unlock()
		return nil // idempotent: closing twice is not an error
	}
	s.channelOpen = false
	s.mu.Unlock()

	_, err := s.t.controlOut(ctx, breqMode, modeReset, uint16(s.channel), make([]byte, 4))
	if err != nil {
		s.log.WithError(err).Warn("MODE(RESET) on close_channel failed")
	}
	s.t.close()
	return nil
}
