package slcan

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelodlfrtr/serial"
	"github.com/sirupsen/logrus"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/candriver"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/logging"
)

func init() {
	candriver.Register("slcan", func(ctx context.Context, identifier string) (candriver.Driver, error) {
		return Open(ctx, identifier)
	})
}

// Session implements candriver.Driver against a serial SLCAN adapter.
//
// portMu is the single owning execution context for the underlying
// *serial.Port: every read or write, whether it's a frame poll in
// ReadFrames or a command/response probe like MeasuredBitrate, holds
// portMu for its entire operation. There is no background reader
// goroutine, so callers never race each other for bytes off the wire.
type Session struct {
	log  *logrus.Entry
	port *serial.Port

	decoder Decoder

	portMu sync.Mutex
	acc    []byte // accumulated partial line, guarded by portMu

	mu                sync.Mutex // guards the small state fields below
	configuredBitrate uint32
	haveBitrate       bool
	channelOpen       bool
}

// Open connects to the serial port named by identifier. identifier is the
// OS device path (e.g. "/dev/ttyACM0" or "COM3").
func Open(ctx context.Context, identifier string) (candriver.Driver, error) {
	log := logging.For("slcan", identifier)

	cfg := &serial.Config{
		Name:        identifier,
		Baud:        defaultBaud,
		ReadTimeout: readLoopTimeout,
		Size:        8,
		StopBits:    1,
		Parity:      serial.ParityNone,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("slcan: opening %s: %w", identifier, candriver.ErrDeviceAbsent)
	}

	return &Session{
		log:  log,
		port: port,
	}, nil
}

func (s *Session) Name() string { return "slcan" }

// writeCommandLocked writes cmd assuming the caller already holds portMu.
func (s *Session) writeCommandLocked(cmd string) error {
	_, err := s.port.Write([]byte(cmd + "\r"))
	if err != nil {
		return fmt.Errorf("slcan: writing %q: %w", cmd, candriver.ErrFatal)
	}
	return nil
}

func (s *Session) writeCommand(cmd string) error {
	s.portMu.Lock()
	defer s.portMu.Unlock()
	return s.writeCommandLocked(cmd)
}

func (s *Session) EnableTimestamp(ctx context.Context) error {
	return s.writeCommand("Z1")
}

func (s *Session) SetBitrate(ctx context.Context, bitrate uint32) error {
	idx := closestBitrateIndex(bitrate)
	if err := s.writeCommand(fmt.Sprintf("S%d", idx)); err != nil {
		return err
	}
	s.mu.Lock()
	s.configuredBitrate = bitrateTable[idx]
	s.haveBitrate = true
	s.mu.Unlock()
	return nil
}

func (s *Session) GetBitrate() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configuredBitrate, s.haveBitrate
}

func (s *Session) OpenChannel(ctx context.Context) error {
	s.mu.Lock()
	if !s.haveBitrate {
		s.mu.Unlock()
		return fmt.Errorf("slcan: open_channel before set_bitrate: %w", candriver.ErrInvalidInput)
	}
	s.mu.Unlock()

	if err := s.writeCommand("O"); err != nil {
		return err
	}
	s.mu.Lock()
	s.channelOpen = true
	s.mu.Unlock()
	return nil
}

func (s *Session) SendFrame(ctx context.Context, frame canframe.Frame) error {
	s.mu.Lock()
	open := s.channelOpen
	s.mu.Unlock()
	if !open {
		return fmt.Errorf("slcan: send_frame before open_channel: %w", candriver.ErrInvalidInput)
	}
	return s.writeCommand(EncodeFrame(frame))
}

// ReadFrames performs one poll of the serial port for whatever bytes have
// arrived since the last call, decodes any complete lines, and returns the
// data frames among them. It never blocks longer than the port's
// configured read timeout.
func (s *Session) ReadFrames(ctx context.Context) ([]canframe.Frame, error) {
	s.portMu.Lock()
	defer s.portMu.Unlock()

	buf := make([]byte, 256)
	n, err := s.port.Read(buf)
	if err != nil {
		// A read timeout is the common case when nothing has arrived;
		// the port reports it as an error with no other way to tell
		// it apart from a real I/O failure, so treat it as "nothing
		// to report" rather than fatal.
		return nil, nil
	}
	if n == 0 {
		return nil, nil
	}

	s.acc = append(s.acc, buf[:n]...)
	lines, remainder := splitLines(s.acc)
	s.acc = append(s.acc[:0], remainder...)

	var frames []canframe.Frame
	for _, line := range lines {
		if frame, ok := s.decoder.ParseLine(line); ok {
			frames = append(frames, frame)
		}
	}
	return frames, nil
}

func (s *Session) CloseChannel(ctx context.Context) error {
	s.mu.Lock()
	if !s.channelOpen {
		s.mu.Unlock()
		return nil
	}
	s.channelOpen = false
	s.mu.Unlock()

	err := s.writeCommand("C")

	s.portMu.Lock()
	if closeErr := s.port.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	s.portMu.Unlock()
	return err
}

// MeasuredBitrate issues the B\r probe and returns the adapter's measured
// bitrate, snapped to the nearest entry of the standard bitrate table.
func (s *Session) MeasuredBitrate(ctx context.Context) (uint32, error) {
	s.portMu.Lock()
	defer s.portMu.Unlock()

	if err := s.writeCommandLocked("B"); err != nil {
		return 0, err
	}

	buf := make([]byte, 4)
	deadline := time.Now().Add(probeTimeout)
	read := 0
	for read < 4 && time.Now().Before(deadline) {
		n, err := s.port.Read(buf[read:])
		if err != nil {
			continue
		}
		read += n
	}
	if read < 4 {
		return 0, fmt.Errorf("slcan: measured bitrate probe timed out: %w", candriver.ErrTimeout)
	}

	raw := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	if raw < minMeasuredBitrate {
		return 0, fmt.Errorf("slcan: implausible measured bitrate %d: %w", raw, candriver.ErrProtocol)
	}
	return bitrateTable[closestBitrateIndex(raw)], nil
}

// Version issues the V\r probe and returns the adapter's version string,
// skipping any frame-bearing lines ("T...") that arrive interleaved with
// the response.
func (s *Session) Version(ctx context.Context) (string, error) {
	s.portMu.Lock()
	defer s.portMu.Unlock()

	if err := s.writeCommandLocked("V"); err != nil {
		return "", err
	}

	deadline := time.Now().Add(probeTimeout)
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := s.port.Read(buf)
		if err != nil || n == 0 {
			time.Sleep(versionLineWait)
			continue
		}
		s.acc = append(s.acc, buf[:n]...)

		lines, remainder := splitLines(s.acc)
		s.acc = append(s.acc[:0], remainder...)
		for _, line := range lines {
			if len(line) > 0 && line[0] == 'T' {
				continue
			}
			return strings.TrimSpace(string(line)), nil
		}
	}
	return "", fmt.Errorf("slcan: version probe timed out: %w", candriver.ErrTimeout)
}
