package slcan

import (
	"bytes"
	"testing"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

func TestParseLineStandardFrame(t *testing.T) {
	var d Decoder
	frame, ok := d.ParseLine([]byte("t12321122"))
	if !ok {
		t.Fatal("expected a frame")
	}
	if frame.Extended || frame.ID != 0x123 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if !bytes.Equal(frame.Data, []byte{0x11, 0x22}) {
		t.Fatalf("data = % x, want 11 22", frame.Data)
	}
	if frame.Timestamp != nil {
		t.Fatal("expected no timestamp when none is present on the line")
	}
}

func TestParseLineExtendedFrame(t *testing.T) {
	var d Decoder
	frame, ok := d.ParseLine([]byte("T1234567821122"))
	if !ok {
		t.Fatal("expected a frame")
	}
	if !frame.Extended || frame.ID != 0x12345678 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestParseLineUnrecognizedLeadingByteIgnored(t *testing.T) {
	var d Decoder
	if _, ok := d.ParseLine([]byte("Zbogus")); ok {
		t.Fatal("expected unrecognized lines to be silently dropped")
	}
}

func TestEncodeFrameS4(t *testing.T) {
	frame, err := canframe.New(0x1F, []byte{0x11, 0x22})
	if err != nil {
		t.Fatal(err)
	}
	got := EncodeFrame(frame)
	want := "t01F21122"
	if got != want {
		t.Fatalf("EncodeFrame = %q, want %q", got, want)
	}
}

// TestTimestampRolloverS5 reproduces scenario S5: a J marker between two
// frames bumps the high word, and the second frame's timestamp combines
// that high word with the frame's own low 32 bits.
func TestTimestampRolloverS5(t *testing.T) {
	var d Decoder

	f1, ok := d.ParseLine([]byte("t12300000000"))
	if !ok {
		t.Fatal("expected first frame to parse")
	}
	if f1.Timestamp == nil || *f1.Timestamp != 0 {
		t.Fatalf("first timestamp = %v, want 0", f1.Timestamp)
	}

	if _, ok := d.ParseLine([]byte("J")); ok {
		t.Fatal("J marker must not produce a frame")
	}

	f2, ok := d.ParseLine([]byte("t1230FFFFFFFF"))
	if !ok {
		t.Fatal("expected second frame to parse")
	}
	want := (uint64(1) << 32) | 0xFFFFFFFF
	if f2.Timestamp == nil || *f2.Timestamp != want {
		t.Fatalf("second timestamp = %v, want %d", f2.Timestamp, want)
	}
}

func TestSplitLines(t *testing.T) {
	lines, remainder := splitLines([]byte("abc\rdef\rgh"))
	if len(lines) != 2 || string(lines[0]) != "abc" || string(lines[1]) != "def" {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if string(remainder) != "gh" {
		t.Fatalf("remainder = %q, want %q", remainder, "gh")
	}
}
