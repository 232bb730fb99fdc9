package gsusb

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	fields := strings.Fields(s)
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			t.Fatalf("bad hex byte %q: %v", f, err)
		}
		out = append(out, byte(v))
	}
	return out
}

// TestParseHostFrameS2 reproduces scenario S2: echo=0xFFFFFFFF, id=0x123,
// dlc=3, chan=0, timestamps disabled.
func TestParseHostFrameS2(t *testing.T) {
	buf := hexBytes(t, "FF FF FF FF 23 01 00 00 03 00 00 00 DE AD BE")
	var lastTS uint64
	res := parseHostFrame(buf, 0, false, &lastTS, 0, false)

	if res.consumed != 15 {
		t.Fatalf("consumed = %d, want 15", res.consumed)
	}
	if !res.haveFrame {
		t.Fatal("expected a user frame")
	}
	if res.frame.ID != 0x123 || res.frame.Extended || res.frame.RTR || res.frame.Error {
		t.Errorf("unexpected frame: %+v", res.frame)
	}
	if !bytes.Equal(res.frame.Data, []byte{0xDE, 0xAD, 0xBE}) {
		t.Errorf("data = % x, want DE AD BE", res.frame.Data)
	}
}

// TestParseHostFrameS3 reproduces scenario S3: same bytes but echo_id=2 ->
// the frame is a TX echo and must not be surfaced as a user frame, while
// still consuming 15 bytes.
func TestParseHostFrameS3(t *testing.T) {
	buf := hexBytes(t, "02 00 00 00 23 01 00 00 03 00 00 00 DE AD BE")
	var lastTS uint64
	res := parseHostFrame(buf, 0, false, &lastTS, 0, false)

	if res.consumed != 15 {
		t.Fatalf("consumed = %d, want 15", res.consumed)
	}
	if res.haveFrame {
		t.Fatal("echo frame must not be surfaced as a user frame")
	}
}

// TestParseHostFrameDLCZeroQuirk: DLC=0 with timestamps disabled consumes
// exactly 20 bytes (12-byte header + 8 bytes of zero padding).
func TestParseHostFrameDLCZeroQuirk(t *testing.T) {
	buf := make([]byte, 20)
	putLE32(buf[0:4], echoIDUnused)
	buf[8] = 0 // dlc
	var lastTS uint64
	res := parseHostFrame(buf, 0, false, &lastTS, 0, false)
	if res.consumed != 20 {
		t.Fatalf("consumed = %d, want 20", res.consumed)
	}
	if !res.haveFrame || len(res.frame.Data) != 0 {
		t.Fatalf("expected an empty-payload frame, got %+v", res.frame)
	}
}

// TestParseHostFrameDLCZeroQuirkWithTimestamp: the DLC=0 quirk applies
// unconditionally, even when timestamps are enabled (per SPEC_FULL.md §4
// resolution of the open question) -- base is still forced to 20 before the
// +4 timestamp bytes are required.
func TestParseHostFrameDLCZeroQuirkWithTimestamp(t *testing.T) {
	buf := make([]byte, 24)
	putLE32(buf[0:4], echoIDUnused)
	buf[8] = 0 // dlc
	putLE32(buf[20:24], 12345)
	var lastTS uint64
	res := parseHostFrame(buf, 0, true, &lastTS, 0, false)
	if res.consumed != 24 {
		t.Fatalf("consumed = %d, want 24 (20 header+pad + 4 timestamp)", res.consumed)
	}
	if !res.haveFrame {
		t.Fatal("expected a frame")
	}
	if res.frame.Timestamp == nil || *res.frame.Timestamp != 12345 {
		t.Fatalf("timestamp = %v, want 12345", res.frame.Timestamp)
	}
}

// TestParseHostFrameDLC15WithTimestampPadded reproduces the DLC=15,
// timestamps-enabled, pad-to-32 boundary behavior: 12+64+4=80 rounds up to
// 96.
func TestParseHostFrameDLC15WithTimestampPadded(t *testing.T) {
	buf := make([]byte, 96)
	putLE32(buf[0:4], echoIDUnused)
	buf[8] = 15 // dlc -> 64 bytes
	var lastTS uint64
	res := parseHostFrame(buf, 0, true, &lastTS, 32, true)
	if res.consumed != 96 {
		t.Fatalf("consumed = %d, want 96", res.consumed)
	}
}

func TestParseHostFrameIncomplete(t *testing.T) {
	buf := hexBytes(t, "FF FF FF FF 23 01 00 00 03 00 00 00")
	var lastTS uint64
	res := parseHostFrame(buf, 0, false, &lastTS, 0, false)
	if res.consumed != 0 || res.haveFrame || res.resync != 0 {
		t.Fatalf("expected 'need more data', got %+v", res)
	}
}

func TestParseHostFrameCorruptDLCResyncs(t *testing.T) {
	buf := hexBytes(t, "FF FF FF FF 23 01 00 00 FF 00 00 00")
	var lastTS uint64
	res := parseHostFrame(buf, 0, false, &lastTS, 0, false)
	if res.resync != 1 {
		t.Fatalf("expected resync=1 for dlc>15, got %+v", res)
	}
}

// TestParseHostFrameForeignChannelResyncsOneByte: a frame addressed to a
// different channel must not be treated as a plausible (if foreign) frame
// consuming its whole length -- it resyncs one byte at a time instead,
// since a channel mismatch means the header is misaligned or corrupt.
func TestParseHostFrameForeignChannelResyncsOneByte(t *testing.T) {
	buf := hexBytes(t, "FF FF FF FF 23 01 00 00 03 01 00 00 DE AD BE")
	var lastTS uint64
	res := parseHostFrame(buf, 0, false, &lastTS, 0, false)
	if res.resync != 1 {
		t.Fatalf("expected resync=1 for a foreign-channel header, got %+v", res)
	}
	if res.haveFrame || res.consumed != 0 {
		t.Fatalf("a foreign-channel resync must not surface a frame or consume bytes: %+v", res)
	}
}

// TestDrainRxChunkResyncsPastMisalignedByte: a single stray byte ahead of a
// genuine frame throws off header alignment enough to land on a
// foreign-channel reading; that must resync one byte at a time (not
// consume a whole frame's worth of bytes) so the real frame right behind
// it is still found at its true boundary.
func TestDrainRxChunkResyncsPastMisalignedByte(t *testing.T) {
	real := hexBytes(t, "FF FF FF FF 23 01 00 00 03 00 00 00 DE AD BE")
	stream := append([]byte{0xAB}, real...)

	var lastTS uint64
	acc, frames := drainRxChunk(nil, stream, 0, false, &lastTS, 0, false)

	if len(acc) != 0 {
		t.Fatalf("leftover accumulator bytes: %d, want 0", len(acc))
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (only the real frame, found after a 1-byte resync)", len(frames))
	}
	if frames[0].ID != 0x123 {
		t.Fatalf("unexpected surfaced frame: %+v", frames[0])
	}
}

func TestExtendTimestampMonotonicOverWraps(t *testing.T) {
	var last uint64
	ticks := []uint32{10, 20, 30, 5, 15, 25, 4294967290, 2, 100}
	for _, tick := range ticks {
		next := extendTimestamp(last, tick)
		if next < last {
			t.Fatalf("timestamp went backwards: last=%d next=%d (tick=%d)", last, next, tick)
		}
		if next&0xFFFFFFFF != uint64(tick) {
			t.Fatalf("low 32 bits mismatch: got %d want %d", next&0xFFFFFFFF, tick)
		}
		last = next
	}
}

func TestDrainRxChunkConsumesEveryByte(t *testing.T) {
	one := hexBytes(t, "FF FF FF FF 23 01 00 00 03 00 00 00 DE AD BE")
	stream := append(append([]byte{}, one...), one...)

	var lastTS uint64
	var acc []byte
	var frames []canframe.Frame

	// Feed the stream in two uneven chunks to exercise carry-over.
	split := 10
	acc, f1 := drainRxChunk(acc, stream[:split], 0, false, &lastTS, 0, false)
	frames = append(frames, f1...)
	acc, f2 := drainRxChunk(acc, stream[split:], 0, false, &lastTS, 0, false)
	frames = append(frames, f2...)

	if len(acc) != 0 {
		t.Fatalf("leftover accumulator bytes: %d, want 0", len(acc))
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
}
