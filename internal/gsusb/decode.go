package gsusb

import (
	"encoding/binary"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

// roundUp8 rounds n up to the next multiple of 8.
func roundUp8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

// roundUpTo rounds n up to the next multiple of m (m > 0).
func roundUpTo(n, m int) int {
	if m <= 0 {
		return n
	}
	if n%m == 0 {
		return n
	}
	return n + (m - n%m)
}

// parseResult is the outcome of a single parse attempt over the RX
// accumulator, starting at offset 0.
type parseResult struct {
	frame    canframe.Frame // zero value if the bytes were an echo or foreign-channel frame
	haveFrame bool
	consumed int  // bytes to drain from the accumulator; 0 means "need more data"
	resync   int  // bytes to drop before retrying (corrupt header); 0 means none
}

// parseHostFrame attempts to parse one gs_usb host frame from the front of
// buf. lastTimestamp64 is updated in place when a timestamp is extended.
// outWmax/padEnabled describe the negotiated TX/RX alignment; timestampOn
// reflects whether the session asked for hardware timestamps.
func parseHostFrame(buf []byte, channel uint8, timestampOn bool, lastTimestamp64 *uint64, outWmax int, padEnabled bool) parseResult {
	if len(buf) < headerLen {
		return parseResult{} // incomplete
	}

	echoID := binary.LittleEndian.Uint32(buf[0:4])
	rawID := binary.LittleEndian.Uint32(buf[4:8])
	dlc := buf[8]
	chan_ := buf[9]

	if dlc > 15 {
		return parseResult{resync: 1}
	}

	// A channel mismatch means the header is misaligned or corrupt, not a
	// legitimately-framed message on the wrong channel: resync one byte
	// at a time rather than trusting dlc/alignedPayload math derived from
	// a header we don't believe, and rather than dropping a whole frame's
	// worth of bytes as if it were a real (if foreign) frame.
	if chan_ != channel {
		return parseResult{resync: 1}
	}

	dataLen := canframe.DlcToLen(dlc)
	alignedPayload := dataLen
	if dataLen > 8 {
		alignedPayload = roundUp8(dataLen)
	}

	base := headerLen + alignedPayload

	// DLC=0 quirk: a zero-length payload is still padded to 8 zero bytes
	// on the wire (base=20), applied unconditionally before the
	// timestamp check.
	if dataLen == 0 && base != txClassicSize {
		base = txClassicSize
	}

	consumed := base
	if timestampOn {
		consumed = base + tsLen
	}

	if padEnabled && outWmax > 0 {
		consumed = roundUpTo(consumed, outWmax)
	}

	if len(buf) < consumed {
		return parseResult{} // incomplete, wait for more bytes
	}

	// The channel already matched above; an echo of our own TX still
	// consumes the full frame since the header and length are trusted.
	if echoID != echoIDUnused {
		return parseResult{consumed: consumed}
	}

	var frame canframe.Frame
	switch {
	case rawID&canframe.ERRFlag != 0:
		frame = canframe.NewError(rawID)
	case rawID&canframe.RTRFlag != 0:
		extended := rawID&canframe.EFFFlag != 0
		id := rawID & canframe.SFFMask
		if extended {
			id = rawID & canframe.EFFMask
		}
		rtrDlc := dlc
		if rtrDlc > 8 {
			rtrDlc = 8
		}
		f, err := canframe.NewRemote(id, extended, rtrDlc)
		if err != nil {
			return parseResult{resync: 1}
		}
		frame = f
	case rawID&canframe.EFFFlag != 0:
		id := rawID & canframe.EFFMask
		f, err := canframe.NewExtended(id, buf[headerLen:headerLen+dataLen])
		if err != nil {
			return parseResult{resync: 1}
		}
		frame = f
	default:
		id := rawID & canframe.SFFMask
		f, err := canframe.New(id, buf[headerLen:headerLen+dataLen])
		if err != nil {
			return parseResult{resync: 1}
		}
		frame = f
	}

	if timestampOn {
		ts32 := binary.LittleEndian.Uint32(buf[base : base+4])
		ts64 := extendTimestamp(*lastTimestamp64, ts32)
		*lastTimestamp64 = ts64
		frame.Timestamp = &ts64
	}

	return parseResult{frame: frame, haveFrame: true, consumed: consumed}
}

// extendTimestamp extends a 32-bit device tick to 64 bits relative to the
// previously observed value, bumping the upper 32 bits by one whenever the
// new tick wrapped (is smaller than the previous low word).
func extendTimestamp(last uint64, ts32 uint32) uint64 {
	prev32 := uint32(last)
	upper := last &^ 0xFFFFFFFF
	if ts32 < prev32 {
		upper += 1 << 32
	}
	return upper | uint64(ts32)
}

// drainRxChunk feeds a newly-received chunk of bytes into acc and returns
// the updated accumulator together with any frames extracted from it. It
// loops parseHostFrame until no further complete frame is available.
func drainRxChunk(acc []byte, chunk []byte, channel uint8, timestampOn bool, lastTimestamp64 *uint64, outWmax int, padEnabled bool) ([]byte, []canframe.Frame) {
	acc = append(acc, chunk...)

	var frames []canframe.Frame
	offset := 0
	for len(acc)-offset >= headerLen {
		res := parseHostFrame(acc[offset:], channel, timestampOn, lastTimestamp64, outWmax, padEnabled)
		if res.resync > 0 {
			offset += res.resync
			continue
		}
		if res.consumed == 0 {
			break
		}
		if res.haveFrame {
			frames = append(frames, res.frame)
		}
		offset += res.consumed
	}

	if offset > 0 {
		acc = append(acc[:0], acc[offset:]...)
	}
	return acc, frames
}
