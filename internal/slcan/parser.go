package slcan

import (
	"encoding/hex"
	"strconv"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

// Decoder turns a stream of carriage-return-terminated SLCAN lines into
// frames. It owns the rollover counter that extends the wire's 32-bit
// timestamp to 64 bits across "J" markers.
type Decoder struct {
	timestampHigh uint32
}

// ParseLine decodes a single line (without its trailing \r). ok is false
// for rollover markers, unrecognized leading bytes, and malformed lines --
// all of which are silently dropped per the wire format, not reported as
// parse errors.
func (d *Decoder) ParseLine(line []byte) (frame canframe.Frame, ok bool) {
	if len(line) == 0 {
		return canframe.Frame{}, false
	}

	switch line[0] {
	case 'J':
		d.timestampHigh++
		return canframe.Frame{}, false
	case 't':
		return d.parseDataFrame(line[1:], false)
	case 'T':
		return d.parseDataFrame(line[1:], true)
	default:
		return canframe.Frame{}, false
	}
}

func (d *Decoder) parseDataFrame(rest []byte, extended bool) (canframe.Frame, bool) {
	idDigits := 3
	if extended {
		idDigits = 8
	}
	if len(rest) < idDigits+1 {
		return canframe.Frame{}, false
	}

	id, err := strconv.ParseUint(string(rest[:idDigits]), 16, 32)
	if err != nil {
		return canframe.Frame{}, false
	}
	rest = rest[idDigits:]

	dlc := rest[0] - '0'
	if dlc > 8 {
		return canframe.Frame{}, false
	}
	rest = rest[1:]

	dataHexLen := int(dlc) * 2
	if len(rest) < dataHexLen {
		return canframe.Frame{}, false
	}
	data, err := hex.DecodeString(string(rest[:dataHexLen]))
	if err != nil {
		return canframe.Frame{}, false
	}
	rest = rest[dataHexLen:]

	var frame canframe.Frame
	if extended {
		frame, err = canframe.NewExtended(uint32(id), data)
	} else {
		frame, err = canframe.New(uint32(id), data)
	}
	if err != nil {
		return canframe.Frame{}, false
	}

	if len(rest) >= 8 {
		low, err := strconv.ParseUint(string(rest[:8]), 16, 32)
		if err == nil {
			ts := (uint64(d.timestampHigh) << 32) | uint64(uint32(low))
			frame.Timestamp = &ts
		}
	}

	return frame, true
}

// splitLines scans acc for \r-terminated lines, returning the complete
// lines found and the unconsumed remainder.
func splitLines(acc []byte) (lines [][]byte, remainder []byte) {
	start := 0
	for i, b := range acc {
		if b == '\r' {
			lines = append(lines, acc[start:i])
			start = i + 1
		}
	}
	return lines, acc[start:]
}
