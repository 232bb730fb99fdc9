package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

// Wire layout of a serialized CanFrame, fixed between server and client:
//
//	byte 0      flags: bit0=extended, bit1=RTR, bit2=error, bit3=has-timestamp
//	bytes 1..4  CAN identifier, little-endian u32
//	byte  5     DLC
//	bytes 6..   data (DlcToLen(dlc) bytes; none for RTR frames)
//	bytes ..+8  timestamp, little-endian u64, present iff bit3 is set
const (
	flagExtended     = 1 << 0
	flagRTR          = 1 << 1
	flagError        = 1 << 2
	flagHasTimestamp = 1 << 3
)

// EncodeFrame serializes frame into the wire format shared by the bridge's
// inbound and outbound IPC endpoints.
func EncodeFrame(frame canframe.Frame) ([]byte, error) {
	var flags byte
	if frame.Extended {
		flags |= flagExtended
	}
	if frame.RTR {
		flags |= flagRTR
	}
	if frame.Error {
		flags |= flagError
	}
	if frame.Timestamp != nil {
		flags |= flagHasTimestamp
	}

	buf := make([]byte, 6+len(frame.Data))
	buf[0] = flags
	binary.LittleEndian.PutUint32(buf[1:5], frame.ID)
	buf[5] = frame.DLC
	copy(buf[6:], frame.Data)

	if frame.Timestamp != nil {
		ts := make([]byte, 8)
		binary.LittleEndian.PutUint64(ts, *frame.Timestamp)
		buf = append(buf, ts...)
	}

	if len(buf) > maxPayloadLen {
		return nil, fmt.Errorf("ipc: encoded frame of %d bytes exceeds the %d-byte frame limit", len(buf), maxPayloadLen)
	}
	return buf, nil
}

// DecodeFrame reverses EncodeFrame.
func DecodeFrame(buf []byte) (canframe.Frame, error) {
	if len(buf) < 6 {
		return canframe.Frame{}, fmt.Errorf("ipc: frame payload too short (%d bytes)", len(buf))
	}

	flags := buf[0]
	id := binary.LittleEndian.Uint32(buf[1:5])
	dlc := buf[5]

	dataLen := canframe.DlcToLen(dlc)
	if flags&flagRTR != 0 {
		dataLen = 0 // RTR frames carry a dlc but no data bytes
	}
	if len(buf) < 6+dataLen {
		return canframe.Frame{}, fmt.Errorf("ipc: frame payload truncated: need %d data bytes, have %d", dataLen, len(buf)-6)
	}
	data := buf[6 : 6+dataLen]
	rest := buf[6+dataLen:]

	var frame canframe.Frame
	var err error
	switch {
	case flags&flagError != 0:
		frame = canframe.NewError(id)
	case flags&flagRTR != 0:
		frame, err = canframe.NewRemote(id, flags&flagExtended != 0, dlc)
	case flags&flagExtended != 0:
		frame, err = canframe.NewExtended(id, data)
	default:
		frame, err = canframe.New(id, data)
	}
	if err != nil {
		return canframe.Frame{}, err
	}

	if flags&flagHasTimestamp != 0 {
		if len(rest) < 8 {
			return canframe.Frame{}, fmt.Errorf("ipc: frame payload missing timestamp bytes")
		}
		ts := binary.LittleEndian.Uint64(rest[:8])
		frame.Timestamp = &ts
	}

	return frame, nil
}
