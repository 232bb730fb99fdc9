package gsusb

import (
	"encoding/binary"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

// encodeFrameHeader fills the common 12-byte header shared by both TX
// layouts: echo_id, can_id (with EFF/RTR/ERR flags folded in), dlc,
// channel, flags, reserved.
func encodeFrameHeader(buf []byte, frame canframe.Frame, echoID uint32, channel uint8) {
	binary.LittleEndian.PutUint32(buf[0:4], echoID)

	canID := frame.ID
	if frame.Extended {
		canID &= canframe.EFFMask
		canID |= canframe.EFFFlag
	} else {
		canID &= canframe.SFFMask
	}
	if frame.RTR {
		canID |= canframe.RTRFlag
	}
	if frame.Error {
		canID |= canframe.ERRFlag
	}
	binary.LittleEndian.PutUint32(buf[4:8], canID)

	buf[8] = frame.DLC
	buf[9] = channel
	buf[10] = 0 // flags: no FD/BRS support on the TX path
	buf[11] = 0 // reserved
}

// encodeFrameClassic encodes frame into the 20-byte classic layout (12-byte
// header + 8-byte data area), for adapters without the FD feature bit.
func encodeFrameClassic(frame canframe.Frame, echoID uint32, channel uint8) []byte {
	buf := make([]byte, txClassicSize)
	encodeFrameHeader(buf, frame, echoID, channel)
	n := len(frame.Data)
	if n > 8 {
		n = 8
	}
	copy(buf[headerLen:headerLen+n], frame.Data[:n])
	return buf
}

// encodeFrameFD encodes frame into the 76-byte FD-capable layout (12-byte
// header + 64-byte data area).
func encodeFrameFD(frame canframe.Frame, echoID uint32, channel uint8) []byte {
	buf := make([]byte, txFrameSize)
	encodeFrameHeader(buf, frame, echoID, channel)
	n := len(frame.Data)
	if n > maxData {
		n = maxData
	}
	copy(buf[headerLen:headerLen+n], frame.Data[:n])
	return buf
}

// padToPacketSize rounds buf up to the next multiple of wMax with zero
// bytes, leaving it unchanged if wMax is 0 or buf is already aligned.
func padToPacketSize(buf []byte, wMax int) []byte {
	if wMax <= 0 {
		return buf
	}
	rem := len(buf) % wMax
	if rem == 0 {
		return buf
	}
	padded := make([]byte, len(buf)+(wMax-rem))
	copy(padded, buf)
	return padded
}
