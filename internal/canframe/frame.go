// Package canframe defines the CanFrame value type shared by every driver
// and the server bridge.
package canframe

import "fmt"

// Flag bits on the 32-bit wire identifier, following SocketCAN conventions.
const (
	EFFFlag uint32 = 0x80000000 // extended frame format
	RTRFlag uint32 = 0x40000000 // remote transmission request
	ERRFlag uint32 = 0x20000000 // error frame

	SFFMask uint32 = 0x000007FF // 11-bit standard identifier mask
	EFFMask uint32 = 0x1FFFFFFF // 29-bit extended identifier mask
)

// Frame is a normalized CAN frame, independent of the adapter that produced
// or will consume it.
type Frame struct {
	ID        uint32
	Extended  bool
	RTR       bool
	Error     bool
	DLC       uint8
	Data      []byte
	Timestamp *uint64 // microseconds since device boot; nil if unknown
}

// DlcToLen maps a 4-bit DLC field to its payload length in bytes.
// 0..8 map directly; 9..15 map to the CAN-FD lengths.
func DlcToLen(dlc uint8) int {
	switch {
	case dlc <= 8:
		return int(dlc)
	case dlc == 9:
		return 12
	case dlc == 10:
		return 16
	case dlc == 11:
		return 20
	case dlc == 12:
		return 24
	case dlc == 13:
		return 32
	case dlc == 14:
		return 48
	case dlc == 15:
		return 64
	}
	return 0
}

// LenToDlc maps a payload length in bytes back to a DLC field. Lengths that
// don't correspond to a valid classical or CAN-FD length return false.
func LenToDlc(n int) (uint8, bool) {
	switch {
	case n <= 8:
		return uint8(n), true
	case n == 12:
		return 9, true
	case n == 16:
		return 10, true
	case n == 20:
		return 11, true
	case n == 24:
		return 12, true
	case n == 32:
		return 13, true
	case n == 48:
		return 14, true
	case n == 64:
		return 15, true
	}
	return 0, false
}

// New constructs a standard (11-bit) data frame.
func New(id uint32, data []byte) (Frame, error) {
	return newDataFrame(id, false, data)
}

// NewExtended constructs an extended (29-bit) data frame.
func NewExtended(id uint32, data []byte) (Frame, error) {
	return newDataFrame(id, true, data)
}

func newDataFrame(id uint32, extended bool, data []byte) (Frame, error) {
	if err := checkID(id, extended); err != nil {
		return Frame{}, err
	}
	dlc, ok := LenToDlc(len(data))
	if !ok {
		return Frame{}, fmt.Errorf("canframe: invalid data length %d", len(data))
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return Frame{ID: id, Extended: extended, DLC: dlc, Data: buf}, nil
}

// NewRemote constructs a remote transmission request frame. RTR frames carry
// no data bytes on the wire, but dlc records the requested length.
func NewRemote(id uint32, extended bool, dlc uint8) (Frame, error) {
	if err := checkID(id, extended); err != nil {
		return Frame{}, err
	}
	if dlc > 15 {
		return Frame{}, fmt.Errorf("canframe: invalid RTR dlc %d", dlc)
	}
	return Frame{ID: id, Extended: extended, RTR: true, DLC: dlc}, nil
}

// NewError constructs an error frame. The id carries the raw 29-bit error
// mask as delivered by the adapter.
func NewError(id uint32) Frame {
	return Frame{ID: id & EFFMask, Error: true, Extended: true}
}

func checkID(id uint32, extended bool) error {
	if extended {
		if id > EFFMask {
			return fmt.Errorf("canframe: extended id %#x exceeds 29 bits", id)
		}
		return nil
	}
	if id > SFFMask {
		return fmt.Errorf("canframe: standard id %#x exceeds 11 bits", id)
	}
	return nil
}

// Len returns the number of data bytes the frame carries.
func (f Frame) Len() int {
	return len(f.Data)
}

func (f Frame) String() string {
	kind := "std"
	switch {
	case f.Error:
		kind = "err"
	case f.Extended:
		kind = "ext"
	}
	if f.RTR {
		return fmt.Sprintf("Frame{id=%#x %s RTR dlc=%d}", f.ID, kind, f.DLC)
	}
	return fmt.Sprintf("Frame{id=%#x %s data=% x}", f.ID, kind, f.Data)
}
