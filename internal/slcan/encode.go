package slcan

import (
	"fmt"
	"strings"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
)

// EncodeFrame renders frame as an SLCAN TX line (without the trailing \r):
// standard frames use "t", extended use "T", data bytes as uppercase hex.
func EncodeFrame(frame canframe.Frame) string {
	var b strings.Builder
	if frame.Extended {
		fmt.Fprintf(&b, "T%08X", frame.ID)
	} else {
		fmt.Fprintf(&b, "t%03X", frame.ID)
	}
	fmt.Fprintf(&b, "%d", frame.DLC)
	for _, by := range frame.Data {
		fmt.Fprintf(&b, "%02X", by)
	}
	return b.String()
}
