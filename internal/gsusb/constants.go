// Package gsusb implements the gs_usb vendor-specific USB protocol client:
// the USB transport + event loop (component A) and the protocol engine
// (component B).
package gsusb

import "time"

// USB identity of gs_usb-class adapters (candleLight, CANable, etc).
const (
	VendorID  = 0x1D50
	ProductID = 0x606F

	vendorInterfaceClass = 0xff
)

// Default timeouts.
const (
	usbControlTimeout = 100 * time.Millisecond
	usbBulkTXTimeout  = 20 * time.Millisecond
	stallRecoverDelay = 5 * time.Millisecond
)

// Frame sizing.
const (
	headerLen   = 12 // echo_id(4) + can_id(4) + dlc(1) + chan(1) + flags(1) + reserved(1)
	tsLen       = 4  // optional u32 RX timestamp
	maxData     = 64
	maxFrameLen = headerLen + tsLen + maxData // 80
	txFrameSize = headerLen + maxData         // 76, no timestamp on TX
	txClassicSize = headerLen + 8             // 20, classic (non-FD) layout

	echoIDUnused uint32 = 0xFFFFFFFF

	numRxTransfers = 8 // recommended pending bulk-in transfer count
)

// Control request codes (bRequest values), fixed by the gs_usb protocol.
const (
	breqHostFormat   = 0x00
	breqBitTiming    = 0x01
	breqMode         = 0x02
	breqBtConst      = 0x04
	breqDeviceConfig = 0x05
	breqTimestamp    = 0x06
	breqBtConstExt   = 0x0B
)

// gs_can_mode command values.
const (
	modeReset = 0
	modeStart = 1
)

// gs_device_mode.flags bits.
const (
	modeFlagListenOnly       uint32 = 1 << 0
	modeFlagHWTimestamp      uint32 = 1 << 4
	modeFlagPadPktsToMaxSize uint32 = 1 << 7
)

// gs_can_feature flags reported by BT_CONST/BT_CONST_EXT.
const (
	featureFD                 uint32 = 1 << 8
	featurePadPktsToMaxPktSize uint32 = 1 << 7
)

// Target sample point used by the bit-timing solver.
const targetSamplePoint = 0.875

// requestTypeOut/In are the vendor/interface bmRequestType values for
// control transfers, following the USB spec's direction/type/recipient
// bit layout (matches LIBUSB_REQUEST_TYPE_VENDOR|LIBUSB_RECIPIENT_INTERFACE
// OR'd with the endpoint direction bit).
const (
	requestTypeOut = 0x00 | 0x40 | 0x01 // host-to-device, vendor, interface
	requestTypeIn  = 0x80 | 0x40 | 0x01 // device-to-host, vendor, interface
)
