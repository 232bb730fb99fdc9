package gsusb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/candriver"
)

// usbAddr identifies a USB device by bus/address, the way the kernel and
// lsusb report it.
type usbAddr struct {
	Bus     int
	Address int
}

func (a usbAddr) String() string {
	return fmt.Sprintf("Bus %.3d Device %.3d", a.Bus, a.Address)
}

func (a usbAddr) open(ctx *gousb.Context) (*gousb.Device, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == a.Bus && desc.Address == a.Address
	})
	if len(devs) != 0 {
		return devs[0], nil
	}
	if err == nil {
		err = gousb.ErrorNotFound
	}
	return nil, fmt.Errorf("%s: %w", a, err)
}

// candidateInfo records the vendor-class interface and endpoints found on a
// candidate device, plus enough identity data to match a user-provided
// identifier.
type candidateInfo struct {
	addr usbAddr

	interfaceNum int
	altSetting   int
	inEP         int
	outEP        int
	outWmax      uint16

	index       int
	serial      string
	product     string
	description string
}

// selectDevice enumerates every attached gs_usb-class device and returns
// the one matching identifier: "auto" picks the first (and only, in the
// common case) match; a bare integer picks by enumeration index; "bus:addr"
// (e.g. "3:014") matches the zero-padded bus/address pair; anything else is
// matched case-insensitively against the serial or product string.
func selectDevice(ctx *gousb.Context, identifier string) (usbAddr, candidateInfo, string, error) {
	var candidates []candidateInfo

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(VendorID) && desc.Product == gousb.ID(ProductID)
	})
	for _, d := range devs {
		defer d.Close()
	}
	if err != nil && len(devs) == 0 {
		return usbAddr{}, candidateInfo{}, "", fmt.Errorf("gsusb: enumerating devices: %w", err)
	}

	for i, d := range devs {
		info, ok := findVendorInterface(d)
		if !ok {
			continue
		}
		info.addr = usbAddr{Bus: d.Desc.Bus, Address: d.Desc.Address}
		info.index = i
		info.serial, _ = d.SerialNumber()
		info.product, _ = d.Product()
		info.description = fmt.Sprintf("%s (serial %s)", info.product, info.serial)
		candidates = append(candidates, info)
	}

	if len(candidates) == 0 {
		return usbAddr{}, candidateInfo{}, "", fmt.Errorf("gsusb: no matching adapter found: %w", candriver.ErrDeviceAbsent)
	}

	match, err := matchIdentifier(candidates, identifier)
	if err != nil {
		return usbAddr{}, candidateInfo{}, "", err
	}
	return match.addr, match, match.description, nil
}

func matchIdentifier(candidates []candidateInfo, identifier string) (candidateInfo, error) {
	if identifier == "" || identifier == "auto" {
		return candidates[0], nil
	}

	if idx, err := strconv.Atoi(identifier); err == nil {
		for _, c := range candidates {
			if c.index == idx {
				return c, nil
			}
		}
		return candidateInfo{}, fmt.Errorf("gsusb: no adapter at index %d: %w", idx, candriver.ErrDeviceAbsent)
	}

	if bus, addr, ok := parseBusAddress(identifier); ok {
		for _, c := range candidates {
			if c.addr.Bus == bus && c.addr.Address == addr {
				return c, nil
			}
		}
		return candidateInfo{}, fmt.Errorf("gsusb: no adapter at %s: %w", identifier, candriver.ErrDeviceAbsent)
	}

	lower := strings.ToLower(identifier)
	for _, c := range candidates {
		if strings.EqualFold(c.serial, identifier) || strings.ToLower(c.product) == lower {
			return c, nil
		}
	}

	return candidateInfo{}, fmt.Errorf("gsusb: no adapter matching %q: %w", identifier, candriver.ErrDeviceAbsent)
}

// parseBusAddress recognizes the "bus:address" form, e.g. "3:014", with the
// bus and address given as plain decimal (leading zeros tolerated).
func parseBusAddress(s string) (bus, addr int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	b, err1 := strconv.Atoi(parts[0])
	a, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return b, a, true
}

// findVendorInterface scans every config in a device's descriptor, in order,
// for the first altsetting with
// class 0xff exposing one bulk-in and one bulk-out endpoint, the signature
// of the gs_usb vendor interface.
func findVendorInterface(d *gousb.Device) (candidateInfo, bool) {
	for _, cfg := range d.Desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class != gousb.ClassVendorSpec {
					continue
				}
				var haveIn, haveOut bool
				var inNum, outNum, outWmax int
				for addr, ep := range alt.Endpoints {
					if ep.TransferType != gousb.TransferTypeBulk {
						continue
					}
					if ep.Direction == gousb.EndpointDirectionIn {
						inNum = int(addr) & 0x0f
						haveIn = true
					} else {
						outNum = int(addr) & 0x0f
						outWmax = ep.MaxPacketSize
						haveOut = true
					}
				}
				if !haveIn || !haveOut {
					continue
				}
				return candidateInfo{
					interfaceNum: intf.Number,
					altSetting:   alt.Number,
					inEP:         inNum,
					outEP:        outNum,
					outWmax:      uint16(outWmax),
				}, true
			}
		}
	}
	return candidateInfo{}, false
}
