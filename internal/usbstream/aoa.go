// Package usbstream implements C2: flipping a wired phone into Android
// Open Accessory mode and opening its bulk endpoints as a byte stream,
// grounded on original_source/src/usb_stream.rs and the classic AOA
// control request numbers.
package usbstream

import (
	"fmt"
	"time"

	usb "github.com/daedaluz/gousb"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
)

// AOA vendor control requests (USB-IF accessory spec, not teacher-specific).
const (
	requestGetProtocol = 51
	requestSendString  = 52
	requestStart       = 53
)

// String indices the phone expects in that order.
const (
	stringManufacturer = 0
	stringModel        = 1
	stringDescription  = 2
	stringVersion      = 3
	stringURI          = 4
	stringSerial       = 5
)

// AccessoryStrings are the six identifying strings sent during the AOA
// handshake (spec.md §4.2 step 2).
type AccessoryStrings struct {
	Manufacturer string
	Model        string
	Description  string
	Version      string
	URI          string
	Serial       string
}

// DefaultAccessoryStrings matches what the original sends: a generic
// Android Auto accessory identity, no URI or serial.
func DefaultAccessoryStrings() AccessoryStrings {
	return AccessoryStrings{
		Manufacturer: "Android",
		Model:        "Android Auto",
		Description:  "Android Auto",
		Version:      "1.0",
	}
}

func (s AccessoryStrings) ordered() [6]string {
	return [6]string{s.Manufacturer, s.Model, s.Description, s.Version, s.URI, s.Serial}
}

// GadgetVendorID/GadgetProductID are Google's accessory-mode IDs; a phone
// that accepted the AOA switch re-enumerates under one of these.
const (
	GadgetVendorID = 0x18d1

	gadgetAccessoryPIDLow  = 0x2d00
	gadgetAccessoryPIDHigh = 0x2d05
)

// IsAccessoryMode reports whether a device's descriptor already carries
// Google's accessory-mode vendor/product ID range.
func IsAccessoryMode(vid, pid uint16) bool {
	return vid == GadgetVendorID && pid >= gadgetAccessoryPIDLow && pid <= gadgetAccessoryPIDHigh
}

// SwitchToAccessory issues the AOA control sequence spec.md §4.2 step 2
// names: read the protocol version, send the six identifying strings in
// order, then send "start". dev must already be open; the caller is
// responsible for closing/re-enumerating afterward, since a device that
// accepts the switch disconnects and re-appears under a new address.
func SwitchToAccessory(dev *usb.Device, strings AccessoryStrings) error {
	var version [2]byte
	if _, err := dev.CtrlTimeout(usb.RequestDirectionIn|usb.RequestTypeVendor|usb.RequestRecipientDevice,
		requestGetProtocol, 0, 0, version[:], 1000); err != nil {
		return fmt.Errorf("usbstream: get protocol version: %w", err)
	}

	for index, value := range strings.ordered() {
		payload := append([]byte(value), 0)
		if _, err := dev.CtrlTimeout(usb.RequestDirectionOut|usb.RequestTypeVendor|usb.RequestRecipientDevice,
			requestSendString, 0, uint16(index), payload, 1000); err != nil {
			return fmt.Errorf("usbstream: send accessory string %d: %w", index, err)
		}
	}

	if _, err := dev.CtrlTimeout(usb.RequestDirectionOut|usb.RequestTypeVendor|usb.RequestRecipientDevice,
		requestStart, 0, 0, nil, 1000); err != nil {
		return fmt.Errorf("usbstream: send accessory start: %w", err)
	}
	return nil
}

// SwitchAll attempts the AOA switch on every device matching filter,
// ignoring per-device failures — a device that doesn't speak AOA, or that
// is already in accessory mode, simply doesn't respond as expected.
func SwitchAll(filter config.UsbId, strings AccessoryStrings) error {
	candidates, err := usb.FindDevices(func(d *usb.Device) bool {
		desc := d.GetDeviceDescriptor()
		return filter.Matches(desc.IDVendor, desc.IDProduct) && !IsAccessoryMode(desc.IDVendor, desc.IDProduct)
	})
	if err != nil {
		return fmt.Errorf("usbstream: enumerating usb devices: %w", err)
	}

	for _, d := range candidates {
		switchOne(d, strings)
	}
	return nil
}

func switchOne(d *usb.Device, strings AccessoryStrings) {
	if err := d.Open(); err != nil {
		return
	}
	defer d.Close()
	_ = d.DetachKernel(0)
	_ = SwitchToAccessory(d, strings)
}

// stableSettleDelay is how long to wait after switching before the phone
// reliably re-enumerates in accessory mode.
const stableSettleDelay = 1 * time.Second

// WaitForAccessory sleeps for the settle delay, then searches for a
// device already in accessory mode, optionally narrowed by filter.
func WaitForAccessory(filter config.UsbId) (*usb.Device, error) {
	time.Sleep(stableSettleDelay)

	found, err := usb.FindDevices(func(d *usb.Device) bool {
		desc := d.GetDeviceDescriptor()
		if !IsAccessoryMode(desc.IDVendor, desc.IDProduct) {
			return false
		}
		return filter.Matches(desc.IDVendor, desc.IDProduct) || filter == (config.UsbId{})
	})
	if err != nil {
		return nil, fmt.Errorf("usbstream: enumerating usb devices: %w", err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("usbstream: no android phone found in accessory mode; make sure the phone is set to charging-only mode")
	}
	return found[0], nil
}
