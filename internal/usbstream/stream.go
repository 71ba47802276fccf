package usbstream

import (
	"fmt"

	usb "github.com/daedaluz/gousb"
)

const (
	transferTypeMask = 0x03
	transferTypeBulk = 0x02

	endpointDirIn = 0x80
)

// findBulkEndpoints walks dev's parsed descriptors for the accessory
// interface's bulk IN and OUT endpoint addresses (spec.md §4.2 step 3).
func findBulkEndpoints(dev *usb.Device) (inAddr, outAddr byte, err error) {
	var haveIn, haveOut bool
	for _, d := range dev.Descriptors {
		ep, ok := d.(*usb.EndpointDescriptor)
		if !ok {
			continue
		}
		if ep.BmAttributes&transferTypeMask != transferTypeBulk {
			continue
		}
		if ep.BEndpointAddress&endpointDirIn != 0 {
			inAddr, haveIn = ep.BEndpointAddress, true
		} else {
			outAddr, haveOut = ep.BEndpointAddress, true
		}
	}
	if !haveIn || !haveOut {
		return 0, 0, fmt.Errorf("usbstream: accessory interface has no bulk in/out endpoint pair")
	}
	return inAddr, outAddr, nil
}

// maxPacketSize bounds a single bulk transfer; writes larger than this are
// chunked, matching the 16 KiB framing budget the rest of the module uses.
const maxPacketSize = 16 * 1024

// readTimeoutMs bounds a single bulk IN transfer, matching the steady-state
// raw-read timeout the proxy core applies to every transport (spec.md §5).
const readTimeoutMs = 15000

// Stream wraps a device already switched into accessory mode as a plain
// io.ReadWriteCloser, so internal/endpoint.Wrap can present it to the
// proxy core the same way it presents a USB character device or TCP
// socket (spec.md §9's unified endpoint capability set).
type Stream struct {
	dev     *usb.Device
	inAddr  byte
	outAddr byte

	// overflow holds bytes read from the device beyond what the caller's
	// buffer could hold in one Read call, so no data is dropped.
	overflow []byte
}

// Open claims interface 0 of an accessory-mode device and locates its
// bulk endpoints.
func Open(dev *usb.Device) (*Stream, error) {
	if !dev.IsOpen() {
		if err := dev.Open(); err != nil {
			return nil, fmt.Errorf("usbstream: opening accessory device: %w", err)
		}
	}
	_ = dev.DetachKernel(0)

	in, out, err := findBulkEndpoints(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return &Stream{dev: dev, inAddr: in, outAddr: out}, nil
}

func (s *Stream) Read(p []byte) (int, error) {
	if len(s.overflow) > 0 {
		n := copy(p, s.overflow)
		s.overflow = s.overflow[n:]
		return n, nil
	}

	buf := make([]byte, maxPacketSize)
	n, err := s.dev.BulkTimeout(s.inAddr, buf, readTimeoutMs)
	if err != nil {
		return 0, fmt.Errorf("usbstream: bulk read: %w", err)
	}
	copied := copy(p, buf[:n])
	if copied < n {
		s.overflow = append(s.overflow, buf[copied:n]...)
	}
	return copied, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := written + maxPacketSize
		if end > len(p) {
			end = len(p)
		}
		n, err := s.dev.Bulk(s.outAddr, p[written:end])
		if err != nil {
			return written, fmt.Errorf("usbstream: bulk write: %w", err)
		}
		written += n
		if n == 0 {
			return written, fmt.Errorf("usbstream: bulk write stalled")
		}
	}
	return written, nil
}

func (s *Stream) Close() error {
	return s.dev.Close()
}
