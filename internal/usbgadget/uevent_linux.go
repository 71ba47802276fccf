//go:build linux

package usbgadget

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// WatchAccessoryUevent opens a raw AF_NETLINK/NETLINK_KOBJECT_UEVENT
// socket and signals the returned channel exactly when a uevent arrives
// with DEVNAME=usb_accessory and ACCESSORY=START — the kernel's
// announcement that the host requested accessory mode (spec.md §4.1).
//
// This runs on its own OS thread, as spec.md §5 requires ("the uevent
// listener, which runs on its own OS thread"), since unix.Recvfrom blocks
// the calling goroutine for the socket's lifetime.
func WatchAccessoryUevent(ctx context.Context, logger *logrus.Logger) (<-chan struct{}, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("usbgadget: opening uevent socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("usbgadget: binding uevent socket: %w", err)
	}

	signal := make(chan struct{}, 1)

	go func() {
		defer unix.Close(fd)
		buf := make([]byte, 8192)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			n, _, err := unix.Recvfrom(fd, buf, 0)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithError(err).Warn("usbgadget: uevent recv error")
				continue
			}

			if isAccessoryStart(buf[:n]) {
				select {
				case signal <- struct{}{}:
				default:
				}
			}
		}
	}()

	return signal, nil
}

// isAccessoryStart parses the NUL-separated key=value uevent payload the
// kernel emits and reports whether it announces accessory-mode start.
func isAccessoryStart(payload []byte) bool {
	var sawDevname, sawStart bool
	for _, field := range bytes.Split(payload, []byte{0}) {
		switch {
		case bytes.Equal(field, []byte("DEVNAME=usb_accessory")):
			sawDevname = true
		case bytes.Equal(field, []byte("ACCESSORY=START")):
			sawStart = true
		}
	}
	return sawDevname && sawStart
}
