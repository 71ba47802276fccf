//go:build !linux

package usbgadget

import (
	"context"

	"github.com/sirupsen/logrus"
)

// WatchAccessoryUevent is a no-op stub off Linux: there is no configfs
// gadget or netlink uevent source to watch on a development machine.
func WatchAccessoryUevent(ctx context.Context, logger *logrus.Logger) (<-chan struct{}, error) {
	signal := make(chan struct{})
	return signal, nil
}
