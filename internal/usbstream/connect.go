package usbstream

import (
	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/endpoint"
)

// Connect runs the full wired AOA sequence spec.md §4.2 describes:
// switch every matching device into accessory mode, wait for it to
// settle and re-enumerate, then open its bulk endpoints as an Endpoint.
func Connect(logger *logrus.Logger, filter config.UsbId) (endpoint.Endpoint, error) {
	if err := SwitchAll(filter, DefaultAccessoryStrings()); err != nil {
		logger.WithError(err).Debug("usbstream: accessory switch pass reported an error")
	}

	dev, err := WaitForAccessory(filter)
	if err != nil {
		return nil, err
	}

	stream, err := Open(dev)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{"bus": dev.BusNumber, "device": dev.DeviceNumber}).
		Info("usb accessory stream opened")

	return endpoint.Wrap(stream), nil
}
