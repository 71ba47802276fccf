// Package usbgadget implements C1: the configfs USB gadget controller
// that switches the proxy's own USB port between its default (HU-facing)
// gadget and its accessory-mode gadget, grounded on
// original_source/src/usb_gadget.rs's UsbGadgetState.
package usbgadget

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	gadgetRoot   = "/sys/kernel/config/usb_gadget"
	udcClassPath = "/sys/class/udc"

	GadgetDefault   = "default"
	GadgetAccessory = "accessory"
)

// Controller operates the two named gadgets spec.md §4.1 describes. It
// holds no live file handles between calls — every operation is a sysfs
// read/write — so Controller itself is stateless and safe to reuse across
// supervisor loop iterations.
type Controller struct {
	root      string
	udcClass  string
	udcName   string
	logger    *logrus.Logger
}

// New builds a Controller; udcNameHint, when non-empty, is preferred over
// the first enumerated UDC.
func New(logger *logrus.Logger, udcNameHint string) *Controller {
	return &Controller{
		root:     gadgetRoot,
		udcClass: udcClassPath,
		udcName:  udcNameHint,
		logger:   logger,
	}
}

func (c *Controller) gadgetUDCPath(name string) string {
	return filepath.Join(c.root, name, "UDC")
}

// Init detaches both gadgets from their UDC (idempotent) and resolves
// which UDC to bind to, preferring an explicitly configured name, else
// the first entry enumerated from /sys/class/udc.
func (c *Controller) Init() error {
	if err := c.Disable(GadgetDefault); err != nil {
		return err
	}
	if err := c.Disable(GadgetAccessory); err != nil {
		return err
	}

	if c.udcName == "" {
		name, err := c.firstUDC()
		if err != nil {
			return fmt.Errorf("usbgadget: no UDC available: %w", err)
		}
		c.udcName = name
	}
	return nil
}

func (c *Controller) firstUDC() (string, error) {
	entries, err := os.ReadDir(c.udcClass)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("no entries in %s", c.udcClass)
}

// Enable writes the selected UDC name to the gadget's UDC attribute if
// currently empty.
func (c *Controller) Enable(name string) error {
	path := c.gadgetUDCPath(name)
	current, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("usbgadget: reading %s: %w", path, err)
	}
	if strings.TrimSpace(string(current)) != "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(c.udcName+"\n"), 0o200); err != nil {
		return fmt.Errorf("usbgadget: binding %s to %s: %w", name, c.udcName, err)
	}
	c.logger.WithFields(logrus.Fields{"gadget": name, "udc": c.udcName}).Info("usb gadget enabled")
	return nil
}

// Disable writes an empty value to clear the gadget's UDC binding.
func (c *Controller) Disable(name string) error {
	path := c.gadgetUDCPath(name)
	if err := os.WriteFile(path, []byte("\n"), 0o200); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("usbgadget: clearing %s: %w", path, err)
	}
	return nil
}

// EnableDefaultAndWaitForAccessory implements the "legacy" role
// choreography named in spec.md §4.1 and its testable scenario 6: enable
// default, wait up to 3s for the uevent signal, retry once on timeout,
// then disable default and enable accessory after a settle delay.
func (c *Controller) EnableDefaultAndWaitForAccessory(signal <-chan struct{}, legacy bool) error {
	if !legacy {
		return c.Enable(GadgetAccessory)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := c.Enable(GadgetDefault); err != nil {
			return err
		}

		select {
		case <-signal:
			if err := c.Disable(GadgetDefault); err != nil {
				return err
			}
			time.Sleep(100 * time.Millisecond)
			return c.Enable(GadgetAccessory)
		case <-time.After(3 * time.Second):
			c.logger.Warn("usbgadget: timed out waiting for accessory uevent, retrying")
		}
	}
	return fmt.Errorf("usbgadget: accessory uevent never arrived after retry")
}
