package btbootstrap

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	deviceIface = "org.bluez.Device1"

	backoffInitial = 1 * time.Second
	backoffMax     = 15 * time.Second
)

// devicePath turns a MAC address into the adapter-relative BlueZ device
// object path, e.g. "AA:BB:CC:DD:EE:FF" under "/org/bluez/hci0" becomes
// ".../dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	suffix := strings.ReplaceAll(addr, ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapter, strings.ToUpper(suffix)))
}

// pairedAddresses lists the devices BlueZ already knows about under the
// adapter that advertise both the AVRCP Target and AVRCP UUIDs (the
// "likely an Android phone" heuristic), used when the configured address
// list is the wildcard ("connect to any known device").
func pairedAddresses(conn *dbus.Conn, adapter dbus.ObjectPath) ([]string, error) {
	const (
		avrcpTargetUUID = "0000110c-0000-1000-8000-00805f9b34fb"
		avrcpUUID       = "0000110e-0000-1000-8000-00805f9b34fb"
	)
	root := conn.Object(bluezDest, dbus.ObjectPath("/"))
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := root.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("btbootstrap: listing managed objects: %w", call.Err)
	}
	if err := call.Store(&managed); err != nil {
		return nil, fmt.Errorf("btbootstrap: decoding managed objects: %w", err)
	}

	var addrs []string
	for path, ifaces := range managed {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), string(adapter)+"/") {
			continue
		}
		uuids, _ := props["UUIDs"].Value().([]string)
		if !slices.Contains(uuids, avrcpTargetUUID) || !slices.Contains(uuids, avrcpUUID) {
			continue
		}
		if v, ok := props["Address"]; ok {
			if addr, ok := v.Value().(string); ok {
				addrs = append(addrs, addr)
			}
		}
	}
	return addrs, nil
}

// ConnectOutbound repeatedly tries ConnectProfile(uuid) against the given
// addresses (or every known AVRCP-capable device, if addrs is empty) with exponential
// backoff from 1s up to a 15s cap, matching the unbounded retry loop in
// bluetooth.rs's connect_task. It returns as soon as one attempt
// succeeds, or when ctx is canceled — the caller cancels ctx the instant
// the inbound RFCOMM profile accepts a connection first.
func ConnectOutbound(ctx context.Context, logger *logrus.Logger, conn *dbus.Conn, adapter dbus.ObjectPath, uuid string, addrs []string) error {
	if len(addrs) == 0 {
		found, err := pairedAddresses(conn, adapter)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			logger.Debug("btbootstrap: no paired devices to try connecting to")
			return nil
		}
		addrs = found
	}

	backoff := backoffInitial
	for {
		for _, addr := range addrs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			dev := conn.Object(bluezDest, devicePath(adapter, addr))
			logger.WithField("address", addr).Debug("btbootstrap: trying outbound ConnectProfile")
			call := dev.Call(deviceIface+".ConnectProfile", 0, uuid)
			if call.Err == nil {
				logger.WithField("address", addr).Info("btbootstrap: outbound profile connection succeeded")
				return nil
			}
			logger.WithFields(logrus.Fields{"address": addr, "error": call.Err}).Debug("btbootstrap: outbound connect attempt failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}
