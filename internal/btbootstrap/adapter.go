package btbootstrap

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	bluezDest      = "org.bluez"
	adapterIface   = "org.bluez.Adapter1"
	propertiesIface = "org.freedesktop.DBus.Properties"
	defaultAdapter = "/org/bluez/hci0"
)

// Adapter wraps the BlueZ adapter object over the system bus, grounded on
// the Profile1/ProfileManager1 D-Bus usage pattern in
// other_examples/manifests/{arnnvv-bluetalk,projectqai-hydris} and the
// property set bluetooth.rs performs through bluer.
type Adapter struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	path dbus.ObjectPath
}

// OpenAdapter connects to the system bus and binds to the named BlueZ
// adapter object (hci0 unless overridden).
func OpenAdapter(path dbus.ObjectPath) (*Adapter, error) {
	if path == "" {
		path = defaultAdapter
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("btbootstrap: connecting to system bus: %w", err)
	}
	return &Adapter{conn: conn, obj: conn.Object(bluezDest, path), path: path}, nil
}

func (a *Adapter) setProperty(name string, value any) error {
	call := a.obj.Call(propertiesIface+".Set", 0, adapterIface, name, dbus.MakeVariant(value))
	if call.Err != nil {
		return fmt.Errorf("btbootstrap: setting Adapter1.%s: %w", name, call.Err)
	}
	return nil
}

// Address returns the adapter's own Bluetooth address, used only for
// logging.
func (a *Adapter) Address() (string, error) {
	v, err := a.obj.GetProperty(adapterIface + ".Address")
	if err != nil {
		return "", fmt.Errorf("btbootstrap: reading Adapter1.Address: %w", err)
	}
	addr, _ := v.Value().(string)
	return addr, nil
}

// Configure sets alias, power, pairability and discoverability the way
// power_up_and_wait_for_connection does in bluetooth.rs. When advertise is
// true, BLE advertising is expected to announce discoverability instead,
// so Configure leaves plain-BR/EDR discoverability off in that case.
func (a *Adapter) Configure(alias string, advertise bool) error {
	if err := a.setProperty("Alias", alias); err != nil {
		return err
	}
	if err := a.setProperty("Powered", true); err != nil {
		return err
	}
	if err := a.setProperty("Pairable", true); err != nil {
		return err
	}
	if advertise {
		return nil
	}
	if err := a.setProperty("Discoverable", true); err != nil {
		return err
	}
	return a.setProperty("DiscoverableTimeout", uint32(0))
}

// SetPowered switches the adapter off, used during teardown.
func (a *Adapter) SetPowered(on bool) error {
	return a.setProperty("Powered", on)
}

// Path returns the adapter's D-Bus object path, e.g. for constructing
// device object paths for ConnectProfile.
func (a *Adapter) Path() dbus.ObjectPath {
	return a.path
}

// Conn exposes the underlying connection so profile registration and
// device lookups can share it.
func (a *Adapter) Conn() *dbus.Conn {
	return a.conn
}

// Close drops the system bus connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}
