package btbootstrap

import (
	"fmt"
	"net"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

const (
	profileManagerPath  = "/org/bluez"
	profileManagerIface = "org.bluez.ProfileManager1"
	profile1Iface       = "org.bluez.Profile1"

	// AAWirelessProfileUUID is the Android Auto Wireless RFCOMM profile,
	// channel 8, registered as a server role (bluetooth.rs's AAWG_PROFILE_UUID).
	AAWirelessProfileUUID = "4de17a00-52cb-11e6-bdf4-0800200c9a66"
	aaWirelessChannel     = 8

	// Headset Audio Gateway / Headset profile UUIDs, registered only when
	// the headset profile is enabled.
	HSPAGUUID = "00001112-0000-1000-8000-00805f9b34fb"
	HSPHSUUID = "00001108-0000-1000-8000-00805f9b34fb"
)

// profileServer implements org.bluez.Profile1's three methods. Each
// instance serves one registered profile; incoming RFCOMM sockets arrive
// as a dbus.UnixFD that NewConnection turns into a net.Conn and forwards
// on accepted.
type profileServer struct {
	name      string
	accepted  chan net.Conn
}

func (p *profileServer) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	f := os.NewFile(uintptr(fd), p.name)
	conn, err := net.FileConn(f)
	if err != nil {
		f.Close()
		return dbus.NewError("org.bluez.Error.Rejected", []any{err.Error()})
	}
	select {
	case p.accepted <- conn:
	default:
		conn.Close()
	}
	return nil
}

func (p *profileServer) RequestDisconnection(device dbus.ObjectPath) *dbus.Error { return nil }
func (p *profileServer) Release()                                               {}

// RegisteredProfile is a live RFCOMM profile registration; Accept blocks
// for the next inbound connection and Unregister tears it down.
type RegisteredProfile struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	server *profileServer
}

// RegisterProfile exports a Profile1 object at a fresh path and registers
// it with BlueZ's ProfileManager1, matching the Profile{uuid, name,
// channel, role: Server} struct bluetooth.rs builds for both the AA
// Wireless profile and the Headset Profile.
func RegisterProfile(conn *dbus.Conn, objPath dbus.ObjectPath, profileUUID, name string, channel int) (*RegisteredProfile, error) {
	if _, err := uuid.Parse(profileUUID); err != nil {
		return nil, fmt.Errorf("btbootstrap: profile uuid %q: %w", profileUUID, err)
	}

	server := &profileServer{name: name, accepted: make(chan net.Conn, 1)}
	if err := conn.Export(server, objPath, profile1Iface); err != nil {
		return nil, fmt.Errorf("btbootstrap: exporting Profile1 at %s: %w", objPath, err)
	}

	opts := map[string]dbus.Variant{
		"Name":                  dbus.MakeVariant(name),
		"Role":                  dbus.MakeVariant("server"),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
	}
	if channel > 0 {
		opts["Channel"] = dbus.MakeVariant(uint16(channel))
	}

	manager := conn.Object(bluezDest, profileManagerPath)
	call := manager.Call(profileManagerIface+".RegisterProfile", 0, objPath, profileUUID, opts)
	if call.Err != nil {
		conn.Export(nil, objPath, profile1Iface)
		return nil, fmt.Errorf("btbootstrap: registering profile %s: %w", profileUUID, call.Err)
	}

	return &RegisteredProfile{conn: conn, path: objPath, server: server}, nil
}

// Accept blocks until the phone connects to this profile, returning the
// RFCOMM stream as a net.Conn.
func (r *RegisteredProfile) Accept() <-chan net.Conn {
	return r.server.accepted
}

// Unregister removes the profile from BlueZ and stops exporting it.
func (r *RegisteredProfile) Unregister() error {
	manager := r.conn.Object(bluezDest, profileManagerPath)
	call := manager.Call(profileManagerIface+".UnregisterProfile", 0, r.path)
	r.conn.Export(nil, r.path, profile1Iface)
	if call.Err != nil {
		return fmt.Errorf("btbootstrap: unregistering profile: %w", call.Err)
	}
	return nil
}
