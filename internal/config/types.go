package config

import (
	"fmt"
	"strconv"
	"strings"
)

// BluetoothAddressList is either absent, a wildcard meaning "any paired
// device", or a concrete comma-separated list of MAC addresses. The
// wildcard and a concrete list are mutually exclusive.
type BluetoothAddressList struct {
	Addresses []string
}

const bluetoothWildcard = "00:00:00:00:00:00"

// DefaultBluetoothAddressList mirrors the original's Default impl: a single
// wildcard entry, meaning "connect to any known device".
func DefaultBluetoothAddressList() BluetoothAddressList {
	return BluetoothAddressList{Addresses: []string{bluetoothWildcard}}
}

func (b BluetoothAddressList) IsWildcard() bool {
	return len(b.Addresses) == 1 && b.Addresses[0] == bluetoothWildcard
}

func (b BluetoothAddressList) Empty() bool {
	return len(b.Addresses) == 0
}

func (b BluetoothAddressList) String() string {
	return strings.Join(b.Addresses, ",")
}

func (b BluetoothAddressList) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *BluetoothAddressList) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		b.Addresses = nil
		return nil
	}

	parts := strings.Split(s, ",")
	addrs := make([]string, 0, len(parts))
	wildcard := false
	for _, p := range parts {
		addr := strings.TrimSpace(p)
		if addr == "" {
			continue
		}
		if !isMACAddress(addr) {
			return fmt.Errorf("'connect' - invalid bluetooth address %q", addr)
		}
		if addr == bluetoothWildcard {
			wildcard = true
		}
		addrs = append(addrs, addr)
	}
	if wildcard && len(addrs) > 1 {
		return fmt.Errorf("'connect' - wildcard address %q cannot be combined with other addresses", bluetoothWildcard)
	}
	b.Addresses = addrs
	return nil
}

func isMACAddress(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
		if _, err := strconv.ParseUint(p, 16, 8); err != nil {
			return false
		}
	}
	return true
}

// EvConnectorTypes is a comma-separated list of EV connector type enum
// names, e.g. "EV_CONNECTOR_TYPE_MENNEKES,EV_CONNECTOR_TYPE_CHADEMO".
type EvConnectorTypes struct {
	Types []string
}

// DefaultEvConnectorTypes matches the spec's default supported connector
// type set.
func DefaultEvConnectorTypes() EvConnectorTypes {
	return EvConnectorTypes{Types: []string{"EV_CONNECTOR_TYPE_MENNEKES"}}
}

func (e EvConnectorTypes) String() string {
	return strings.Join(e.Types, ",")
}

func (e EvConnectorTypes) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *EvConnectorTypes) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		e.Types = nil
		return nil
	}
	var types []string
	for _, part := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "EV_CONNECTOR_TYPE_") {
			return fmt.Errorf("unknown EV connector type: %s", trimmed)
		}
		types = append(types, trimmed)
	}
	e.Types = types
	return nil
}

// HexdumpLevel gates optional hex-dump logging of packet payloads at the
// four points the proxy core can dump: decrypted/raw crossed with
// input/output.
type HexdumpLevel int

const (
	HexdumpDisabled HexdumpLevel = iota
	HexdumpDecryptedInput
	HexdumpRawInput
	HexdumpDecryptedOutput
	HexdumpRawOutput
	HexdumpAll
)

var hexdumpLevelNames = [...]string{
	"Disabled", "DecryptedInput", "RawInput", "DecryptedOutput", "RawOutput", "All",
}

func (h HexdumpLevel) String() string {
	if int(h) < 0 || int(h) >= len(hexdumpLevelNames) {
		return "Disabled"
	}
	return hexdumpLevelNames[h]
}

func (h HexdumpLevel) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *HexdumpLevel) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	for i, name := range hexdumpLevelNames {
		if strings.EqualFold(name, s) {
			*h = HexdumpLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown hexdump level: %s", s)
}

// UsbId is an optional VID:PID filter, each field in hex; a zero field
// matches everything for that field.
type UsbId struct {
	VID uint16
	PID uint16
}

func (u UsbId) String() string {
	return fmt.Sprintf("%x:%x", u.VID, u.PID)
}

func (u UsbId) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UsbId) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*u = UsbId{}
		return nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return fmt.Errorf("expected format VID:PID, got %q", s)
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return fmt.Errorf("invalid VID %q: %w", parts[0], err)
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return fmt.Errorf("invalid PID %q: %w", parts[1], err)
	}
	u.VID, u.PID = uint16(vid), uint16(pid)
	return nil
}

// Matches reports whether a discovered device's VID/PID satisfies this
// filter; a zero VID or PID in the filter is a wildcard for that field.
func (u UsbId) Matches(vid, pid uint16) bool {
	if u.VID != 0 && u.VID != vid {
		return false
	}
	if u.PID != 0 && u.PID != pid {
		return false
	}
	return true
}

// Action is a one-shot request the HTTP admin surface (or an operator) can
// leave for the session supervisor / transfer monitor to observe.
type Action int

const (
	ActionNone Action = iota
	ActionReconnect
	ActionReboot
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionReconnect:
		return "Reconnect"
	case ActionReboot:
		return "Reboot"
	case ActionStop:
		return "Stop"
	default:
		return "None"
	}
}
