package btbootstrap

import (
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-proxy/aa-proxy-go/internal/wire"
)

func TestDevicePath(t *testing.T) {
	got := devicePath("/org/bluez/hci0", "aa:bb:cc:dd:ee:ff")
	assert.Equal(t, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", string(got))
}

// TestRunWifiBootstrapHappyPath drives RunWifiBootstrap against an in-process
// net.Pipe standing in for the RFCOMM stream, with a goroutine playing the
// phone's side of the five-stage dialogue (original_source/src/bluetooth.rs).
func TestRunWifiBootstrapHappyPath(t *testing.T) {
	proxySide, phoneSide := net.Pipe()
	defer proxySide.Close()
	defer phoneSide.Close()

	done := make(chan error, 1)
	go func() {
		if _, err := readMessage(phoneSide, wire.BootstrapWifiStartRequest); err != nil {
			done <- err
			return
		}
		if err := sendMessage(phoneSide, wire.BootstrapWifiInfoRequest, nil); err != nil {
			done <- err
			return
		}
		if _, err := readMessage(phoneSide, wire.BootstrapWifiInfoResponse); err != nil {
			done <- err
			return
		}
		if err := sendMessage(phoneSide, wire.BootstrapWifiStartResponse, nil); err != nil {
			done <- err
			return
		}
		status := []byte{0x08, 0x00}
		done <- sendMessage(phoneSide, wire.BootstrapWifiConnectStatus, status)
	}()

	err := RunWifiBootstrap(logrus.New(), proxySide, WifiParams{
		IPAddress: "10.0.0.1",
		Port:      5288,
		SSID:      "aa-proxy",
		PSK:       "aa-proxy-pass",
		BSSID:     "aa:bb:cc:dd:ee:ff",
	})
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestRunWifiBootstrapRejectedByPhone(t *testing.T) {
	proxySide, phoneSide := net.Pipe()
	defer proxySide.Close()
	defer phoneSide.Close()

	go func() {
		readMessage(phoneSide, wire.BootstrapWifiStartRequest)
		sendMessage(phoneSide, wire.BootstrapWifiInfoRequest, nil)
		readMessage(phoneSide, wire.BootstrapWifiInfoResponse)
		sendMessage(phoneSide, wire.BootstrapWifiStartResponse, nil)
		sendMessage(phoneSide, wire.BootstrapWifiConnectStatus, []byte{0x08, 0x01})
	}()

	err := RunWifiBootstrap(logrus.New(), proxySide, WifiParams{IPAddress: "10.0.0.1", Port: 5288})
	assert.Error(t, err)
}
