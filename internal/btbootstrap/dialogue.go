package btbootstrap

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/wire"
)

const headerLen = 4

// WifiParams is what the Wi-Fi bootstrap dialogue advertises to the phone
// over Bluetooth: the AP it should join before the TCP proxy starts
// accepting it, matching bluetooth.rs's WifiInfoResponse construction.
type WifiParams struct {
	IPAddress string
	Port      int32
	SSID      string
	PSK       string
	BSSID     string
}

func sendMessage(conn net.Conn, id uint16, body []byte) error {
	header := make([]byte, headerLen)
	binary.BigEndian.PutUint16(header[0:2], uint16(len(body)))
	binary.BigEndian.PutUint16(header[2:4], id)
	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("btbootstrap: writing header: %w", err)
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			return fmt.Errorf("btbootstrap: writing body: %w", err)
		}
	}
	return nil
}

// readMessage reads one header+body frame and verifies the message id
// matches what the current stage expects, matching read_message's strict
// id check in bluetooth.rs.
func readMessage(conn net.Conn, wantID uint16) ([]byte, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("btbootstrap: reading header: %w", err)
	}
	length := binary.BigEndian.Uint16(header[0:2])
	gotID := binary.BigEndian.Uint16(header[2:4])
	if gotID != wantID {
		return nil, fmt.Errorf("btbootstrap: unexpected message id: got %d, want %d", gotID, wantID)
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return nil, fmt.Errorf("btbootstrap: reading body: %w", err)
		}
	}
	return body, nil
}

// RunWifiBootstrap drives the 5-stage Wi-Fi bootstrap dialogue over the
// accepted RFCOMM stream: advertise the proxy's AP, receive the phone's
// acknowledgements, and confirm it connected, exactly as
// bluetooth_setup_connection does.
func RunWifiBootstrap(logger *logrus.Logger, conn net.Conn, params WifiParams) error {
	startReq := wire.WifiStartRequest{IPAddress: params.IPAddress, Port: params.Port}
	logger.Debug("btbootstrap: stage 1/5: sending WifiStartRequest")
	if err := sendMessage(conn, wire.BootstrapWifiStartRequest, startReq.Marshal()); err != nil {
		return err
	}

	logger.Debug("btbootstrap: stage 2/5: waiting for WifiInfoRequest")
	if _, err := readMessage(conn, wire.BootstrapWifiInfoRequest); err != nil {
		return err
	}

	info := wire.WifiInfoResponse{
		SSID:     params.SSID,
		Key:      params.PSK,
		BSSID:    params.BSSID,
		Security: wire.SecurityWPA2Personal,
		APType:   wire.APTypeDynamic,
	}
	logger.Debug("btbootstrap: stage 3/5: sending WifiInfoResponse")
	if err := sendMessage(conn, wire.BootstrapWifiInfoResponse, info.Marshal()); err != nil {
		return err
	}

	logger.Debug("btbootstrap: stage 4/5: waiting for WifiStartResponse")
	if _, err := readMessage(conn, wire.BootstrapWifiStartResponse); err != nil {
		return err
	}

	logger.Debug("btbootstrap: stage 5/5: waiting for WifiConnectStatus")
	body, err := readMessage(conn, wire.BootstrapWifiConnectStatus)
	if err != nil {
		return err
	}
	status, err := wire.ParseWifiConnectStatus(body)
	if err != nil {
		return fmt.Errorf("btbootstrap: parsing WifiConnectStatus: %w", err)
	}
	if status.Status != wire.StatusSuccess {
		return fmt.Errorf("btbootstrap: phone reported it could not connect to our wifi ap (status %d)", status.Status)
	}

	logger.Info("btbootstrap: wifi bootstrap dialogue completed")
	return nil
}
