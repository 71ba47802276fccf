package btbootstrap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
)

// Session holds everything power_up_and_wait_for_connection hands back as
// BluetoothState, so Teardown can unwind it symmetrically.
type Session struct {
	adapter     *Adapter
	aaProfile   *RegisteredProfile
	hspProfile  *RegisteredProfile
	advertisement *Advertisement
}

// resolveBSSID returns the configured BSSID, or the named Wi-Fi
// interface's own hardware address when left blank — mac_address_by_name's
// Go equivalent.
func resolveBSSID(cfg config.AppConfig) (string, error) {
	if cfg.BSSID != "" {
		return cfg.BSSID, nil
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return "", fmt.Errorf("btbootstrap: resolving bssid from interface %s: %w", cfg.Interface, err)
	}
	return iface.HardwareAddr.String(), nil
}

// Setup runs the full C3 choreography spec.md §4.3 describes: power on
// and configure the adapter, register the AA Wireless (and, unless
// disabled, Headset) RFCOMM profiles, optionally start BLE advertising,
// race an outbound ConnectProfile retry loop against the inbound
// Profile1.NewConnection, then drive the Wi-Fi bootstrap dialogue over
// whichever connection wins. It returns once the phone has been told to
// join the proxy's Wi-Fi AP and has acknowledged it.
func Setup(logger *logrus.Logger, cfg config.AppConfig, wifiIP string, wifiPort int32) (*Session, error) {
	adapter, err := OpenAdapter("")
	if err != nil {
		return nil, err
	}

	alias := cfg.BluetoothAlias
	if alias == "" {
		alias = DefaultAlias()
	}
	if err := adapter.Configure(alias, cfg.Advertise); err != nil {
		adapter.Close()
		return nil, err
	}
	logger.WithField("alias", alias).Info("btbootstrap: adapter configured")

	sess := &Session{adapter: adapter}

	aaProfile, err := RegisterProfile(adapter.Conn(), "/aa/proxy/profile/aawg", AAWirelessProfileUUID, "AA Wireless", aaWirelessChannel)
	if err != nil {
		sess.Teardown(logger)
		return nil, err
	}
	sess.aaProfile = aaProfile
	logger.Info("btbootstrap: AA Wireless profile registered")

	if !cfg.DisableBluetooth {
		hspProfile, err := RegisterProfile(adapter.Conn(), "/aa/proxy/profile/hsp", HSPHSUUID, "HSP HS", 0)
		if err != nil {
			logger.WithError(err).Warn("btbootstrap: headset profile registration failed, continuing without it")
		} else {
			sess.hspProfile = hspProfile
			logger.Info("btbootstrap: Headset profile registered")
		}
	}

	if cfg.Advertise {
		adv, err := StartAdvertising(alias)
		if err != nil {
			logger.WithError(err).Warn("btbootstrap: BLE advertisement failed to start")
		} else {
			sess.advertisement = adv
		}
	}

	ctx, cancelOutbound := context.WithCancel(context.Background())
	defer cancelOutbound()

	if !cfg.Connect.Empty() {
		var addrs []string
		if !cfg.Connect.IsWildcard() {
			addrs = cfg.Connect.Addresses
		}
		go func() {
			if err := ConnectOutbound(ctx, logger, adapter.Conn(), adapter.Path(), AAWirelessProfileUUID, addrs); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("btbootstrap: outbound connect loop ended with an error")
			}
		}()
	}

	inboundConnectTimeout := time.Duration(cfg.BtTimeoutSecs) * time.Second

	logger.Info("btbootstrap: waiting for phone to connect via bluetooth...")
	var conn net.Conn
	select {
	case conn = <-aaProfile.Accept():
	case <-time.After(inboundConnectTimeout):
		sess.Teardown(logger)
		return nil, fmt.Errorf("btbootstrap: timed out waiting for phone to connect")
	}
	cancelOutbound()

	bssid, err := resolveBSSID(cfg)
	if err != nil {
		sess.Teardown(logger)
		return nil, err
	}

	params := WifiParams{
		IPAddress: wifiIP,
		Port:      wifiPort,
		SSID:      cfg.SSID,
		PSK:       cfg.PSK,
		BSSID:     bssid,
	}
	if err := RunWifiBootstrap(logger, conn, params); err != nil {
		conn.Close()
		sess.Teardown(logger)
		return nil, err
	}
	conn.Close()

	logger.Info("btbootstrap: bluetooth launch sequence completed")
	return sess, nil
}

// Teardown unwinds a Session in the order bluetooth_stop uses: stop
// advertising, unregister profiles, power off the adapter.
func (s *Session) Teardown(logger *logrus.Logger) {
	if s == nil {
		return
	}
	if s.advertisement != nil {
		if err := s.advertisement.Stop(); err != nil {
			logger.WithError(err).Warn("btbootstrap: stopping advertisement")
		}
	}
	if s.hspProfile != nil {
		if err := s.hspProfile.Unregister(); err != nil {
			logger.WithError(err).Warn("btbootstrap: unregistering hsp profile")
		}
	}
	if s.aaProfile != nil {
		if err := s.aaProfile.Unregister(); err != nil {
			logger.WithError(err).Warn("btbootstrap: unregistering aa wireless profile")
		}
	}
	if s.adapter != nil {
		if err := s.adapter.SetPowered(false); err != nil {
			logger.WithError(err).Warn("btbootstrap: powering off adapter")
		}
		s.adapter.Close()
	}
}
