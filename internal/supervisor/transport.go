package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/endpoint"
	"github.com/aa-proxy/aa-proxy-go/internal/usbstream"
)

const (
	accessoryDevicePath = "/dev/usb_accessory"
	dhuPort             = 5277
	tcpAcceptTimeout    = 30 * time.Second
)

// Transport opens the HU- and MD-side endpoints for one session, per
// spec.md §4.8's "wait for phone-side transport" / "open HU-side
// transport" steps. Split out of Supervisor so tests can substitute a
// fake without touching real USB/Bluetooth/TCP state.
type Transport interface {
	OpenMD(ctx context.Context, logger *logrus.Logger, cfg config.AppConfig) (endpoint.Endpoint, error)
	OpenHU(ctx context.Context, logger *logrus.Logger, cfg config.AppConfig) (endpoint.Endpoint, error)
}

type realTransport struct{}

// OpenMD waits for the phone-side transport: a wired AOA-switched USB
// device when cfg.Wired names a VID:PID filter, otherwise a TCP accept on
// the configured port within a 30s timeout (spec.md §5).
func (realTransport) OpenMD(ctx context.Context, logger *logrus.Logger, cfg config.AppConfig) (endpoint.Endpoint, error) {
	if cfg.Wired != nil {
		return usbstream.Connect(logger, *cfg.Wired)
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.TCPPort)
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("supervisor: binding tcp %s: %w", addr, err)
	}
	defer listener.Close()

	logger.WithField("addr", addr).Info("supervisor: waiting for phone to connect over tcp")

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	done := make(chan acceptResult, 1)
	go func() {
		conn, err := listener.Accept()
		done <- acceptResult{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("supervisor: tcp accept: %w", r.err)
		}
		return endpoint.Wrap(r.conn), nil
	case <-time.After(tcpAcceptTimeout):
		return nil, fmt.Errorf("supervisor: timed out waiting for phone to connect over tcp")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OpenHU opens the HU-side transport: the USB accessory character device
// in the normal case, or a local TCP dial to the Desktop Head Unit port
// when cfg.DHU is set.
func (realTransport) OpenHU(ctx context.Context, logger *logrus.Logger, cfg config.AppConfig) (endpoint.Endpoint, error) {
	if cfg.DHU {
		addr := fmt.Sprintf("127.0.0.1:%d", dhuPort)
		dialer := net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("supervisor: dialing dhu at %s: %w", addr, err)
		}
		logger.WithField("addr", addr).Info("supervisor: connected to desktop head unit")
		return endpoint.Wrap(conn), nil
	}

	f, err := os.OpenFile(accessoryDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("supervisor: opening %s: %w", accessoryDevicePath, err)
	}
	logger.WithField("path", accessoryDevicePath).Info("supervisor: opened usb accessory device")
	return endpoint.Wrap(f), nil
}

// localWifiAddress returns iface's first non-scoped (IPv4) address, the
// Go analogue of main.rs's init_wifi_config netif walk.
func localWifiAddress(iface string) (string, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return "", fmt.Errorf("interface %s: %w", iface, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return "", fmt.Errorf("addresses for %s: %w", iface, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no ipv4 address found on %s", iface)
}
