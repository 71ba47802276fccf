// Package supervisor implements C8: the single outer loop that bootstraps
// a transport pair, runs one proxycore.Session over it, and restarts on
// every exit, grounded on original_source/src/main.rs's tokio_main outer
// loop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/btbootstrap"
	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/ev"
	"github.com/aa-proxy/aa-proxy-go/internal/ledctl"
	"github.com/aa-proxy/aa-proxy-go/internal/proxycore"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
	"github.com/aa-proxy/aa-proxy-go/internal/tlsbridge"
	"github.com/aa-proxy/aa-proxy-go/internal/usbgadget"
)

const (
	rebootCmd    = "/sbin/reboot"
	restartPause = time.Second
	btRetryPause = time.Second
	certDir      = "/etc/aa-proxy-rs"
)

// Supervisor owns the configuration handle and collaborators a session
// needs across restarts.
type Supervisor struct {
	Logger *logrus.Logger
	Shared *config.SharedConfig
	LED    ledctl.Controller

	// Transport opens HU- and MD-side endpoints according to the
	// effective configuration; split out so tests can substitute fakes
	// without touching real USB/Bluetooth/TCP state.
	Transport Transport

	mu      sync.RWMutex
	active  *proxycore.Session
}

// ActiveSession returns the currently running session, or nil between
// sessions — the HTTP admin surface's /battery handler uses this to reach
// proxycore.Session.Inject without the supervisor exposing anything else.
func (s *Supervisor) ActiveSession() *proxycore.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Supervisor) setActiveSession(sess *proxycore.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = sess
}

// New builds a Supervisor wired to the real USB/Bluetooth/TCP transports.
func New(logger *logrus.Logger, shared *config.SharedConfig, led ledctl.Controller) *Supervisor {
	if led == nil {
		led = ledctl.Noop{}
	}
	return &Supervisor{
		Logger:    logger,
		Shared:    shared,
		LED:       led,
		Transport: realTransport{},
	}
}

// Run is the forever loop spec.md §4.8 describes. It returns only when
// ctx is canceled.
//
// A Stop request (spec.md §4.9/§5) ends the running session and then
// suspends the restart loop: runOnce is not called again until the
// operator issues an explicit Reconnect, so the proxy doesn't silently
// re-bootstrap Bluetooth and reopen transports right after being told to
// stop.
func (s *Supervisor) Run(ctx context.Context) error {
	stopped := false
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if stopped {
			if s.Shared.PeekAction() != config.ActionReconnect {
				select {
				case <-time.After(restartPause):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			s.Shared.TakeAction()
			stopped = false
		}

		if err := s.runOnce(ctx); err != nil {
			if err == errRebooting {
				<-ctx.Done()
				return ctx.Err()
			}

			var end *proxycore.SessionEnd
			switch {
			case errors.As(err, &end) && end.Reboot:
				s.Logger.Warn("supervisor: rebooting now")
				_ = exec.Command(rebootCmd).Start()
				<-ctx.Done()
				return ctx.Err()
			case errors.As(err, &end) && end.Stop:
				s.Logger.Info("supervisor: session stopped, waiting for reconnect request")
				stopped = true
			default:
				s.Logger.WithError(err).Warn("supervisor: session ended")
			}
		}

		s.setLED(ledctl.StateIdle)
		select {
		case <-time.After(restartPause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errRebooting = fmt.Errorf("supervisor: reboot requested")

// setLED reports state to the LED controller; a Supervisor whose LED is nil
// skips the report, the same as New's ledctl.Noop default.
func (s *Supervisor) setLED(state ledctl.State) {
	if s.LED != nil {
		_ = s.LED.Set(state)
	}
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	cfg := s.Shared.Snapshot()

	if s.Shared.PeekAction() == config.ActionReboot {
		s.Shared.TakeAction()
		s.Logger.Warn("supervisor: rebooting now")
		_ = exec.Command(rebootCmd).Start()
		return errRebooting
	}

	s.setLED(ledctl.StateConnecting)

	var gadget *usbgadget.Controller
	if !cfg.DHU && cfg.Wired == nil {
		gadget = usbgadget.New(s.Logger, cfg.UDC)
		if err := gadget.Init(); err != nil {
			return fmt.Errorf("supervisor: usb gadget init: %w", err)
		}
	}

	accessorySignal, err := usbgadget.WatchAccessoryUevent(ctx, s.Logger)
	if err != nil {
		s.Logger.WithError(err).Warn("supervisor: accessory uevent watcher unavailable")
	}

	enableAccessory := func() error {
		if gadget == nil {
			return nil
		}
		return gadget.EnableDefaultAndWaitForAccessory(accessorySignal, cfg.Legacy)
	}

	if cfg.ChangeUSBOrder {
		if err := enableAccessory(); err != nil {
			return fmt.Errorf("supervisor: usb accessory enable: %w", err)
		}
	}

	var btSession *btbootstrap.Session
	wireless := cfg.Wired == nil && !cfg.DHU
	if wireless {
		btSession, err = s.bootstrapBluetooth(ctx, cfg)
		if err != nil {
			return err
		}
	}

	if !cfg.ChangeUSBOrder {
		if err := enableAccessory(); err != nil {
			if btSession != nil {
				btSession.Teardown(s.Logger)
			}
			return fmt.Errorf("supervisor: usb accessory enable: %w", err)
		}
	}

	md, err := s.Transport.OpenMD(ctx, s.Logger, cfg)
	if err != nil {
		if btSession != nil {
			btSession.Teardown(s.Logger)
		}
		return fmt.Errorf("supervisor: opening md transport: %w", err)
	}
	defer md.Close()

	if btSession != nil {
		btSession.Teardown(s.Logger)
	}

	hu, err := s.Transport.OpenHU(ctx, s.Logger, cfg)
	if err != nil {
		return fmt.Errorf("supervisor: opening hu transport: %w", err)
	}
	defer hu.Close()

	s.setLED(ledctl.StateConnected)

	rewriterCtx := rewriter.NewContext()
	rw := &rewriter.Rewriter{
		Opts:          rewriter.OptionsFromConfig(cfg),
		Ctx:           rewriterCtx,
		Logger:        s.Logger,
		RequestAction: s.Shared.RequestAction,
	}

	var evMu sync.Mutex
	var evLogger *ev.ChildProcess
	if cfg.EvBatteryLoggerCmd != "" {
		rw.StartEVLogger = func() {
			cp, startErr := ev.Start(s.Logger, cfg.EvBatteryLoggerCmd)
			if startErr != nil {
				s.Logger.WithError(startErr).Warn("supervisor: ev battery logger did not start")
				return
			}
			evMu.Lock()
			evLogger = cp
			evMu.Unlock()
		}
	}
	defer func() {
		evMu.Lock()
		defer evMu.Unlock()
		if evLogger != nil {
			_ = evLogger.Stop()
		}
	}()

	session := proxycore.NewSession(proxycore.Options{
		Logger:   s.Logger,
		Cfg:      cfg,
		Shared:   s.Shared,
		HU:       hu,
		MD:       md,
		Certs:    tlsbridge.DefaultCertPaths(certDir),
		Rewriter: rw,
	})
	s.setActiveSession(session)
	defer s.setActiveSession(nil)

	return session.Run(ctx)
}

// bootstrapBluetooth runs btbootstrap.Setup in a 1s-delay retry loop until
// it succeeds or ctx is canceled, matching main.rs's bluetooth retry loop.
func (s *Supervisor) bootstrapBluetooth(ctx context.Context, cfg config.AppConfig) (*btbootstrap.Session, error) {
	wifiIP, err := localWifiAddress(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolving wifi address: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sess, err := btbootstrap.Setup(s.Logger, cfg, wifiIP, int32(cfg.TCPPort))
		if err == nil {
			return sess, nil
		}
		s.Logger.WithError(err).Warn("supervisor: bluetooth bootstrap failed, retrying")
		select {
		case <-time.After(btRetryPause):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
