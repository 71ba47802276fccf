// Package proxycore implements C7 (the proxy core) and C9 (the transfer
// monitor): the per-side reader/processor tasks that reassemble frames,
// run the TLS handshake choreography, invoke the message rewriter, and
// ferry packets between the HU and MD transports, grounded on
// original_source/src/mitm.rs's proxy() and original_source/src/io_uring.rs's
// copy()/transfer_monitor().
package proxycore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/endpoint"
	"github.com/aa-proxy/aa-proxy-go/internal/frame"
	"github.com/aa-proxy/aa-proxy-go/internal/groutine"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
	"github.com/aa-proxy/aa-proxy-go/internal/tlsbridge"
)

// queueSize bounds raw_in/cross_in (spec.md §4.7: "sizes are small (tens)
// to provide backpressure; the reader task blocks on queue full").
const queueSize = 32

// SessionEnd is a non-error-looking session termination: the transfer
// monitor observed a Reconnect action (ordinary, the supervisor just loops
// again), a Reboot action (the supervisor must reboot after tearing down),
// or a Stop action (the supervisor must suspend the restart loop until the
// operator reconnects). It implements error so Run's single return value
// covers both fatal failures and these requested endings.
type SessionEnd struct {
	Reason string
	Reboot bool
	Stop   bool
}

func (e *SessionEnd) Error() string { return e.Reason }

// Options collects a session's collaborators. Built fresh per session by
// internal/supervisor.
type Options struct {
	Logger   *logrus.Logger
	Cfg      config.AppConfig
	Shared   *config.SharedConfig
	HU       endpoint.Endpoint
	MD       endpoint.Endpoint
	Certs    tlsbridge.CertPaths
	Rewriter *rewriter.Rewriter
}

// Session runs one HU<->MD proxy session: two readers, two processors, one
// transfer monitor, torn down together on the first fatal error.
type Session struct {
	opts     Options
	counters Counters

	group   groutine.Group
	cancel  context.CancelFunc
	errOnce sync.Once
	err     error

	huCross chan frame.Packet // packets the MD side forwards for HU to transmit
	mdCross chan frame.Packet // packets the HU side forwards for MD to transmit
}

func NewSession(opts Options) *Session {
	return &Session{opts: opts}
}

// Run blocks until the session ends: a fatal error on either side, a
// SessionEnd requested through the shared config, or ctx's cancellation.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	huRaw := make(chan frame.Packet, queueSize)
	mdRaw := make(chan frame.Packet, queueSize)
	huCross := make(chan frame.Packet, queueSize)
	mdCross := make(chan frame.Packet, queueSize)
	s.huCross = huCross
	s.mdCross = mdCross

	s.group.Spawn(ctx, "proxycore-hu-reader", func(ctx context.Context) {
		s.fail(s.runReader(ctx, rewriter.SideHU, s.opts.HU, huRaw))
	})
	s.group.Spawn(ctx, "proxycore-md-reader", func(ctx context.Context) {
		s.fail(s.runReader(ctx, rewriter.SideMD, s.opts.MD, mdRaw))
	})
	s.group.Spawn(ctx, "proxycore-hu-processor", func(ctx context.Context) {
		s.fail(s.runProcessor(ctx, rewriter.SideHU, s.opts.HU, huRaw, mdCross, huCross))
	})
	s.group.Spawn(ctx, "proxycore-md-processor", func(ctx context.Context) {
		s.fail(s.runProcessor(ctx, rewriter.SideMD, s.opts.MD, mdRaw, huCross, mdCross))
	})
	s.group.Spawn(ctx, "proxycore-monitor", func(ctx context.Context) {
		s.fail(s.runMonitor(ctx))
	})

	s.group.Wait()
	return s.err
}

// fail records the first non-nil, non-cancellation error and cancels the
// session so every other task unwinds too.
func (s *Session) fail(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.errOnce.Do(func() {
		s.err = err
		s.opts.Logger.WithError(err).Warn("proxycore: session ending")
		s.cancel()
	})
}

// Inject enqueues pkt as if the opposite side's processor had forwarded
// it, so side's own processor picks it up, encrypts it and transmits it
// on its next steady-state iteration. This is how the HTTP admin surface
// (spec.md §3.11/§6) pushes a synthesized EV battery update toward the MD
// side without reaching into the running session's internals.
func (s *Session) Inject(ctx context.Context, side rewriter.Side, pkt frame.Packet) error {
	ch := s.huCross
	if side == rewriter.SideMD {
		ch = s.mdCross
	}
	if ch == nil {
		return fmt.Errorf("proxycore: session not running")
	}
	return sendOrDone(ctx, ch, pkt)
}

// SensorChannel reports the channel the HU-side processor captured off the
// first service discovery entry with a non-empty sensor list, if any — the HTTP admin
// surface's /battery handler reads this to address a synthesized packet.
func (s *Session) SensorChannel() (int32, bool) {
	return s.opts.Rewriter.Ctx.SensorChannel()
}

func sideName(side rewriter.Side) string {
	if side == rewriter.SideHU {
		return "hu"
	}
	return "md"
}

// writeAll writes the whole encoded frame, since Endpoint.Write is not
// guaranteed to accept it in one call (a TCP socket under backpressure, in
// particular).
func writeAll(dev endpoint.Endpoint, buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := dev.Write(buf[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, fmt.Errorf("proxycore: write stalled")
		}
	}
	return written, nil
}

// transmitRaw encodes pkt as a single wire frame and writes it to dev,
// crediting side's outbound byte counter (spec.md §5: "atomic integer per
// direction; monotonic").
func (s *Session) transmitRaw(dev endpoint.Endpoint, side rewriter.Side, pkt frame.Packet) error {
	encoded := frame.EncodeSingle(pkt.Channel, pkt.Flags, pkt.Payload)
	n, err := writeAll(dev, encoded)
	s.counters.Add(side, n)
	if err != nil {
		return fmt.Errorf("proxycore: %s write: %w", sideName(side), err)
	}
	return nil
}

func sendOrDone(ctx context.Context, ch chan<- frame.Packet, pkt frame.Packet) error {
	select {
	case ch <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recvOrDone(ctx context.Context, ch <-chan frame.Packet) (frame.Packet, error) {
	select {
	case pkt, ok := <-ch:
		if !ok {
			return frame.Packet{}, fmt.Errorf("proxycore: peer channel closed")
		}
		return pkt, nil
	case <-ctx.Done():
		return frame.Packet{}, ctx.Err()
	}
}
