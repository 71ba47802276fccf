package proxycore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/endpoint"
	"github.com/aa-proxy/aa-proxy-go/internal/frame"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
	"github.com/aa-proxy/aa-proxy-go/internal/tlsbridge"
	"github.com/aa-proxy/aa-proxy-go/internal/wire"
)

// runProcessor owns one side's packet flow end to end: the version/TLS
// handshake choreography, then the steady-state rewrite-and-forward loop.
// rawIn comes from this side's own reader; toPeer is the peer processor's
// rawIn-equivalent inbound channel for packets this side decided to
// forward; fromPeer is what the peer forwards back for this side to
// transmit.
func (s *Session) runProcessor(ctx context.Context, side rewriter.Side, dev endpoint.Endpoint, rawIn <-chan frame.Packet, toPeer chan<- frame.Packet, fromPeer <-chan frame.Packet) error {
	if !s.opts.Cfg.MITM {
		return s.runPassthrough(ctx, side, dev, rawIn, toPeer, fromPeer)
	}

	// Step 1: the plain VERSION frame, relayed untouched (spec.md §4.7 #1-2).
	// The HU speaks first: the HU side forwards the HU's request and
	// transmits the reply; the MD side transmits that request to the MD and
	// forwards the MD's reply.
	if side == rewriter.SideHU {
		versionReq, err := recvOrDone(ctx, rawIn)
		if err != nil {
			return err
		}
		if err := sendOrDone(ctx, toPeer, versionReq); err != nil {
			return err
		}
		versionResp, err := recvOrDone(ctx, fromPeer)
		if err != nil {
			return err
		}
		if err := s.transmitRaw(dev, side, versionResp); err != nil {
			return err
		}
	} else {
		versionReq, err := recvOrDone(ctx, fromPeer)
		if err != nil {
			return err
		}
		if err := s.transmitRaw(dev, side, versionReq); err != nil {
			return err
		}
		versionResp, err := recvOrDone(ctx, rawIn)
		if err != nil {
			return err
		}
		if err := sendOrDone(ctx, toPeer, versionResp); err != nil {
			return err
		}
	}

	// Step 2: the TLS handshake, encapsulated in MESSAGE_ENCAPSULATED_SSL
	// control packets exchanged directly with this side's own device.
	engine, err := s.newEngine(side)
	if err != nil {
		return fmt.Errorf("proxycore: %s tls setup: %w", sideName(side), err)
	}
	defer engine.Close()

	if err := s.runHandshake(ctx, side, dev, rawIn, engine); err != nil {
		return fmt.Errorf("proxycore: %s handshake: %w", sideName(side), err)
	}
	s.opts.Logger.WithField("side", sideName(side)).Info("proxycore: TLS handshake complete")

	return s.runSteady(ctx, side, dev, rawIn, toPeer, fromPeer, engine)
}

func (s *Session) newEngine(side rewriter.Side) (*tlsbridge.Engine, error) {
	if side == rewriter.SideHU {
		return tlsbridge.NewHUFacingServer(s.opts.Certs)
	}
	return tlsbridge.NewMDFacingClient(s.opts.Certs, "")
}

// runHandshake drives engine's handshake to completion. The handshake
// itself runs on a background goroutine (crypto/tls decides its own
// number of round trips internally); this loop's only job is to ferry
// bytes between the engine and the device for as long as that takes —
// the "two round trips" / "three round trips" spec.md §4.7 calls out for
// the HU and MD sides respectively fall out of that automatically rather
// than being hand counted, since crypto/tls (unlike the original's
// OpenSSL state machine) doesn't expose a step-by-step accept()/do_handshake().
func (s *Session) runHandshake(ctx context.Context, side rewriter.Side, dev endpoint.Endpoint, rawIn <-chan frame.Packet, engine *tlsbridge.Engine) error {
	hsErr := make(chan error, 1)
	go func() { hsErr <- engine.Handshake(ctx) }()

	for {
		select {
		case err := <-hsErr:
			s.drainProducedNonBlocking(dev, side, engine)
			return err
		case chunk, ok := <-engine.Produced():
			if !ok {
				return io.ErrClosedPipe
			}
			if err := s.transmitEncapsulated(dev, side, chunk); err != nil {
				return err
			}
		case pkt, ok := <-rawIn:
			if !ok {
				return io.ErrClosedPipe
			}
			if err := feedEncapsulated(engine, pkt.Payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drainProducedNonBlocking flushes any handshake bytes the engine produced
// in the same instant the handshake goroutine returned, so a last
// Finished/NewSessionTicket record isn't dropped.
func (s *Session) drainProducedNonBlocking(dev endpoint.Endpoint, side rewriter.Side, engine *tlsbridge.Engine) {
	for {
		select {
		case chunk, ok := <-engine.Produced():
			if !ok {
				return
			}
			_ = s.transmitEncapsulated(dev, side, chunk)
		default:
			return
		}
	}
}

func (s *Session) transmitEncapsulated(dev endpoint.Endpoint, side rewriter.Side, record []byte) error {
	payload := make([]byte, 2+len(record))
	binary.BigEndian.PutUint16(payload[0:2], uint16(wire.MessageEncapsulatedSSL))
	copy(payload[2:], record)
	pkt := frame.Packet{Channel: 0, Flags: frame.FlagControl, Payload: payload}
	return s.transmitRaw(dev, side, pkt)
}

func feedEncapsulated(engine *tlsbridge.Engine, payload []byte) error {
	if len(payload) < 2 {
		return nil
	}
	if binary.BigEndian.Uint16(payload[0:2]) != uint16(wire.MessageEncapsulatedSSL) {
		return nil
	}
	return engine.Feed(payload[2:])
}

// runPassthrough forwards every packet untouched both ways, with no TLS
// state and no rewriting (spec.md §4.7: "With MITM disabled ... the
// processor simply forwards raw packets both ways untouched").
func (s *Session) runPassthrough(ctx context.Context, side rewriter.Side, dev endpoint.Endpoint, rawIn <-chan frame.Packet, toPeer chan<- frame.Packet, fromPeer <-chan frame.Packet) error {
	for {
		select {
		case pkt, ok := <-fromPeer:
			if !ok {
				return io.ErrClosedPipe
			}
			if err := s.transmitRaw(dev, side, pkt); err != nil {
				return err
			}
		case pkt, ok := <-rawIn:
			if !ok {
				return io.ErrClosedPipe
			}
			if err := sendOrDone(ctx, toPeer, pkt); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runSteady is the steady-state loop (spec.md §4.7 #2): service raw_in
// from this side's reader (decrypt, rewrite, forward to the peer) and
// cross_in from the peer's processor (encrypt, write to this side's
// device), in whatever order they arrive.
func (s *Session) runSteady(ctx context.Context, side rewriter.Side, dev endpoint.Endpoint, rawIn <-chan frame.Packet, toPeer chan<- frame.Packet, fromPeer <-chan frame.Packet, engine *tlsbridge.Engine) error {
	level := s.opts.Cfg.HexdumpLevel

	for {
		select {
		case pkt, ok := <-fromPeer:
			if !ok {
				return io.ErrClosedPipe
			}
			hexdump(s.opts.Logger, level, config.HexdumpDecryptedOutput, side, pkt.Payload)
			if err := encryptPacket(engine, &pkt); err != nil {
				return fmt.Errorf("proxycore: %s encrypt: %w", sideName(side), err)
			}
			hexdump(s.opts.Logger, level, config.HexdumpRawOutput, side, pkt.Payload)
			if err := s.transmitRaw(dev, side, pkt); err != nil {
				return err
			}

		case pkt, ok := <-rawIn:
			if !ok {
				return io.ErrClosedPipe
			}
			hexdump(s.opts.Logger, level, config.HexdumpRawInput, side, pkt.Payload)
			if err := decryptPacket(engine, &pkt); err != nil {
				return fmt.Errorf("proxycore: %s decrypt: %w", sideName(side), err)
			}
			hexdump(s.opts.Logger, level, config.HexdumpDecryptedInput, side, pkt.Payload)

			res, err := s.opts.Rewriter.Rewrite(side, pkt.Channel, pkt.Payload)
			if err != nil {
				return fmt.Errorf("proxycore: rewrite: %w", err)
			}

			if res.Handled {
				resp := *res.Response
				resp.Channel = pkt.Channel
				if err := encryptPacket(engine, &resp); err != nil {
					return fmt.Errorf("proxycore: %s encrypt response: %w", sideName(side), err)
				}
				if err := s.transmitRaw(dev, side, resp); err != nil {
					return err
				}
				continue
			}

			pkt.Payload = res.Payload
			if err := sendOrDone(ctx, toPeer, pkt); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
