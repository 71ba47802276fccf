// Package tlsbridge implements the C5 TLS terminator: each direction owns
// a TLS engine whose handshake records and steady-state ciphertext travel
// encapsulated inside control-channel packets rather than over a real
// socket. This is the idiomatic-Go shape of original_source/src/mitm.rs's
// SslMemBuf — a crypto/tls.Conn driven over one end of a net.Pipe, with
// the other end pumped by the proxy core (see DESIGN.md for why
// crypto/tls, not an ecosystem TLS library, is the correct choice here).
package tlsbridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
)

// Role distinguishes which side of the MITM this Engine terminates.
type Role int

const (
	// RoleServer is used toward the HU: the proxy presents the "md"
	// certificate and acts as a TLS server.
	RoleServer Role = iota
	// RoleClient is used toward the MD: the proxy presents the "hu"
	// certificate and acts as a TLS client.
	RoleClient
)

// Engine bridges a crypto/tls.Conn to explicit Feed/Produced calls instead
// of a live socket, so the proxy core can decide exactly when encapsulated
// handshake bytes arrive and when produced bytes get wrapped and sent.
type Engine struct {
	role  Role
	conn  *tls.Conn
	wire  net.Conn
	outCh chan []byte
}

// newConfig builds the shared TLS 1.2-only configuration: min and max
// version pinned to TLS 1.2 because the Android Auto wire protocol
// requires TLS 1.2 cipher suites (spec.md §4.5); TLS 1.3's different
// record layer would break the encapsulation scheme.
func newConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS12,
	}
}

// NewHUFacingServer builds the engine the proxy runs toward the HU: a TLS
// server presenting the "md" certificate. The galroot CA is loaded for
// reference but, matching the openssl context the original builds (no
// explicit SSL_VERIFY_PEER set, so the default is SSL_VERIFY_NONE), no
// client certificate is required — the HU and MD have already been
// paired out of band over Bluetooth, so this layer isn't where peer
// identity gets checked.
func NewHUFacingServer(paths CertPaths) (*Engine, error) {
	cert, err := loadKeyPair(paths.MDCertFile, paths.MDKeyFile)
	if err != nil {
		return nil, err
	}
	ca, err := loadCA(paths.CAFile)
	if err != nil {
		return nil, err
	}

	cfg := newConfig()
	cfg.Certificates = []tls.Certificate{cert}
	cfg.ClientCAs = ca
	cfg.ClientAuth = tls.NoClientCert

	inner, wire := net.Pipe()
	conn := tls.Server(inner, cfg)
	return newEngine(RoleServer, conn, wire), nil
}

// NewMDFacingClient builds the engine the proxy runs toward the MD: a TLS
// client presenting the "hu" certificate. Peer verification is disabled
// for the same reason as NewHUFacingServer; serverName may be left empty.
func NewMDFacingClient(paths CertPaths, serverName string) (*Engine, error) {
	cert, err := loadKeyPair(paths.HUCertFile, paths.HUKeyFile)
	if err != nil {
		return nil, err
	}
	ca, err := loadCA(paths.CAFile)
	if err != nil {
		return nil, err
	}

	cfg := newConfig()
	cfg.Certificates = []tls.Certificate{cert}
	cfg.RootCAs = ca
	cfg.ServerName = serverName
	cfg.InsecureSkipVerify = true

	inner, wire := net.Pipe()
	conn := tls.Client(inner, cfg)
	return newEngine(RoleClient, conn, wire), nil
}

func newEngine(role Role, conn *tls.Conn, wire net.Conn) *Engine {
	e := &Engine{
		role:  role,
		conn:  conn,
		wire:  wire,
		outCh: make(chan []byte, 32),
	}
	go e.pumpOut()
	return e
}

func (e *Engine) pumpOut() {
	buf := make([]byte, 16*1024)
	for {
		n, err := e.wire.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			e.outCh <- out
		}
		if err != nil {
			close(e.outCh)
			return
		}
	}
}

// Feed delivers bytes received off the wire — an encapsulated handshake
// record during negotiation, or ciphertext during steady state — into the
// TLS engine.
func (e *Engine) Feed(data []byte) error {
	_, err := e.wire.Write(data)
	return err
}

// Produced returns the channel of bytes the engine wants transmitted on
// the wire: handshake records during negotiation, ciphertext records
// after Write calls during steady state. The channel closes when the
// engine is closed.
func (e *Engine) Produced() <-chan []byte {
	return e.outCh
}

// Handshake drives the TLS handshake. The caller must concurrently pump
// Feed (as encapsulated records arrive) and drain Produced (to transmit
// records the handshake emits) for this to make progress.
func (e *Engine) Handshake(ctx context.Context) error {
	return e.conn.HandshakeContext(ctx)
}

// IsTransientError reports whether err is one of the TLS engine's "need
// more I/O" conditions (spec.md §7's WANT_READ/WANT_WRITE/SYSCALL set) as
// opposed to a fatal protocol error. net.Pipe-backed conns never produce
// these specific conditions (there is no non-blocking mode), but a
// deadline-exceeded (timeout) network error on the underlying pipe is
// treated the same way to keep the same decision point the original
// makes explicit; no other error counts as transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// EncryptAndQueue feeds plaintext into the TLS engine; the resulting
// ciphertext record(s) appear on Produced.
func (e *Engine) EncryptAndQueue(plaintext []byte) error {
	_, err := e.conn.Write(plaintext)
	if err != nil {
		return fmt.Errorf("tlsbridge: encrypt: %w", err)
	}
	return nil
}

// DecryptFed reads decrypted plaintext out of the TLS engine after ciphertext
// has been handed to Feed. It blocks until at least one TLS record's worth
// of plaintext is available.
func (e *Engine) DecryptFed(buf []byte) (int, error) {
	n, err := e.conn.Read(buf)
	if err != nil {
		return n, fmt.Errorf("tlsbridge: decrypt: %w", err)
	}
	return n, nil
}

// Close tears down the engine's TLS connection and pipe.
func (e *Engine) Close() error {
	err1 := e.conn.Close()
	err2 := e.wire.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
