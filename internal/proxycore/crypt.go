package proxycore

import (
	"fmt"

	"github.com/aa-proxy/aa-proxy-go/internal/frame"
	"github.com/aa-proxy/aa-proxy-go/internal/tlsbridge"
)

// maxDecryptedRecord bounds a single DecryptFed read; generous relative to
// the 16 KiB frame budget since a TLS record adds only its own overhead.
const maxDecryptedRecord = 32 * 1024

// encryptPacket replaces pkt's payload with its TLS ciphertext when the
// ENCRYPTED flag is set (spec.md §4.5's steady-state rule); a plaintext
// control packet passes through untouched.
func encryptPacket(engine *tlsbridge.Engine, pkt *frame.Packet) error {
	if !pkt.IsEncrypted() {
		return nil
	}
	if err := engine.EncryptAndQueue(pkt.Payload); err != nil {
		return err
	}
	ciphertext, err := drainProduced(engine)
	if err != nil {
		return err
	}
	pkt.Payload = ciphertext
	return nil
}

// decryptPacket replaces pkt's payload with the plaintext recovered from
// its ciphertext when the ENCRYPTED flag is set.
func decryptPacket(engine *tlsbridge.Engine, pkt *frame.Packet) error {
	if !pkt.IsEncrypted() {
		return nil
	}
	if err := engine.Feed(pkt.Payload); err != nil {
		return err
	}
	buf := make([]byte, maxDecryptedRecord)
	n, err := engine.DecryptFed(buf)
	if err != nil {
		return err
	}
	pkt.Payload = buf[:n]
	return nil
}

// drainProduced blocks for the first chunk the engine produced in response
// to the write just issued, then drains whatever else is immediately
// available without blocking — a plaintext write larger than one TLS
// record's worth produces more than one chunk on Produced().
func drainProduced(engine *tlsbridge.Engine) ([]byte, error) {
	first, ok := <-engine.Produced()
	if !ok {
		return nil, fmt.Errorf("proxycore: tls engine closed")
	}
	out := append([]byte(nil), first...)
	for {
		select {
		case more, ok := <-engine.Produced():
			if !ok {
				return out, nil
			}
			out = append(out, more...)
		default:
			return out, nil
		}
	}
}
