package tlsbridge

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// genCert produces a minimal self-signed (or CA-signed, if parent is
// non-nil) ECDSA certificate/key PEM pair for test fixtures — there's no
// certificate authority infrastructure in this build to borrow from, so
// tests synthesize their own "md"/"hu"/"galroot" identities the way
// original_source's test harness would have used its own fixed fixtures.
func genCert(t *testing.T, cn string, parent *x509.Certificate, parentKey *ecdsa.PrivateKey) (certPEM, keyPEM []byte, cert *x509.Certificate, key *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  parent == nil,
	}

	signer := tmpl
	signerKey := key
	if parent != nil {
		signer = parent
		signerKey = parentKey
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, signer, &key.PublicKey, signerKey)
	require.NoError(t, err)

	cert, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, cert, key
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func testCertPaths(t *testing.T) CertPaths {
	t.Helper()
	dir := t.TempDir()

	caCertPEM, caKeyPEM, caCert, caKey := genCert(t, "galroot", nil, nil)
	mdCertPEM, mdKeyPEM, _, _ := genCert(t, "md", caCert, caKey)
	huCertPEM, huKeyPEM, _, _ := genCert(t, "hu", caCert, caKey)
	_ = caKeyPEM

	return CertPaths{
		MDCertFile: writeFile(t, dir, "md_cert.pem", mdCertPEM),
		MDKeyFile:  writeFile(t, dir, "md_key.pem", mdKeyPEM),
		HUCertFile: writeFile(t, dir, "hu_cert.pem", huCertPEM),
		HUKeyFile:  writeFile(t, dir, "hu_key.pem", huKeyPEM),
		CAFile:     writeFile(t, dir, "galroot_cert.pem", caCertPEM),
	}
}

// pumpBetween relays whatever each engine produces into the other's Feed,
// the way proxycore's handshake loop would via encapsulated wire packets
// (minus the framing, which isn't this package's concern). The returned
// stop function ends the relaying and waits for it, like proxycore leaving
// its handshake loop.
func pumpBetween(t *testing.T, a, b *Engine) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	var wg sync.WaitGroup
	relay := func(from, to *Engine) {
		defer wg.Done()
		for {
			select {
			case chunk, ok := <-from.Produced():
				if !ok {
					return
				}
				if err := to.Feed(chunk); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
	wg.Add(2)
	go relay(a, b)
	go relay(b, a)
	return func() {
		close(done)
		wg.Wait()
	}
}

func TestHandshakeAndSteadyStateRoundTrip(t *testing.T) {
	paths := testCertPaths(t)

	server, err := NewHUFacingServer(paths)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewMDFacingClient(paths, "")
	require.NoError(t, err)
	defer client.Close()

	stopPump := pumpBetween(t, server, client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- server.Handshake(ctx) }()
	go func() { errCh <- client.Handshake(ctx) }()

	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)
	stopPump()

	plaintext := []byte("hello from the head unit")
	require.NoError(t, server.EncryptAndQueue(plaintext))

	ciphertext := <-server.Produced()
	require.NotEqual(t, plaintext, ciphertext)
	require.NoError(t, client.Feed(ciphertext))

	buf := make([]byte, 256)
	n, err := client.DecryptFed(buf)
	require.NoError(t, err)
	require.Equal(t, plaintext, buf[:n])
}

func TestIsTransientError(t *testing.T) {
	require.False(t, IsTransientError(nil))
}
