package tlsbridge

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// CertPaths names the certificate/key material spec.md §6 lists under
// /etc/aa-proxy-rs/: the "md" identity the proxy presents toward the HU,
// the "hu" identity it presents toward the MD, and the shared "galroot"
// CA both sides trust.
type CertPaths struct {
	MDCertFile string
	MDKeyFile  string
	HUCertFile string
	HUKeyFile  string
	CAFile     string
}

// DefaultCertPaths returns the well-known layout spec.md §6 names under
// dir (normally /etc/aa-proxy-rs).
func DefaultCertPaths(dir string) CertPaths {
	return CertPaths{
		MDCertFile: dir + "/md_cert.pem",
		MDKeyFile:  dir + "/md_key.pem",
		HUCertFile: dir + "/hu_cert.pem",
		HUKeyFile:  dir + "/hu_key.pem",
		CAFile:     dir + "/galroot_cert.pem",
	}
}

func loadCA(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA %s: %w", caFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return pool, nil
}

func loadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading keypair %s/%s: %w", certFile, keyFile, err)
	}
	return cert, nil
}
