// Package syncbridge replicates the snapshot document between devices. The
// publisher watches the local store and pushes the serialized snapshot map
// over QUIC to each peer; the subscriber receives pushed documents, verifies
// their integrity, and writes them into the sync storage area.
//
// Merge policy is local-wins: applying a remote document only surfaces it as
// a sync-area change, and the tracker reasserts the local state over any
// divergence. A device that reconnects and pushes first can therefore
// overwrite newer remote edits; whole-document last-writer-wins is accepted.
package syncbridge

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// ALPN and wire-format constants.
const (
	// ALPNProtocol identifies syncbridge streams over QUIC.
	ALPNProtocol = "fenetre-sync-v1"

	// MagicBytes open every document stream for framing.
	MagicBytes = "FEN1"

	// MaxDocumentSize is a safety limit (64 MB). Snapshot maps are small;
	// anything near this is corrupt or hostile.
	MaxDocumentSize = 64 * 1024 * 1024
)

// DocMeta is sent as the first message on the QUIC stream before the
// document bytes follow.
type DocMeta struct {
	Version    int64  `json:"version"`    // publisher's unix-milli at push
	Hash       string `json:"hash"`       // SHA-256 hex of uncompressed data
	Size       int64  `json:"size"`       // uncompressed size in bytes
	Timestamp  int64  `json:"timestamp"`  // unix epoch seconds
	Compressed bool   `json:"compressed"` // true if payload is gzip-compressed
}

// Option configures Publisher or Subscriber.
type Option func(*options)

type options struct {
	debounce time.Duration
	compress bool
	maxAge   time.Duration // reject documents older than this (0 = no limit)
}

func defaultOptions() options {
	return options{debounce: 500 * time.Millisecond}
}

// WithDebounce sets the quiet window between a local change and the push.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithCompression enables gzip compression of document payloads.
func WithCompression() Option {
	return func(o *options) { o.compress = true }
}

// WithMaxAge sets the maximum acceptable age for incoming documents. The
// subscriber rejects older ones, protecting against replayed pushes.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// SyncTLSConfig builds a TLS config with the syncbridge ALPN protocol. The
// cert is added to RootCAs so self-signed certs are trusted when this config
// is reused as a client.
func SyncTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read cert for root pool: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(certPEM)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		NextProtos:   []string{ALPNProtocol},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// SelfSignedTLSConfig generates an in-memory self-signed certificate and
// returns a server TLS config for it. Peers must dial with
// ClientTLSConfig(true) since the cert chains to nothing.
func SelfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "fenetre-sync"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{ALPNProtocol},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig returns a TLS config for dialing a syncbridge peer.
//
// WARNING: when insecureSkipVerify is true, any server certificate is
// accepted. Local development only; in production pin the CA with
// ClientTLSConfigWithCA.
func ClientTLSConfig(insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		NextProtos:         []string{ALPNProtocol},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: insecureSkipVerify,
	}
}

// ClientTLSConfigWithCA returns a TLS config that trusts the given CA
// certificate file.
func ClientTLSConfigWithCA(caCertFile string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to parse CA cert from %s", caCertFile)
	}
	return &tls.Config{
		RootCAs:    pool,
		NextProtos: []string{ALPNProtocol},
		MinVersion: tls.VersionTLS13,
	}, nil
}
