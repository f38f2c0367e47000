// Package tls builds the TLS settings of the bridge and collector listeners
// and of the reporter's client.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/szibis/pagewatch/internal/logging"
)

// ServerConfig enables TLS on a listener when CertFile is set.
type ServerConfig struct {
	CertFile string
	KeyFile  string
	// ClientCAFile requires and verifies client certificates (mTLS).
	ClientCAFile string
	// ReloadInterval re-reads the key pair when the files change. 0 disables.
	ReloadInterval time.Duration
}

// Enabled reports whether a certificate is configured.
func (c ServerConfig) Enabled() bool { return c.CertFile != "" }

// ClientConfig holds the TLS settings of outgoing requests.
type ClientConfig struct {
	// CertFile and KeyFile present a client certificate (mTLS).
	CertFile string
	KeyFile  string
	// CAFile replaces the system roots for server verification.
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Enabled reports whether any setting differs from the system default.
func (c ClientConfig) Enabled() bool {
	return c.CertFile != "" || c.CAFile != "" || c.ServerName != "" || c.InsecureSkipVerify
}

// NewServerTLSConfig returns nil when cfg is not enabled. Websocket upgrades
// need HTTP/1.1, so only that protocol is offered.
func NewServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	kp, err := newKeyPair(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval)
	if err != nil {
		return nil, err
	}
	tc := &tls.Config{
		GetCertificate: kp.get,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"http/1.1"},
	}
	if cfg.ClientCAFile != "" {
		pool, err := loadPool(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}
		tc.ClientCAs = pool
		tc.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tc, nil
}

// NewClientTLSConfig returns nil when cfg is not enabled.
func NewClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test collectors
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pool, err := loadPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("parse CA certificate: no certificates found")
	}
	return pool, nil
}

// keyPair serves the current server certificate and swaps it when the
// files on disk get newer.
type keyPair struct {
	certFile, keyFile string
	interval          time.Duration

	mu        sync.Mutex
	cert      *tls.Certificate
	modTime   time.Time
	checkedAt time.Time
}

func newKeyPair(certFile, keyFile string, interval time.Duration) (*keyPair, error) {
	kp := &keyPair{certFile: certFile, keyFile: keyFile, interval: interval}
	if err := kp.load(); err != nil {
		return nil, err
	}
	kp.checkedAt = time.Now()
	return kp, nil
}

func (kp *keyPair) load() error {
	mod, err := kp.newest()
	if err != nil {
		return err
	}
	cert, err := tls.LoadX509KeyPair(kp.certFile, kp.keyFile)
	if err != nil {
		return fmt.Errorf("load server certificate: %w", err)
	}
	kp.cert, kp.modTime = &cert, mod
	return nil
}

func (kp *keyPair) newest() (time.Time, error) {
	var newest time.Time
	for _, f := range []string{kp.certFile, kp.keyFile} {
		st, err := os.Stat(f)
		if err != nil {
			return time.Time{}, fmt.Errorf("load server certificate: %w", err)
		}
		if st.ModTime().After(newest) {
			newest = st.ModTime()
		}
	}
	return newest, nil
}

func (kp *keyPair) get(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if kp.interval > 0 && time.Since(kp.checkedAt) >= kp.interval {
		kp.checkedAt = time.Now()
		if mod, err := kp.newest(); err == nil && mod.After(kp.modTime) {
			if err := kp.load(); err != nil {
				logging.Warn("certificate reload failed, keeping the previous one", logging.F(
					"component", "tls",
					"cert_file", kp.certFile,
					"error", err.Error(),
				))
			} else {
				logging.Info("certificate reloaded", logging.F("component", "tls", "cert_file", kp.certFile))
			}
		}
	}
	return kp.cert, nil
}
