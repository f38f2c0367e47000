package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeCert writes a self-signed CA certificate valid for localhost.
func writeCert(t *testing.T, dir, name, cn string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certFile = filepath.Join(dir, name+".crt")
	keyFile = filepath.Join(dir, name+".key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func commonName(t *testing.T, c *tls.Certificate) string {
	t.Helper()
	leaf, err := x509.ParseCertificate(c.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	return leaf.Subject.CommonName
}

func TestDisabled(t *testing.T) {
	if tc, err := NewServerTLSConfig(ServerConfig{}); tc != nil || err != nil {
		t.Errorf("server = %v, %v", tc, err)
	}
	if tc, err := NewClientTLSConfig(ClientConfig{}); tc != nil || err != nil {
		t.Errorf("client = %v, %v", tc, err)
	}
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeCert(t, dir, "server", "bridge")
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not pem"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		server *ServerConfig
		client *ClientConfig
	}{
		{"missing server cert", &ServerConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}, nil},
		{"missing client CA", &ServerConfig{CertFile: cert, KeyFile: key, ClientCAFile: "/nonexistent/ca.pem"}, nil},
		{"unparsable client CA", &ServerConfig{CertFile: cert, KeyFile: key, ClientCAFile: garbage}, nil},
		{"missing client cert", nil, &ClientConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}},
		{"missing root CA", nil, &ClientConfig{CAFile: "/nonexistent/ca.pem"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.server != nil {
				_, err = NewServerTLSConfig(*tt.server)
			} else {
				_, err = NewClientTLSConfig(*tt.client)
			}
			if err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeCert(t, dir, "server", "bridge")
	tc, err := NewServerTLSConfig(ServerConfig{CertFile: cert, KeyFile: key, ClientCAFile: cert})
	if err != nil {
		t.Fatal(err)
	}
	if tc.MinVersion != tls.VersionTLS12 || tc.ClientAuth != tls.RequireAndVerifyClientCert || tc.ClientCAs == nil {
		t.Errorf("config = %+v", tc)
	}
	got, err := tc.GetCertificate(nil)
	if err != nil || commonName(t, got) != "bridge" {
		t.Errorf("GetCertificate = %v, %v", got, err)
	}
}

func TestClientConfig(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeCert(t, dir, "client", "agent")
	tc, err := NewClientTLSConfig(ClientConfig{CertFile: cert, KeyFile: key, CAFile: cert, ServerName: "collect.test"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tc.Certificates) != 1 || tc.RootCAs == nil || tc.ServerName != "collect.test" || tc.InsecureSkipVerify {
		t.Errorf("config = %+v", tc)
	}

	tc, err = NewClientTLSConfig(ClientConfig{InsecureSkipVerify: true})
	if err != nil || !tc.InsecureSkipVerify {
		t.Errorf("insecure = %+v, %v", tc, err)
	}
}

func TestCertificateReload(t *testing.T) {
	dir := t.TempDir()
	cert, key := writeCert(t, dir, "server", "first")
	tc, err := NewServerTLSConfig(ServerConfig{CertFile: cert, KeyFile: key, ReloadInterval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	writeCert(t, dir, "server", "second")
	later := time.Now().Add(time.Minute)
	for _, f := range []string{cert, key} {
		if err := os.Chtimes(f, later, later); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(5 * time.Millisecond)
	got, err := tc.GetCertificate(nil)
	if err != nil || commonName(t, got) != "second" {
		t.Fatalf("after rotation = %s, %v", commonName(t, got), err)
	}

	// A broken rotation keeps serving the last good pair.
	if err := os.WriteFile(cert, []byte("truncated"), 0o600); err != nil {
		t.Fatal(err)
	}
	evenLater := later.Add(time.Minute)
	_ = os.Chtimes(cert, evenLater, evenLater)
	time.Sleep(5 * time.Millisecond)
	if got, _ := tc.GetCertificate(nil); commonName(t, got) != "second" {
		t.Errorf("broken rotation served %s", commonName(t, got))
	}
}

func TestMutualHandshake(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey := writeCert(t, dir, "server", "collector")
	clientCert, clientKey := writeCert(t, dir, "client", "agent")

	stc, err := NewServerTLSConfig(ServerConfig{CertFile: serverCert, KeyFile: serverKey, ClientCAFile: clientCert})
	if err != nil {
		t.Fatal(err)
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", stc)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	peer := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			peer <- ""
			return
		}
		defer conn.Close()
		tconn := conn.(*tls.Conn)
		if err := tconn.Handshake(); err != nil {
			peer <- ""
			return
		}
		_, _ = io.WriteString(conn, "ok")
		peer <- tconn.ConnectionState().PeerCertificates[0].Subject.CommonName
	}()

	ctc, err := NewClientTLSConfig(ClientConfig{CertFile: clientCert, KeyFile: clientKey, CAFile: serverCert})
	if err != nil {
		t.Fatal(err)
	}
	conn, err := tls.Dial("tcp", ln.Addr().String(), ctc)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != "ok" {
		t.Fatalf("read = %q, %v", buf, err)
	}
	if cn := <-peer; cn != "agent" {
		t.Errorf("server saw client %q", cn)
	}
}
