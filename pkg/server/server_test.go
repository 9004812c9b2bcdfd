package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phuslu/log"
)

var quiet = log.Logger{Level: log.PanicLevel}

func TestServer_StartShutdown(t *testing.T) {
	srv, err := New(Config{
		Addr:    "127.0.0.1:0",
		Handler: HealthHandler(nil),
		Logger:  quiet,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(); err == nil {
		t.Error("second Start() succeeded")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if _, err := http.Get("http://" + srv.Addr() + "/healthz"); err == nil {
		t.Error("server still answering after Shutdown")
	}
}

func TestServer_ShutdownUnstarted(t *testing.T) {
	srv, _ := New(Config{Addr: "127.0.0.1:0", Logger: quiet})
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if srv.Addr() != "127.0.0.1:0" {
		t.Errorf("Addr() = %q", srv.Addr())
	}
}

func TestServer_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv, _ := New(Config{Addr: ln.Addr().String(), Logger: quiet})
	if err := srv.Start(); err == nil {
		t.Error("Start() on a busy port succeeded")
	}
}

func TestHealthHandler(t *testing.T) {
	h := HealthHandler(func() map[string]any { return map[string]any{"processes": 3} })
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	if body["status"] != "healthy" || body["processes"] != float64(3) {
		t.Errorf("body = %v", body)
	}
}

// writeCert writes a self-signed certificate for 127.0.0.1 and returns
// the file names.
func writeCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "webkernel test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,

		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600)
	os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600)
	return certFile, keyFile
}

func TestServer_TLS(t *testing.T) {
	certFile, keyFile := writeCert(t)
	srv, err := New(Config{
		Addr:    "127.0.0.1:0",
		Handler: HealthHandler(nil),
		TLS:     &TLSConfig{CertFile: certFile, KeyFile: keyFile},
		Logger:  quiet,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown(context.Background())

	clientTLS, err := ClientTLSConfig(certFile, false)
	if err != nil {
		t.Fatalf("ClientTLSConfig() error = %v", err)
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}}
	resp, err := client.Get("https://" + srv.Addr() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.TLS == nil || resp.TLS.Version != tls.VersionTLS13 {
		t.Errorf("connection state = %+v", resp.TLS)
	}
}

func TestTLSConfig_LoadCertificates(t *testing.T) {
	if _, err := (&TLSConfig{}).LoadCertificates(); err == nil {
		t.Error("expected error for empty files")
	}
	if _, err := (&TLSConfig{CertFile: "missing.pem", KeyFile: "missing.pem"}).LoadCertificates(); err == nil {
		t.Error("expected error for missing files")
	}
	if _, err := New(Config{TLS: &TLSConfig{CertFile: "missing.pem", KeyFile: "missing.pem"}}); err == nil {
		t.Error("New() accepted missing certificates")
	}
}

func TestClientTLSConfig(t *testing.T) {
	if _, err := ClientTLSConfig("missing.pem", false); err == nil {
		t.Error("expected error for missing CA file")
	}
	cfg, err := ClientTLSConfig("", true)
	if err != nil || !cfg.InsecureSkipVerify || cfg.RootCAs != nil {
		t.Errorf("ClientTLSConfig(\"\", true) = %+v, %v", cfg, err)
	}
}
