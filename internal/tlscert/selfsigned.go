package tlscert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"rel-graphql/internal/logging"
)

// autoSource owns a self-signed pair under a server-managed directory. The
// pair is regenerated whenever the one on disk is missing, expired, broken,
// or covers a different host set.
type autoSource struct {
	certPath string
	keyPath  string
}

const (
	autoCertName = "server.crt"
	autoKeyName  = "server.key"

	certificateLifetime = 365 * 24 * time.Hour
)

var defaultAutoHosts = []string{"localhost", "127.0.0.1", "::1"}

func newAutoSource(cfg Config, logger *logging.Logger) (*autoSource, error) {
	hosts := cfg.AutoHosts
	if len(hosts) == 0 {
		hosts = defaultAutoHosts
	}
	dir := cfg.AutoDir
	if dir == "" {
		dir = ".tls"
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create certificate directory: %w", err)
	}
	certPath := filepath.Join(dir, autoCertName)
	keyPath := filepath.Join(dir, autoKeyName)

	reusable, err := reusableCertificate(certPath, keyPath, hosts)
	if err != nil {
		return nil, err
	}

	if reusable {
		logger.Info("reusing self-signed certificate", slog.String("cert_path", certPath))
	} else {
		if err := generateCertificate(certPath, keyPath, hosts); err != nil {
			return nil, fmt.Errorf("generate self-signed certificate: %w", err)
		}
		logger.Warn("generated self-signed certificate, not for production use",
			slog.String("cert_path", certPath),
			slog.Any("hosts", hosts))
	}

	return &autoSource{certPath: certPath, keyPath: keyPath}, nil
}

func (s *autoSource) TLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
	if err != nil {
		return nil, fmt.Errorf("load self-signed certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   MinVersion,
		Certificates: []tls.Certificate{cert},
	}, nil
}

func (s *autoSource) Describe() string {
	return fmt.Sprintf("self-signed (cert=%s, dev only)", s.certPath)
}

func (s *autoSource) Close() error {
	return nil
}

// generateCertificate writes a fresh self-signed pair for hosts. The key is
// written 0600; the certificate is world-readable like any public cert.
func generateCertificate(certPath, keyPath string, hosts []string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"rel-graphql dev"},
			CommonName:   "localhost",
		},
		// Backdated slightly so a fresh certificate validates on clients
		// with modest clock drift.
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(certificateLifetime),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	return nil
}

// reusableCertificate reports whether the pair on disk is valid now and
// covers exactly the requested hosts. Unreadable or malformed content is
// not an error; the directory is server-managed and the pair is simply
// regenerated.
func reusableCertificate(certPath, keyPath string, hosts []string) (bool, error) {
	certPEM, err := os.ReadFile(certPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read self-signed certificate: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return false, nil
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, nil
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return false, nil
	}
	if !coversHosts(cert, hosts) {
		return false, nil
	}
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return false, nil
	}

	return true, nil
}

// coversHosts reports whether the certificate's SANs are exactly the
// requested host set.
func coversHosts(cert *x509.Certificate, hosts []string) bool {
	wantDNS := make(map[string]bool)
	wantIP := make(map[string]bool)
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			wantIP[ip.String()] = true
		} else {
			wantDNS[host] = true
		}
	}

	if len(cert.DNSNames) != len(wantDNS) || len(cert.IPAddresses) != len(wantIP) {
		return false
	}
	for _, name := range cert.DNSNames {
		if !wantDNS[name] {
			return false
		}
	}
	for _, ip := range cert.IPAddresses {
		if !wantIP[ip.String()] {
			return false
		}
	}
	return true
}
