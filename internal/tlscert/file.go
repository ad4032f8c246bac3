package tlscert

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"rel-graphql/internal/logging"
)

// fileSource serves a certificate pair from configured paths, reloading it
// per handshake so a rotated certificate is picked up without a restart.
type fileSource struct {
	certFile string
	keyFile  string
	logger   *logging.Logger
}

func newFileSource(cfg Config, logger *logging.Logger) (*fileSource, error) {
	if cfg.CertFile == "" {
		return nil, errors.New("tls_cert_file is required when tls_mode=file")
	}
	if cfg.KeyFile == "" {
		return nil, errors.New("tls_key_file is required when tls_mode=file")
	}

	if err := checkReadableFile(cfg.CertFile); err != nil {
		return nil, fmt.Errorf("certificate file: %w", err)
	}
	if err := checkReadableFile(cfg.KeyFile); err != nil {
		return nil, fmt.Errorf("key file: %w", err)
	}
	if err := checkKeyPermissions(cfg.KeyFile); err != nil {
		return nil, err
	}

	// Load once up front so a broken pair fails startup.
	if _, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile); err != nil {
		return nil, fmt.Errorf("load certificate pair: %w", err)
	}

	return &fileSource{
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
		logger:   logger,
	}, nil
}

func (s *fileSource) TLSConfig() (*tls.Config, error) {
	return &tls.Config{
		MinVersion: MinVersion,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
			if err != nil {
				s.logger.Error("certificate reload failed",
					slog.String("cert_file", s.certFile),
					slog.String("error", err.Error()))
				return nil, err
			}
			return &cert, nil
		},
	}, nil
}

func (s *fileSource) Describe() string {
	return fmt.Sprintf("file (cert=%s, key=%s)", s.certFile, s.keyFile)
}

func (s *fileSource) Close() error {
	return nil
}

func checkReadableFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

// checkKeyPermissions rejects private keys readable by group or others.
func checkKeyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("key file %s has permissions %04o, want 0600 or stricter", path, perm)
	}
	return nil
}
