// jwt-generate-keys writes the RSA keypair that jwt-mint signs with and
// jwks-server publishes. Existing keys are left alone unless -force is set.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	dir := flag.String("dir", ".auth", "Output directory for the keypair")
	bits := flag.Int("bits", 2048, "RSA key size")
	force := flag.Bool("force", false, "Overwrite an existing keypair")
	flag.Parse()

	if *bits < 2048 {
		exitErr(fmt.Errorf("key size %d is below the 2048-bit minimum", *bits))
	}

	privatePath := filepath.Join(*dir, "jwt_private.pem")
	publicPath := filepath.Join(*dir, "jwt_public.pem")
	if !*force {
		if _, err := os.Stat(privatePath); err == nil {
			exitErr(fmt.Errorf("%s already exists; pass -force to overwrite", privatePath))
		} else if !errors.Is(err, os.ErrNotExist) {
			exitErr(err)
		}
	}

	if err := os.MkdirAll(*dir, 0o700); err != nil {
		exitErr(fmt.Errorf("create %s: %w", *dir, err))
	}

	key, err := rsa.GenerateKey(rand.Reader, *bits)
	if err != nil {
		exitErr(fmt.Errorf("generate key: %w", err))
	}

	privateBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		exitErr(fmt.Errorf("marshal private key: %w", err))
	}
	if err := writePEM(privatePath, "PRIVATE KEY", privateBytes, 0o600); err != nil {
		exitErr(err)
	}

	publicBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		exitErr(fmt.Errorf("marshal public key: %w", err))
	}
	if err := writePEM(publicPath, "PUBLIC KEY", publicBytes, 0o644); err != nil {
		exitErr(err)
	}

	fmt.Printf("wrote %s and %s (%d-bit RSA)\n", privatePath, publicPath, *bits)
}

func writePEM(path, pemType string, der []byte, perm os.FileMode) error {
	block := &pem.Block{Type: pemType, Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
