// jwks-server is a local development stand-in for an OIDC issuer. It serves
// the discovery document and a JWKS built from the public key that
// jwt-generate-keys wrote, so a rel-graphql server with OIDC auth enabled can
// verify tokens minted by jwt-mint without a real identity provider.
package main

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"
)

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type discovery struct {
	Issuer                 string   `json:"issuer"`
	JWKSURI                string   `json:"jwks_uri"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint"`
	TokenEndpoint          string   `json:"token_endpoint"`
	ResponseTypesSupported []string `json:"response_types_supported"`
	SubjectTypesSupported  []string `json:"subject_types_supported"`
	SigningAlgsSupported   []string `json:"id_token_signing_alg_values_supported"`
}

func main() {
	addr := flag.String("addr", "localhost:9000", "Listen address")
	issuer := flag.String("issuer", "http://localhost:9000", "Issuer URL advertised in the discovery document")
	keyPath := flag.String("key", ".auth/jwt_public.pem", "Path to RSA public key (PEM)")
	kid := flag.String("kid", "local-key", "Key ID advertised in the JWKS")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	publicKey, err := loadPublicKey(*keyPath)
	if err != nil {
		logger.Error("failed to load public key", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", serveJSON(discoveryDoc(*issuer)))
	mux.HandleFunc("/jwks.json", serveJSON(keySet(publicKey, *kid)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	fingerprint := sha256.Sum256(publicKey.N.Bytes())
	logger.Info("serving local OIDC issuer",
		slog.String("addr", *addr),
		slog.String("issuer", *issuer),
		slog.String("kid", *kid),
		slog.String("key_fingerprint", fmt.Sprintf("%x", fingerprint[:8])),
	)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func keySet(publicKey *rsa.PublicKey, kid string) jwks {
	return jwks{Keys: []jwk{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
	}}}
}

func discoveryDoc(issuer string) discovery {
	return discovery{
		Issuer:                 issuer,
		JWKSURI:                issuer + "/jwks.json",
		AuthorizationEndpoint:  issuer + "/authorize",
		TokenEndpoint:          issuer + "/token",
		ResponseTypesSupported: []string{"id_token"},
		SubjectTypesSupported:  []string{"public"},
		SigningAlgsSupported:   []string{"RS256"},
	}
}

func serveJSON(v interface{}) http.HandlerFunc {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(body)
	}
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s does not contain a PEM block", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s holds a %T, want an RSA public key", path, parsed)
	}
	return key, nil
}
