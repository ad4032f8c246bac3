package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"testing"
)

func TestKeySetRoundTrips(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	set := keySet(&key.PublicKey, "test-key")
	if len(set.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(set.Keys))
	}
	k := set.Keys[0]
	if k.Kty != "RSA" || k.Alg != "RS256" || k.Kid != "test-key" {
		t.Fatalf("key header wrong: %+v", k)
	}

	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		t.Fatalf("modulus is not base64url: %v", err)
	}
	if new(big.Int).SetBytes(n).Cmp(key.PublicKey.N) != 0 {
		t.Fatal("modulus does not round-trip")
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		t.Fatalf("exponent is not base64url: %v", err)
	}
	if int(new(big.Int).SetBytes(e).Int64()) != key.PublicKey.E {
		t.Fatal("exponent does not round-trip")
	}
}

func TestDiscoveryDoc(t *testing.T) {
	doc := discoveryDoc("http://localhost:9000")
	if doc.Issuer != "http://localhost:9000" {
		t.Fatalf("issuer = %q", doc.Issuer)
	}
	if doc.JWKSURI != "http://localhost:9000/jwks.json" {
		t.Fatalf("jwks_uri = %q", doc.JWKSURI)
	}
	if len(doc.SigningAlgsSupported) != 1 || doc.SigningAlgsSupported[0] != "RS256" {
		t.Fatalf("signing algs = %v", doc.SigningAlgsSupported)
	}
}

func TestServeJSON(t *testing.T) {
	handler := serveJSON(map[string]string{"hello": "world"})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/jwks.json", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var decoded map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if decoded["hello"] != "world" {
		t.Fatalf("body = %v", decoded)
	}
}
