package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOIDCAuthMiddleware_DisabledPassesThrough(t *testing.T) {
	mw, err := OIDCAuthMiddleware(OIDCAuthConfig{Enabled: false}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected middleware creation error: %v", err)
	}

	var called bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("disabled middleware should invoke the next handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestOIDCAuthMiddleware_RequiresIssuerAndAudience(t *testing.T) {
	if _, err := OIDCAuthMiddleware(OIDCAuthConfig{Enabled: true}, nil, nil); err == nil {
		t.Fatal("expected error when issuer and audience are unset")
	}
	if _, err := OIDCAuthMiddleware(OIDCAuthConfig{Enabled: true, IssuerURL: "https://issuer.example.com"}, nil, nil); err == nil {
		t.Fatal("expected error when audience is unset")
	}
}

func TestOIDCAuthMiddleware_RejectsNonHTTPSIssuer(t *testing.T) {
	cfg := OIDCAuthConfig{
		Enabled:   true,
		IssuerURL: "http://issuer.example.com",
		Audience:  "rel-graphql",
	}
	if _, err := OIDCAuthMiddleware(cfg, nil, nil); err == nil {
		t.Fatal("expected error for a plain http issuer")
	}
}

func TestOIDCAuthMiddleware_RejectsUnparsableIssuer(t *testing.T) {
	cfg := OIDCAuthConfig{
		Enabled:   true,
		IssuerURL: "://missing-scheme",
		Audience:  "rel-graphql",
	}
	if _, err := OIDCAuthMiddleware(cfg, nil, nil); err == nil {
		t.Fatal("expected error for an unparsable issuer url")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"lowercase scheme", "bearer abc.def.ghi", "abc.def.ghi"},
		{"surrounding whitespace trimmed", "Bearer   abc.def.ghi  ", "abc.def.ghi"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"no scheme", "abc.def.ghi", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bearerToken(tt.header); got != tt.want {
				t.Fatalf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestValidateTimeClaims(t *testing.T) {
	now := time.Now()
	skew := 2 * time.Minute

	tests := []struct {
		name    string
		claims  map[string]interface{}
		wantErr bool
	}{
		{"no time claims", map[string]interface{}{"sub": "alice"}, false},
		{"expired beyond skew", map[string]interface{}{"exp": float64(now.Add(-5 * time.Minute).Unix())}, true},
		{"expired within skew", map[string]interface{}{"exp": float64(now.Add(-30 * time.Second).Unix())}, false},
		{"not yet valid beyond skew", map[string]interface{}{"nbf": float64(now.Add(5 * time.Minute).Unix())}, true},
		{"not yet valid within skew", map[string]interface{}{"nbf": float64(now.Add(30 * time.Second).Unix())}, false},
		{"valid window", map[string]interface{}{
			"nbf": float64(now.Add(-time.Hour).Unix()),
			"exp": float64(now.Add(time.Hour).Unix()),
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTimeClaims(tt.claims, skew)
			if tt.wantErr && err == nil {
				t.Fatal("expected a time validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected time validation error: %v", err)
			}
		})
	}
}

func TestValidateTimeClaims_ZeroSkewSkipsChecks(t *testing.T) {
	claims := map[string]interface{}{"exp": float64(time.Now().Add(-time.Hour).Unix())}
	if err := validateTimeClaims(claims, 0); err != nil {
		t.Fatalf("zero skew should disable the recheck, got: %v", err)
	}
}

func TestNumericDate(t *testing.T) {
	want := time.Unix(1700000000, 0)

	tests := []struct {
		name  string
		value interface{}
		ok    bool
	}{
		{"float64", float64(1700000000), true},
		{"int64", int64(1700000000), true},
		{"int", int(1700000000), true},
		{"json.Number", json.Number("1700000000"), true},
		{"numeric string", "1700000000", true},
		{"bad string", "not-a-date", false},
		{"bad json.Number", json.Number("1.5e"), false},
		{"nil", nil, false},
		{"bool", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := numericDate(tt.value)
			if ok != tt.ok {
				t.Fatalf("numericDate(%v) ok = %v, want %v", tt.value, ok, tt.ok)
			}
			if ok && !got.Equal(want) {
				t.Fatalf("numericDate(%v) = %v, want %v", tt.value, got, want)
			}
		})
	}
}

func TestExtractAudience(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]interface{}
		want   []string
	}{
		{"string", map[string]interface{}{"aud": "rel-graphql"}, []string{"rel-graphql"}},
		{"string slice", map[string]interface{}{"aud": []string{"a", "b"}}, []string{"a", "b"}},
		{"interface slice", map[string]interface{}{"aud": []interface{}{"a", 42, "b"}}, []string{"a", "b"}},
		{"missing", map[string]interface{}{}, nil},
		{"wrong type", map[string]interface{}{"aud": 42}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractAudience(tt.claims)
			if len(got) != len(tt.want) {
				t.Fatalf("extractAudience = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("extractAudience[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWriteUnauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	writeUnauthorized(rec, "missing bearer token")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate = %q, want Bearer", got)
	}
	if got := rec.Body.String(); got != `{"error":"missing bearer token"}` {
		t.Fatalf("body = %q", got)
	}
}

func TestAuthContextRoundTrip(t *testing.T) {
	if _, ok := AuthFromContext(context.Background()); ok {
		t.Fatal("bare context should carry no auth")
	}

	auth := AuthContext{Subject: "alice", Issuer: "https://issuer.example.com", Audience: []string{"rel-graphql"}}
	ctx := WithAuthContext(context.Background(), auth)

	got, ok := AuthFromContext(ctx)
	if !ok {
		t.Fatal("expected auth context after WithAuthContext")
	}
	if got.Subject != "alice" || got.Issuer != "https://issuer.example.com" {
		t.Fatalf("unexpected auth context: %+v", got)
	}
}
