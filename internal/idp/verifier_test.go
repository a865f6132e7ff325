// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// fakeIssuer serves an OpenID discovery document and a JWKS endpoint whose
// published keys can be swapped mid-test to simulate rotation.
type fakeIssuer struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	keys     []jwk.Key
	cacheCtl string

	jwksDelay   time.Duration
	failJWKS    atomic.Int64
	omitJWKSURI bool
	jwksFetches atomic.Int64
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	f := &fakeIssuer{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", f.handleDiscovery)
	mux.HandleFunc("GET /jwks", f.handleJWKS)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIssuer) issuer() string       { return f.server.URL }
func (f *fakeIssuer) discoveryURL() string { return f.server.URL + "/.well-known/openid-configuration" }

func (f *fakeIssuer) setKeys(keys ...jwk.Key) {
	f.mu.Lock()
	f.keys = keys
	f.mu.Unlock()
}

func (f *fakeIssuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]string{"issuer": f.server.URL}
	if !f.omitJWKSURI {
		doc["jwks_uri"] = f.server.URL + "/jwks"
	}
	_ = json.NewEncoder(w).Encode(doc)
}

func (f *fakeIssuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	f.jwksFetches.Add(1)
	if f.failJWKS.Add(-1) >= 0 {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if f.jwksDelay > 0 {
		time.Sleep(f.jwksDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cacheCtl != "" {
		w.Header().Set("Cache-Control", f.cacheCtl)
	}
	set := jwk.NewSet()
	for _, k := range f.keys {
		_ = set.AddKey(k)
	}
	_ = json.NewEncoder(w).Encode(set)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return priv
}

func newECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating EC key: %v", err)
	}
	return priv
}

func publicJWK(t *testing.T, kid string, pub any, alg jwa.SignatureAlgorithm) jwk.Key {
	t.Helper()
	key, err := jwk.FromRaw(pub)
	if err != nil {
		t.Fatalf("building JWK: %v", err)
	}
	if kid != "" {
		if err := key.Set(jwk.KeyIDKey, kid); err != nil {
			t.Fatalf("setting kid: %v", err)
		}
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		t.Fatalf("setting use: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
		t.Fatalf("setting alg: %v", err)
	}
	return key
}

func signToken(t *testing.T, method jwt.SigningMethod, priv any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func issuerClaims(iss string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": iss,
		"sub": "david",
		"azp": "local_bentov2",
		"aud": "account",
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
}

func setupVerifier(t *testing.T, f *fakeIssuer) *Verifier {
	t.Helper()
	cache := NewKeyCache(nil, 0, testLogger())
	v, err := NewVerifier(Config{
		DiscoveryURL: f.discoveryURL(),
		Audiences:    []string{"account"},
	}, cache, testLogger())
	if err != nil {
		t.Fatalf("building verifier: %v", err)
	}
	return v
}

func TestVerifier_ValidRS256Token(t *testing.T) {
	f := newFakeIssuer(t)
	priv := newRSAKey(t)
	f.setKeys(publicJWK(t, "k1", &priv.PublicKey, jwa.RS256))
	v := setupVerifier(t, f)

	claims, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "k1", issuerClaims(f.issuer())))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims["sub"] != "david" || claims["azp"] != "local_bentov2" {
		t.Errorf("unexpected claims: %v", claims)
	}
	if got := f.jwksFetches.Load(); got != 1 {
		t.Errorf("expected 1 JWKS fetch, got %d", got)
	}
}

func TestVerifier_ValidES256Token(t *testing.T) {
	f := newFakeIssuer(t)
	priv := newECKey(t)
	f.setKeys(publicJWK(t, "ec1", &priv.PublicKey, jwa.ES256))
	v := setupVerifier(t, f)

	claims, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodES256, priv, "ec1", issuerClaims(f.issuer())))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims["sub"] != "david" {
		t.Errorf("unexpected claims: %v", claims)
	}
}

func TestVerifier_ExpiryAndLeeway(t *testing.T) {
	f := newFakeIssuer(t)
	priv := newRSAKey(t)
	f.setKeys(publicJWK(t, "k1", &priv.PublicKey, jwa.RS256))
	v := setupVerifier(t, f)

	// Expired well past the 30 s leeway.
	stale := issuerClaims(f.issuer())
	stale["exp"] = time.Now().Add(-2 * time.Minute).Unix()
	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "k1", stale)); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for expired token, got %v", err)
	}

	// Expired 10 s ago: inside the leeway window, still acceptable.
	fresh := issuerClaims(f.issuer())
	fresh["exp"] = time.Now().Add(-10 * time.Second).Unix()
	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "k1", fresh)); err != nil {
		t.Errorf("token inside leeway must verify, got %v", err)
	}
}

func TestVerifier_Audience(t *testing.T) {
	f := newFakeIssuer(t)
	priv := newRSAKey(t)
	f.setKeys(publicJWK(t, "k1", &priv.PublicKey, jwa.RS256))
	v := setupVerifier(t, f)

	wrong := issuerClaims(f.issuer())
	wrong["aud"] = "someone-else"
	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "k1", wrong)); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for wrong audience, got %v", err)
	}

	multi := issuerClaims(f.issuer())
	multi["aud"] = []string{"someone-else", "account"}
	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "k1", multi)); err != nil {
		t.Errorf("audience list containing a configured value must verify, got %v", err)
	}
}

func TestVerifier_RejectsWrongIssuer(t *testing.T) {
	f := newFakeIssuer(t)
	priv := newRSAKey(t)
	f.setKeys(publicJWK(t, "k1", &priv.PublicKey, jwa.RS256))
	v := setupVerifier(t, f)

	claims := issuerClaims("https://untrusted.example.org/realms/other")
	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "k1", claims)); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for foreign issuer, got %v", err)
	}
}

func TestVerifier_RejectsSymmetricAlgorithm(t *testing.T) {
	f := newFakeIssuer(t)
	priv := newRSAKey(t)
	f.setKeys(publicJWK(t, "k1", &priv.PublicKey, jwa.RS256))
	v := setupVerifier(t, f)

	token := signToken(t, jwt.SigningMethodHS256, []byte("shared-secret"), "k1", issuerClaims(f.issuer()))
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for HS256, got %v", err)
	}
	// The allow-list check happens before any outbound fetch.
	if got := f.jwksFetches.Load(); got != 0 {
		t.Errorf("HS256 token must be rejected without fetching JWKS, got %d fetches", got)
	}
}

func TestVerifier_KeyRotation(t *testing.T) {
	f := newFakeIssuer(t)
	k1 := newRSAKey(t)
	f.setKeys(publicJWK(t, "k1", &k1.PublicKey, jwa.RS256))
	v := setupVerifier(t, f)

	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, k1, "k1", issuerClaims(f.issuer()))); err != nil {
		t.Fatalf("verify with k1 failed: %v", err)
	}
	if got := f.jwksFetches.Load(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}

	// Issuer rotates to k2 inside the cache TTL. The unknown kid triggers
	// exactly one forced refresh and the retry succeeds.
	k2 := newRSAKey(t)
	f.setKeys(publicJWK(t, "k2", &k2.PublicKey, jwa.RS256))

	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, k2, "k2", issuerClaims(f.issuer()))); err != nil {
		t.Fatalf("verify after rotation failed: %v", err)
	}
	if got := f.jwksFetches.Load(); got != 2 {
		t.Fatalf("rotation must cost exactly one refresh, got %d fetches", got)
	}

	// A token signed by a key the issuer never publishes fails after at
	// most one additional refresh.
	k3 := newRSAKey(t)
	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, k3, "k3", issuerClaims(f.issuer()))); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for unpublished key, got %v", err)
	}
	if got := f.jwksFetches.Load(); got != 3 {
		t.Errorf("unverifiable token must cost at most one refresh, got %d fetches", got)
	}
}

func TestVerifier_RekeyedKidRefreshes(t *testing.T) {
	f := newFakeIssuer(t)
	oldKey := newRSAKey(t)
	f.setKeys(publicJWK(t, "k1", &oldKey.PublicKey, jwa.RS256))
	v := setupVerifier(t, f)

	// Prime the cache with the old key material.
	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, oldKey, "k1", issuerClaims(f.issuer()))); err != nil {
		t.Fatalf("prime verify failed: %v", err)
	}

	// Same kid, new key material: the cached key fails the signature,
	// the forced refresh picks up the replacement.
	newKey := newRSAKey(t)
	f.setKeys(publicJWK(t, "k1", &newKey.PublicKey, jwa.RS256))

	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, newKey, "k1", issuerClaims(f.issuer()))); err != nil {
		t.Fatalf("verify after re-key failed: %v", err)
	}
	if got := f.jwksFetches.Load(); got != 2 {
		t.Errorf("re-key must cost exactly one refresh, got %d fetches", got)
	}
}

func TestVerifier_MissingKid(t *testing.T) {
	f := newFakeIssuer(t)
	priv := newRSAKey(t)
	f.setKeys(publicJWK(t, "k1", &priv.PublicKey, jwa.RS256))
	v := setupVerifier(t, f)

	// No kid, exactly one published key: acceptable.
	if _, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "", issuerClaims(f.issuer()))); err != nil {
		t.Errorf("kid-less token with a single key must verify, got %v", err)
	}

	// No kid, two published keys: ambiguous, rejected.
	other := newRSAKey(t)
	f2 := newFakeIssuer(t)
	f2.setKeys(
		publicJWK(t, "a", &priv.PublicKey, jwa.RS256),
		publicJWK(t, "b", &other.PublicKey, jwa.RS256),
	)
	v2 := setupVerifier(t, f2)
	if _, err := v2.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "", issuerClaims(f2.issuer()))); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("kid-less token with multiple keys must fail, got %v", err)
	}
}

func TestVerifier_IssuerUnreachable(t *testing.T) {
	f := newFakeIssuer(t)
	v := setupVerifier(t, f)
	f.server.Close()

	priv := newRSAKey(t)
	_, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "k1", issuerClaims(f.issuer())))
	if !errors.Is(err, ErrIssuerUnreachable) {
		t.Errorf("expected ErrIssuerUnreachable, got %v", err)
	}
}

func TestVerifier_EmptyToken(t *testing.T) {
	f := newFakeIssuer(t)
	v := setupVerifier(t, f)
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("expected ErrTokenMissing, got %v", err)
	}
}

func TestInsecureVerifier(t *testing.T) {
	v := NewInsecureVerifier(testLogger())

	priv := newRSAKey(t)
	claims, err := v.Verify(context.Background(),
		signToken(t, jwt.SigningMethodRS256, priv, "whatever", issuerClaims("https://bentov2auth.local/realms/bentov2")))
	if err != nil {
		t.Fatalf("insecure verify failed: %v", err)
	}
	if claims["sub"] != "david" {
		t.Errorf("unexpected claims: %v", claims)
	}

	if _, err := v.Verify(context.Background(), "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for garbage, got %v", err)
	}
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("expected ErrTokenMissing, got %v", err)
	}
}
