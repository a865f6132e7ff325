// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package idp verifies bearer tokens against an OpenID Connect issuer:
// discovery document resolution, JWKS caching with rotation handling, and
// JWT signature plus claim validation.
package idp

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway is the clock-skew tolerance for time-based claims.
const DefaultLeeway = 30 * time.Second

// defaultAlgorithms is the signature algorithm allow-list. The HMAC family
// is never acceptable for tokens verified against a public key set.
var defaultAlgorithms = []string{"RS256", "ES256"}

// TokenVerifier turns a bearer token into a validated claim set.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (map[string]any, error)
}

// Config holds verifier settings.
type Config struct {
	// DiscoveryURL is the issuer's OpenID configuration endpoint.
	DiscoveryURL string

	// Audiences lists acceptable aud values; a token must carry at least
	// one of them. Empty disables the audience check.
	Audiences []string

	// Algorithms is the signature algorithm allow-list.
	// Default: RS256 and ES256.
	Algorithms []string

	// Leeway is the clock-skew tolerance for exp/nbf/iat. Default 30 s.
	Leeway time.Duration
}

func (c *Config) setDefaults() {
	if len(c.Algorithms) == 0 {
		c.Algorithms = defaultAlgorithms
	}
	if c.Leeway == 0 {
		c.Leeway = DefaultLeeway
	}
}

func (c *Config) validate() error {
	if c.DiscoveryURL == "" {
		return errors.New("discovery URL is required")
	}
	for _, alg := range c.Algorithms {
		if strings.HasPrefix(alg, "HS") {
			return fmt.Errorf("algorithm %s is symmetric and cannot verify issuer tokens", alg)
		}
	}
	return nil
}

// Verifier validates token signatures against the issuer's published keys
// and enforces iss, aud and time-based claims.
type Verifier struct {
	config Config
	keys   *KeyCache
	logger *slog.Logger
}

var _ TokenVerifier = (*Verifier)(nil)

// NewVerifier wires a verifier to a key cache.
func NewVerifier(config Config, keys *KeyCache, logger *slog.Logger) (*Verifier, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("verifier configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{config: config, keys: keys, logger: logger}, nil
}

// Verify validates the raw token end to end. A signature failure or an
// unknown kid triggers exactly one forced key refresh before the token is
// rejected, which covers issuer key rotation inside the cache TTL.
func (v *Verifier) Verify(ctx context.Context, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}

	alg, err := peekAlg(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !slices.Contains(v.config.Algorithms, alg) {
		return nil, fmt.Errorf("%w: algorithm %q not allowed", ErrTokenInvalid, alg)
	}

	set, err := v.keys.Keys(ctx, v.config.DiscoveryURL)
	if err != nil {
		return nil, err
	}

	claims, verr := v.verifyAgainst(set, raw)
	if verr == nil {
		return claims, nil
	}

	if refreshable(verr) {
		set, err = v.keys.Refresh(ctx, v.config.DiscoveryURL)
		if err != nil {
			v.logger.Warn("key refresh after verification failure failed", "error", err)
		} else if retried, retryErr := v.verifyAgainst(set, raw); retryErr == nil {
			return retried, nil
		} else {
			verr = retryErr
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, verr)
}

// refreshable reports whether a failure could be explained by a rotated key
// set: the kid is gone, or a known key no longer validates the signature.
func refreshable(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, jwt.ErrTokenSignatureInvalid)
}

func (v *Verifier) verifyAgainst(set *KeySet, raw string) (map[string]any, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.config.Algorithms),
		jwt.WithLeeway(v.config.Leeway),
		jwt.WithIssuer(set.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, v.keyfunc(set)); err != nil {
		return nil, err
	}
	if err := v.checkAudience(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) keyfunc(set *KeySet) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			sk, ok := set.single()
			if !ok {
				return nil, fmt.Errorf("%w: token has no kid and issuer publishes %d keys", ErrKeyNotFound, set.len())
			}
			return keyForAlg(sk, t.Method.Alg())
		}
		sk, ok := set.lookup(kid)
		if !ok {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}
		return keyForAlg(sk, t.Method.Alg())
	}
}

// keyForAlg rejects keys pinned to a different algorithm than the token
// declares, and keys whose material does not fit the algorithm family.
func keyForAlg(sk signingKey, alg string) (crypto.PublicKey, error) {
	if sk.Alg != "" && sk.Alg != alg {
		return nil, fmt.Errorf("%w: key %q is pinned to %s, token uses %s", ErrKeyNotFound, sk.KID, sk.Alg, alg)
	}
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		if _, ok := sk.Key.(*rsa.PublicKey); !ok {
			return nil, fmt.Errorf("%w: key %q is not an RSA key", ErrKeyNotFound, sk.KID)
		}
	case strings.HasPrefix(alg, "ES"):
		if _, ok := sk.Key.(*ecdsa.PublicKey); !ok {
			return nil, fmt.Errorf("%w: key %q is not an EC key", ErrKeyNotFound, sk.KID)
		}
	}
	return sk.Key, nil
}

func (v *Verifier) checkAudience(claims jwt.MapClaims) error {
	if len(v.config.Audiences) == 0 {
		return nil
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return fmt.Errorf("reading audience claim: %w", err)
	}
	for _, a := range aud {
		if slices.Contains(v.config.Audiences, a) {
			return nil
		}
	}
	return fmt.Errorf("audience %v does not include any of %v", []string(aud), v.config.Audiences)
}

// peekAlg decodes the unverified token header for its declared algorithm.
func peekAlg(raw string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return "", err
	}
	alg, _ := token.Header["alg"].(string)
	if alg == "" {
		return "", errors.New("token missing alg header")
	}
	return alg, nil
}

// InsecureVerifier decodes tokens without verifying signatures or claims.
// It exists for local development against unreachable or self-signed
// issuers and must never run in production.
type InsecureVerifier struct {
	logger *slog.Logger
}

var _ TokenVerifier = (*InsecureVerifier)(nil)

// NewInsecureVerifier builds the pass-through verifier and logs loudly so
// a misconfigured deployment is visible at startup.
func NewInsecureVerifier(logger *slog.Logger) *InsecureVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("token verification is DISABLED; bearer token claims are trusted without signature checks")
	return &InsecureVerifier{logger: logger}
}

// Verify decodes the token's claims without any validation.
func (v *InsecureVerifier) Verify(_ context.Context, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}
