// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/httpcc"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

// DefaultKeyTTL is how long a fetched key set stays fresh when the JWKS
// response carries no Cache-Control max-age directive.
const DefaultKeyTTL = 10 * time.Minute

const (
	connectTimeout = 5 * time.Second
	requestTimeout = 10 * time.Second
	fetchRetries   = 2
)

var fetchBackoff = [fetchRetries]time.Duration{200 * time.Millisecond, 800 * time.Millisecond}

// Document is the subset of an OpenID provider's discovery metadata the
// service consumes.
type Document struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// signingKey is one usable verification key from an issuer's JWKS.
type signingKey struct {
	KID string
	Alg string // empty when the JWK does not pin an algorithm
	Key crypto.PublicKey
}

// KeySet is an immutable snapshot of one issuer's signing keys plus the
// issuer identifier from its discovery document.
type KeySet struct {
	Issuer string
	keys   map[string]signingKey
}

func (s *KeySet) lookup(kid string) (signingKey, bool) {
	k, ok := s.keys[kid]
	return k, ok
}

// single returns the set's only key when it has exactly one.
func (s *KeySet) single() (signingKey, bool) {
	if len(s.keys) != 1 {
		return signingKey{}, false
	}
	for _, k := range s.keys {
		return k, true
	}
	return signingKey{}, false
}

func (s *KeySet) len() int { return len(s.keys) }

type cacheEntry struct {
	set       *KeySet
	fetchedAt time.Time
	ttl       time.Duration
}

func (e *cacheEntry) fresh(now time.Time) bool {
	return now.Sub(e.fetchedAt) < e.ttl
}

// KeyCache caches issuer signing keys, one entry per discovery URL. Lookups
// hit the cache until the entry's TTL lapses; concurrent fetches for the
// same issuer coalesce into a single outbound request.
type KeyCache struct {
	client *http.Client
	ttl    time.Duration
	logger *slog.Logger

	// OnFetch, when set before first use, observes the outcome of every
	// outbound key fetch. The server wires it to a metrics counter.
	OnFetch func(err error)

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	group singleflight.Group
	now   func() time.Time
}

// NewKeyCache builds a key cache. A nil client gets one with a 5 s connect
// and 10 s total timeout; a non-positive ttl gets DefaultKeyTTL.
func NewKeyCache(client *http.Client, ttl time.Duration, logger *slog.Logger) *KeyCache {
	if client == nil {
		client = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		}
	}
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyCache{
		client:  client,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// Keys returns the issuer's signing keys, fetching through the discovery
// document when the cached entry is missing or stale.
func (c *KeyCache) Keys(ctx context.Context, discoveryURL string) (*KeySet, error) {
	c.mu.RLock()
	e := c.entries[discoveryURL]
	c.mu.RUnlock()
	if e != nil && e.fresh(c.now()) {
		return e.set, nil
	}
	return c.fetch(ctx, discoveryURL)
}

// Refresh bypasses the TTL and fetches a new key set. Callers use it after
// a verification failure that suggests the issuer rotated its keys.
func (c *KeyCache) Refresh(ctx context.Context, discoveryURL string) (*KeySet, error) {
	return c.fetch(ctx, discoveryURL)
}

// fetch coalesces concurrent callers onto one outbound fetch per issuer.
// The shared fetch does not inherit any caller's context: cancelling one
// waiting request must not fail the fetch for the others.
func (c *KeyCache) fetch(ctx context.Context, discoveryURL string) (*KeySet, error) {
	ch := c.group.DoChan(discoveryURL, func() (any, error) {
		e, err := c.fetchEntry(discoveryURL)
		if c.OnFetch != nil {
			c.OnFetch(err)
		}
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[discoveryURL] = e
		c.mu.Unlock()
		return e.set, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}

func (c *KeyCache) fetchEntry(discoveryURL string) (*cacheEntry, error) {
	var doc Document
	if err := c.getJSON(discoveryURL, &doc); err != nil {
		return nil, fmt.Errorf("%w: fetching discovery document: %v", ErrIssuerUnreachable, err)
	}
	if doc.Issuer == "" || doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w: discovery document at %s lacks issuer or jwks_uri", ErrIssuerUnreachable, discoveryURL)
	}

	body, header, err := c.getRaw(doc.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching JWKS: %v", ErrIssuerUnreachable, err)
	}

	keys, err := parseKeys(body, c.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuerUnreachable, err)
	}

	ttl := c.ttl
	if maxAge, ok := responseMaxAge(header); ok && maxAge > 0 {
		ttl = maxAge
	}

	c.logger.Debug("fetched issuer keys", "issuer", doc.Issuer, "key_count", len(keys), "ttl", ttl)

	return &cacheEntry{
		set:       &KeySet{Issuer: doc.Issuer, keys: keys},
		fetchedAt: c.now(),
		ttl:       ttl,
	}, nil
}

// getRaw fetches a URL with bounded retries, returning body and headers.
func (c *KeyCache) getRaw(url string) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		body, header, err := c.doGet(url)
		if err == nil {
			return body, header, nil
		}
		lastErr = err
		if attempt >= fetchRetries {
			break
		}
		time.Sleep(fetchBackoff[attempt])
	}
	return nil, nil, lastErr
}

func (c *KeyCache) doGet(url string) ([]byte, http.Header, error) {
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

func (c *KeyCache) getJSON(url string, v any) error {
	body, _, err := c.getRaw(url)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// parseKeys extracts usable verification keys from a JWKS document: keys
// with a kid, a use of "sig" or unset, and RSA or EC material. Symmetric
// keys in the set are never usable for bearer-token verification.
func parseKeys(body []byte, logger *slog.Logger) (map[string]signingKey, error) {
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing JWKS: %v", err)
	}

	keys := make(map[string]signingKey)
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if use := key.KeyUsage(); use != "" && use != "sig" {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			continue
		}

		var raw any
		if err := key.Raw(&raw); err != nil {
			logger.Warn("skipping unparseable JWK", "kid", kid, "error", err)
			continue
		}
		switch raw.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
		default:
			continue
		}

		var alg string
		if a := key.Algorithm(); a != nil {
			alg = a.String()
		}
		keys[kid] = signingKey{KID: kid, Alg: alg, Key: raw}
	}

	if len(keys) == 0 {
		return nil, errors.New("no usable signing keys in JWKS")
	}
	return keys, nil
}

// responseMaxAge extracts a Cache-Control max-age from a JWKS response.
func responseMaxAge(header http.Header) (time.Duration, bool) {
	cc := header.Get("Cache-Control")
	if cc == "" {
		return 0, false
	}
	dir, err := httpcc.ParseResponse(cc)
	if err != nil {
		return 0, false
	}
	maxAge, ok := dir.MaxAge()
	if !ok {
		return 0, false
	}
	return time.Duration(maxAge) * time.Second, true
}
