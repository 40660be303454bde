package fal

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultJWKSURL publishes the keys fal signs webhook deliveries with.
const DefaultJWKSURL = "https://rest.alpha.fal.ai/.well-known/jwks.json"

const (
	jwksTTL = 24 * time.Hour
	// jwksMinRefresh bounds refetches triggered by signatures no cached key accepts.
	jwksMinRefresh = time.Minute
)

type jwkSet struct {
	Keys []struct {
		Kty string `json:"kty"`
		Crv string `json:"crv"`
		X   string `json:"x"`
	} `json:"keys"`
}

// jwksCache holds fal's ED25519 verification keys.
type jwksCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	keys      []ed25519.PublicKey
	fetchedAt time.Time
}

// get returns the cached keys, fetching them when the cache is empty or stale. With
// refresh set the set is refetched unless that happened within jwksMinRefresh.
func (c *jwksCache) get(ctx context.Context, refresh bool) ([]ed25519.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	age := c.now().Sub(c.fetchedAt)
	fresh := len(c.keys) > 0 && age < jwksTTL
	if fresh && (!refresh || age < jwksMinRefresh) {
		return c.keys, nil
	}
	keys, err := c.fetch(ctx)
	if err != nil {
		if len(c.keys) > 0 {
			return c.keys, nil
		}
		return nil, err
	}
	c.keys, c.fetchedAt = keys, c.now()
	return keys, nil
}

func (c *jwksCache) fetch(ctx context.Context) ([]ed25519.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("fal: build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal: fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fal: fetch jwks: status %d", resp.StatusCode)
	}
	var set jwkSet
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return nil, fmt.Errorf("fal: decode jwks: %w", err)
	}
	var keys []ed25519.PublicKey
	for _, k := range set.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(k.X, "="))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			continue
		}
		keys = append(keys, ed25519.PublicKey(raw))
	}
	if len(keys) == 0 {
		return nil, errors.New("fal: jwks has no ed25519 keys")
	}
	return keys, nil
}
