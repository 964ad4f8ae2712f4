// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token implements the credential/token provider (spec §4.1): an
// OAuth2 client-credentials identity that caches at most one access token
// and single-flights concurrent refreshes.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// SafetyBuffer is the margin spec §3 requires: a cached token is usable
// only if now+SafetyBuffer < expiry.
const SafetyBuffer = 30 * time.Second

const tokenEndpointTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// graphDefaultScope is the only scope the mail backend's application-only
// identity needs.
const graphDefaultScope = "https://graph.microsoft.com/.default"

// cachedToken is the AccessToken artifact from spec §3.
type cachedToken struct {
	bearer string
	expiry time.Time
}

func (t *cachedToken) usable(now time.Time) bool {
	return t != nil && now.Add(SafetyBuffer).Before(t.expiry)
}

// Provider caches one access token per Sender instance and serializes
// concurrent refreshes through a single-flight group — the teacher's
// clientcredentials.Config construction (cmd/server/main.go) supplies the
// OAuth2 mechanics; the cache/safety-buffer/single-flight contract on top
// of it is the part spec §4.1 actually specifies.
type Provider struct {
	creds *clientcredentials.Config

	mu    sync.Mutex
	cache *cachedToken
	group singleflight.Group
}

// New builds a token provider for one tenant/application pair, scoped to
// the mail backend's ".default" scope.
func New(tenantID, clientID, clientSecret string) *Provider {
	return NewWithConfig(&clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf(tokenEndpointTemplate, tenantID),
		Scopes:       []string{graphDefaultScope},
	})
}

// NewWithConfig builds a token provider around a caller-supplied OAuth2
// client-credentials config, for callers that need a non-default token
// endpoint, scope set, or HTTP client (e.g. pointing at a test double).
func NewWithConfig(cfg *clientcredentials.Config) *Provider {
	return &Provider{creds: cfg}
}

// GetToken returns a bearer token whose expiry is more than SafetyBuffer in
// the future. A valid cached token is returned without blocking; otherwise
// exactly one concurrent caller performs the refresh and every waiter
// receives its result (spec §4.1: "exactly one concurrent call performs the
// refresh... On refresh failure the cache is left unchanged").
func (p *Provider) GetToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.cache.usable(time.Now()) {
		bearer := p.cache.bearer
		p.mu.Unlock()
		return bearer, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("refresh", func() (interface{}, error) {
		return p.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Provider) refresh(ctx context.Context) (string, error) {
	// Re-check under the single-flight key: another goroutine may have
	// refreshed while we were waiting to enter Do.
	p.mu.Lock()
	if p.cache.usable(time.Now()) {
		bearer := p.cache.bearer
		p.mu.Unlock()
		return bearer, nil
	}
	p.mu.Unlock()

	tok, err := p.creds.Token(ctx)
	if err != nil {
		// Authentication failures are not retried at this layer; they
		// propagate to the caller unchanged (spec §4.1).
		return "", fmt.Errorf("acquire token: %w", err)
	}

	p.mu.Lock()
	p.cache = &cachedToken{bearer: tok.AccessToken, expiry: tok.Expiry}
	p.mu.Unlock()

	return tok.AccessToken, nil
}
