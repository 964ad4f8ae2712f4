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

package token

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// newTestProvider builds a Provider pointed at a local token endpoint,
// counting how many times the endpoint was actually hit.
func newTestProvider(t *testing.T, expiresIn int, status int) (*Provider, *int32) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"Bearer","expires_in":%d}`, hits, expiresIn)
	}))
	t.Cleanup(server.Close)

	p := &Provider{
		creds: &clientcredentials.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			TokenURL:     server.URL,
		},
	}
	return p, &hits
}

func TestProvider_CachesValidToken(t *testing.T) {
	p, hits := newTestProvider(t, 3600, http.StatusOK)

	tok1, err := p.GetToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok2, err := p.GetToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok1 != tok2 {
		t.Errorf("expected cached token to be reused, got %q then %q", tok1, tok2)
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("token endpoint hit %d times, want 1", got)
	}
}

func TestProvider_RefreshesWithinSafetyBuffer(t *testing.T) {
	// expires_in=10s is within the 30s safety buffer, so every call must
	// trigger a fresh refresh.
	p, hits := newTestProvider(t, 10, http.StatusOK)

	if _, err := p.GetToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.GetToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 2 {
		t.Errorf("token endpoint hit %d times, want 2 (safety buffer should force refresh)", got)
	}
}

func TestProvider_NeverReturnsTokenWithinSafetyBuffer(t *testing.T) {
	p, _ := newTestProvider(t, 3600, http.StatusOK)

	_, err := p.GetToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p.mu.Lock()
	expiry := p.cache.expiry
	p.mu.Unlock()

	if time.Until(expiry) < SafetyBuffer {
		t.Errorf("cached token expiry %v is within the safety buffer", expiry)
	}
}

func TestProvider_RefreshFailureLeavesCacheUnchanged(t *testing.T) {
	p, _ := newTestProvider(t, 3600, http.StatusOK)

	if _, err := p.GetToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p.mu.Lock()
	before := p.cache
	p.mu.Unlock()

	// Break the endpoint and force a refresh by expiring the cache.
	p.mu.Lock()
	p.cache.expiry = time.Now()
	p.mu.Unlock()
	p.creds.TokenURL = "http://127.0.0.1:0/unreachable"

	if _, err := p.GetToken(context.Background()); err == nil {
		t.Fatal("expected an error from the broken token endpoint")
	}

	p.mu.Lock()
	after := p.cache
	p.mu.Unlock()

	if after != before {
		t.Errorf("cache changed after a failed refresh: before=%+v after=%+v", before, after)
	}
}

func TestProvider_SingleFlightsConcurrentRefresh(t *testing.T) {
	p, hits := newTestProvider(t, 3600, http.StatusOK)

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.GetToken(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("token endpoint hit %d times concurrently, want exactly 1", got)
	}
}
