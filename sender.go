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

package mailgateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bcem/mailgateway/internal/audit"
	"github.com/bcem/mailgateway/internal/retry"
	"github.com/bcem/mailgateway/internal/token"
	"github.com/bcem/mailgateway/internal/upload"
)

const defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// IdempotencyGuard is the capability SendEmail needs from a dedupe guard;
// *dedupe.Guard satisfies it. Narrowing WithDedupeGuard to this interface
// (rather than the concrete Redis-backed type) lets a test double stand in
// without a live Redis instance.
type IdempotencyGuard interface {
	Claim(ctx context.Context, correlationID string) (bool, error)
}

// OutcomeRecorder is the capability SendEmail needs from an audit store;
// *audit.Store satisfies it.
type OutcomeRecorder interface {
	Record(ctx context.Context, outcome audit.Outcome) error
}

// Sender is the core library entry point: one Sender is built per
// AuthConfig (tenant + application + mailbox) and is safe for concurrent
// use across sends. Its only shared mutable state is the token cache
// inside its token.Provider, guarded by that provider's own mutex (spec
// §5: "token refresh is the only shared mutation point").
type Sender struct {
	auth AuthConfig

	client     *http.Client
	ownsClient bool

	tokens    *token.Provider
	retryExec *retry.Executor
	uploads   *upload.Engine

	logger *slog.Logger

	graphBaseURL string

	auditStore  OutcomeRecorder
	dedupeGuard IdempotencyGuard
}

// Option configures a Sender at construction. Options are applied in
// order; a later option overrides an earlier one that touches the same
// field.
type Option func(*Sender)

// WithHTTPClient injects an HTTP client the Sender never closes. Use this
// when the host already owns a client's lifecycle (connection pooling,
// proxying, mutual TLS).
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		s.client = client
		s.ownsClient = false
	}
}

// WithHTTPClientFactory builds a dedicated client the Sender owns and
// closes on Close. Use this to customize transport settings (timeouts,
// proxies) without taking on lifecycle responsibility for a shared client.
func WithHTTPClientFactory(factory func() *http.Client) Option {
	return func(s *Sender) {
		s.client = factory()
		s.ownsClient = true
	}
}

// WithLogger sets the structured logger used for every log event the
// Sender emits. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sender) {
		s.logger = logger
	}
}

// WithAuditStore attaches a Postgres-backed record of terminal send
// outcomes (supplemented, optional). Without one, send outcomes are only
// logged.
func WithAuditStore(store OutcomeRecorder) Option {
	return func(s *Sender) {
		s.auditStore = store
	}
}

// WithDedupeGuard attaches a Redis-backed idempotency guard keyed by
// correlation id (supplemented, optional). Without one, SendEmail never
// refuses a send on the grounds of having seen its correlation id before.
func WithDedupeGuard(guard IdempotencyGuard) Option {
	return func(s *Sender) {
		s.dedupeGuard = guard
	}
}

// WithGraphBaseURL overrides the Graph API base URL, e.g. to point at a
// test double or a sovereign cloud endpoint.
func WithGraphBaseURL(base string) Option {
	return func(s *Sender) {
		s.graphBaseURL = base
	}
}

// New builds a Sender for one tenant/application/mailbox identity. With no
// options, it owns a default *http.Client (90s timeout) that Close will
// shut down.
func New(cfg AuthConfig, opts ...Option) (*Sender, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, argErr("AuthConfig", "tenant id, client id, and client secret are required")
	}

	s := &Sender{
		auth:         cfg,
		graphBaseURL: defaultGraphBaseURL,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = &http.Client{Timeout: 90 * time.Second}
		s.ownsClient = true
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.tokens = token.New(cfg.TenantID, cfg.ClientID, cfg.ClientSecret)
	s.retryExec = retry.New(s.client, s.logger)
	s.uploads = upload.New(s.client, s.retryExec, s.tokens, s.logger, s.graphBaseURL)

	return s, nil
}

// Close releases resources the Sender owns. It never disposes an
// HTTP client supplied via WithHTTPClient (spec §6: "never disposes an
// injected client"); a client built via WithHTTPClientFactory, or the
// Sender's own default client, has its idle connections closed.
func (s *Sender) Close() error {
	if s.ownsClient {
		s.client.CloseIdleConnections()
	}
	return nil
}
