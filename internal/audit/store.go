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

// Package audit provides a Postgres-backed record of terminal send
// outcomes, keyed by correlation id, for hosts that need a durable trail
// beyond structured logs.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcome is one terminal send result.
type Outcome struct {
	CorrelationID string
	Sender        string
	DraftID       string
	Succeeded     bool
	ErrorSummary  string
	AttemptedAt   time.Time
}

// Record is a persisted Outcome.
type Record struct {
	ID int64
	Outcome
	CreatedAt time.Time
}

// Store records (upserts) and reads send-outcome records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an audit store backed by the given Postgres pool. It
// ensures the send_outcomes table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	slog.Info("audit store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS send_outcomes (
			id             BIGSERIAL PRIMARY KEY,
			correlation_id TEXT NOT NULL UNIQUE,
			sender         TEXT NOT NULL,
			draft_id       TEXT DEFAULT '',
			succeeded      BOOLEAN NOT NULL,
			error_summary  TEXT DEFAULT '',
			attempted_at   TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_send_outcomes_sender ON send_outcomes(sender);
		CREATE INDEX IF NOT EXISTS idx_send_outcomes_succeeded ON send_outcomes(succeeded);
	`)
	return err
}

// Record persists one terminal send outcome, replacing any prior record
// for the same correlation id (a host that reused a correlation id after
// a genuine retry gets the latest outcome, not a duplicate row).
func (s *Store) Record(ctx context.Context, o Outcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO send_outcomes
			(correlation_id, sender, draft_id, succeeded, error_summary, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (correlation_id) DO UPDATE SET
			draft_id      = EXCLUDED.draft_id,
			succeeded     = EXCLUDED.succeeded,
			error_summary = EXCLUDED.error_summary,
			attempted_at  = EXCLUDED.attempted_at
	`, o.CorrelationID, o.Sender, o.DraftID, o.Succeeded, o.ErrorSummary, o.AttemptedAt)
	return err
}

// Get retrieves the outcome for one correlation id, or nil if none was
// recorded.
func (s *Store) Get(ctx context.Context, correlationID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, correlation_id, sender, draft_id, succeeded, error_summary, attempted_at, created_at
		FROM send_outcomes
		WHERE correlation_id = $1
	`, correlationID)

	var r Record
	err := row.Scan(&r.ID, &r.CorrelationID, &r.Sender, &r.DraftID, &r.Succeeded, &r.ErrorSummary, &r.AttemptedAt, &r.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
