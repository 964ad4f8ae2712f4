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

// Package dedupe provides send idempotency using a Redis SET with TTL,
// keyed by the caller-supplied (or generated) correlation id, so a send
// retried by the host after a network partition does not double-send.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a correlation id is remembered. A send is
	// expected to complete well inside this window; it only needs to
	// outlive plausible host-side retry delays.
	DefaultTTL = 1 * time.Hour

	keyPrefix = "mailgateway:sent:"
)

// Guard tracks which correlation ids have already been claimed by a send.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGuard creates a dedupe guard backed by Redis.
func NewGuard(rdb *redis.Client) *Guard {
	return &Guard{rdb: rdb, ttl: DefaultTTL}
}

// Claim marks correlationID as being sent, returning true if this call
// claimed it (first time seen) and false if another send already claimed
// it within the TTL window.
func (g *Guard) Claim(ctx context.Context, correlationID string) (bool, error) {
	key := keyPrefix + correlationID
	claimed, err := g.rdb.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe SETNX: %w", err)
	}
	return claimed, nil
}

// Release clears a claim, making the correlation id available again. The
// Sender never calls it: IdempotencyGuard requires only Claim.
func (g *Guard) Release(ctx context.Context, correlationID string) error {
	if err := g.rdb.Del(ctx, keyPrefix+correlationID).Err(); err != nil {
		return fmt.Errorf("dedupe DEL: %w", err)
	}
	return nil
}
