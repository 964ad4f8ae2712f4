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

// Package retry implements the retry executor (spec §4.2): wraps one HTTP
// send attempt with a policy that classifies outcomes as retriable or
// fatal and schedules re-attempts on a decorrelated-jitter backoff
// schedule, pre-generated once at construction.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxAttempts is the total number of attempts per request: one initial
// attempt plus four retries (spec §4.2).
const MaxAttempts = 5

const (
	baseDelay = 500 * time.Millisecond
	capDelay  = 30 * time.Second
	// truncatedBodyLimit bounds the response body snippet surfaced to the
	// observability hook before each retry.
	truncatedBodyLimit = 500
)

// CancellationError marks an outcome the caller's own context cancellation
// or deadline caused; it is never retried.
type CancellationError struct{ Cause error }

func (e *CancellationError) Error() string { return fmt.Sprintf("cancelled: %v", e.Cause) }
func (e *CancellationError) Unwrap() error { return e.Cause }

// Executor wraps HTTP attempts in the spec §4.2 retry policy. One Executor
// is safe for concurrent use; its backoff schedule is computed once at
// construction and shared (read-only) across every Execute call.
type Executor struct {
	client   *http.Client
	logger   *slog.Logger
	schedule [MaxAttempts - 1]time.Duration
}

// New builds a retry executor around an HTTP client, with a decorrelated
// jitter schedule generated once, sized so the first retry's median delay
// is 1 second (spec §4.2).
func New(client *http.Client, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{client: client, logger: logger}
	e.schedule = generateSchedule(rand.New(rand.NewSource(time.Now().UnixNano())))
	return e
}

// NewWithSchedule builds an Executor around an explicit backoff schedule,
// bypassing the generated decorrelated-jitter sequence. Exported for tests
// elsewhere in the module that need a retriable status to resolve without
// waiting out a real multi-second backoff.
func NewWithSchedule(client *http.Client, logger *slog.Logger, schedule [MaxAttempts - 1]time.Duration) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, logger: logger, schedule: schedule}
}

// generateSchedule produces the decorrelated-jitter delay sequence: each
// delay is drawn uniformly from [baseDelay, 3*previous], capped at
// capDelay. The first delay (drawn from [baseDelay, 3*baseDelay]) has a
// median of 2*baseDelay == 1s, matching spec §4.2's "median first-retry
// delay of 1 second".
func generateSchedule(rng *rand.Rand) [MaxAttempts - 1]time.Duration {
	var sched [MaxAttempts - 1]time.Duration
	prev := baseDelay
	for i := range sched {
		lo := baseDelay
		hi := prev * 3
		if hi > capDelay {
			hi = capDelay
		}
		d := lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
		if d > capDelay {
			d = capDelay
		}
		sched[i] = d
		prev = d
	}
	return sched
}

// RequestFactory produces a fresh, non-reused request per attempt, since
// request bodies are consumed on send and the Authorization header must
// carry a freshly fetched token (spec §4.2).
type RequestFactory func(ctx context.Context) (*http.Request, error)

// retriableStatus reports whether a response status should be retried:
// 408, 429, or any 5xx (spec §4.2).
func retriableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// scheduleCursor adapts Executor's pre-generated schedule to the
// backoff.BackOff interface for one Execute call, honoring a server
// Retry-After override for the immediately following attempt.
type scheduleCursor struct {
	schedule []time.Duration
	attempt  int
	override time.Duration
}

func (c *scheduleCursor) NextBackOff() time.Duration {
	if c.attempt >= len(c.schedule) {
		return backoff.Stop
	}
	d := c.schedule[c.attempt]
	if c.override > 0 {
		d = c.override
		c.override = 0
	}
	c.attempt++
	return d
}

func (c *scheduleCursor) Reset() {
	c.attempt = 0
	c.override = 0
}

// Execute sends one logical request, retrying per the policy above.
// timeout, if non-zero, bounds each individual attempt (not the whole
// retry sequence) via a context derived from ctx — this lets the executor
// tell a per-attempt timeout apart from the caller cancelling ctx itself,
// which is the distinction spec §4.2 draws between a retriable
// "deadline/cancellation-ambiguous" failure and a non-retriable
// caller-traceable cancellation.
func (e *Executor) Execute(ctx context.Context, timeout time.Duration, factory RequestFactory) (*http.Response, error) {
	cursor := &scheduleCursor{schedule: e.schedule[:]}

	var lastResp *http.Response
	var lastStatus int
	var lastBodySnippet string

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(&CancellationError{Cause: err})
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		req, err := factory(attemptCtx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				// The caller's own context is done — this is a
				// caller-traceable cancellation, never retried.
				return backoff.Permanent(&CancellationError{Cause: ctx.Err()})
			}
			// Network error, or the per-attempt timeout fired while the
			// caller's context is still alive — retriable (spec §4.2).
			return fmt.Errorf("send request: %w", err)
		}

		if retriableStatus(resp.StatusCode) {
			lastStatus = resp.StatusCode
			lastBodySnippet = truncatedBody(resp)
			if lastResp != nil {
				lastResp.Body.Close()
			}
			lastResp = resp
			if override := retryAfterDelta(resp.Header); override > 0 {
				cursor.override = override
			}
			return fmt.Errorf("retriable status %d", resp.StatusCode)
		}

		lastResp = resp
		return nil
	}

	notify := func(err error, d time.Duration) {
		e.logger.Warn("retrying HTTP request",
			"attempt", cursor.attempt,
			"delay", d,
			"status", lastStatus,
			"body", lastBodySnippet,
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(cursor, ctx), notify)
	if err == nil {
		return lastResp, nil
	}

	var cancelErr *CancellationError
	if errors.As(err, &cancelErr) {
		return nil, cancelErr
	}
	if ctx.Err() != nil {
		// The context-aware BackOff gave up waiting out a sleep because the
		// caller's context ended — the library surfaces ctx.Err() directly
		// in that case rather than routing back through op.
		return nil, &CancellationError{Cause: ctx.Err()}
	}

	if lastResp != nil {
		// Retries exhausted on a retriable status: hand the last response
		// back so the caller can classify it into the right typed error.
		return lastResp, nil
	}

	return nil, err
}

// retryAfterDelta parses a delta-seconds Retry-After header, returning 0
// when absent or not a delta value (an HTTP-date Retry-After is ignored,
// per spec §4.2's "delta value" qualifier).
func retryAfterDelta(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncatedBody(resp *http.Response) string {
	buf := make([]byte, truncatedBodyLimit)
	n, _ := io.ReadFull(resp.Body, buf)
	return string(buf[:n])
}
