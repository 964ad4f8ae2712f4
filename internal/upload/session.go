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

// Package upload implements the resumable chunked upload session engine
// (spec §4.3): drives createUploadSession plus the chunked PUT loop against
// a backend-issued, pre-authenticated upload URL, recovering from session
// loss by re-creating the session up to three times.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/bcem/mailgateway/internal/retry"
	"github.com/bcem/mailgateway/internal/token"
)

// MaxSessionAttempts bounds session re-creation after a session-lost (404)
// signal: the original session plus at most two re-creations.
const MaxSessionAttempts = 3

const (
	sessionRetryBase = 500 * time.Millisecond
	sessionRetryCap  = 30 * time.Second
)

// ErrSessionLost is raised internally when a chunk PUT returns 404
// ("ErrorItemNotFound"): the upload session is no longer valid on the
// backend. It never crosses the package boundary on its own — callers only
// ever observe an *Error with this wrapped as Cause after session
// re-creation is exhausted, or a success after a transparent retry.
var ErrSessionLost = errors.New("upload: session lost")

// StatusError wraps a non-success Graph API response encountered by the
// upload engine.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("upload: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("upload: HTTP %d: %s", e.StatusCode, e.Body)
}

// Error describes a failed large-attachment upload: which file and draft it
// belongs to, how far it got, how many session attempts were spent, and
// the underlying cause.
type Error struct {
	FileName string
	DraftID  string
	Offset   int64
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload %q (draft %s) failed at offset %d after %d session attempt(s): %v",
		e.FileName, e.DraftID, e.Offset, e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Attachment describes one file to be uploaded through a session.
type Attachment struct {
	FileName    string
	ContentType string
	Size        int64
	Inline      bool
	ContentID   string
}

// Engine drives resumable chunked uploads against Microsoft Graph. One
// Engine is shared across sends; its buffer pool and token provider are
// safe for concurrent use, but per spec §4.3 uploads for one send are
// issued sequentially.
type Engine struct {
	client       *http.Client
	retryExec    *retry.Executor
	tokens       *token.Provider
	logger       *slog.Logger
	graphBaseURL string

	bufPool sync.Pool
}

// New builds an upload engine. graphBaseURL has no trailing slash, e.g.
// "https://graph.microsoft.com/v1.0".
func New(client *http.Client, retryExec *retry.Executor, tokens *token.Provider, logger *slog.Logger, graphBaseURL string) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:       client,
		retryExec:    retryExec,
		tokens:       tokens,
		logger:       logger,
		graphBaseURL: graphBaseURL,
		bufPool: sync.Pool{
			New: func() any { return make([]byte, 0, 5*1024*1024) },
		},
	}
}

// UploadLarge drives the full protocol from spec §4.3: it creates an upload
// session, streams src through chunkSize-bounded PUTs, and transparently
// re-creates the session (rewinding src) up to MaxSessionAttempts times on
// session loss. src must support Seek(0, io.SeekStart) for this rewind.
func (e *Engine) UploadLarge(ctx context.Context, senderEncoded, draftID string, att Attachment, src io.ReadSeeker, chunkSize int64) error {
	delays := sessionRetryDelays()
	var lastErr error
	var lastOffset int64

	for attempt := 1; attempt <= MaxSessionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Error{FileName: att.FileName, DraftID: draftID, Offset: lastOffset, Attempts: attempt - 1, Cause: err}
		}

		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return &Error{FileName: att.FileName, DraftID: draftID, Cause: fmt.Errorf("rewind source: %w", err)}
		}

		uploadURL, err := e.createSession(ctx, senderEncoded, draftID, att)
		if err != nil {
			return &Error{FileName: att.FileName, DraftID: draftID, Attempts: attempt, Cause: err}
		}

		offset, err := e.runChunkLoop(ctx, uploadURL, att, src, chunkSize)
		lastOffset = offset
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.Is(err, ErrSessionLost) {
			return &Error{FileName: att.FileName, DraftID: draftID, Offset: offset, Attempts: attempt, Cause: err}
		}

		e.logger.Warn("upload session lost, re-creating",
			"file", att.FileName, "draft", draftID, "attempt", attempt, "offset", offset)

		if attempt == MaxSessionAttempts {
			break
		}
		if err := sleepWithCancel(ctx, delays[attempt-1]); err != nil {
			return &Error{FileName: att.FileName, DraftID: draftID, Offset: offset, Attempts: attempt, Cause: err}
		}
	}

	return &Error{FileName: att.FileName, DraftID: draftID, Offset: lastOffset, Attempts: MaxSessionAttempts, Cause: lastErr}
}

// createSession issues the createUploadSession POST and returns the
// pre-authenticated uploadUrl.
func (e *Engine) createSession(ctx context.Context, senderEncoded, draftID string, att Attachment) (string, error) {
	url := fmt.Sprintf("%s/users/%s/messages/%s/attachments/createUploadSession", e.graphBaseURL, senderEncoded, draftID)

	payload, err := json.Marshal(createSessionRequest{
		AttachmentItem: attachmentItemPayload{
			AttachmentType: "file",
			Name:           att.FileName,
			Size:           att.Size,
			IsInline:       att.Inline,
			ContentID:      att.ContentID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode createUploadSession body: %w", err)
	}

	resp, err := e.retryExec.Execute(ctx, 0, func(ctx context.Context) (*http.Request, error) {
		tok, terr := e.tokens.GetToken(ctx)
		if terr != nil {
			return nil, fmt.Errorf("acquire token: %w", terr)
		}
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", parseStatusError(resp)
	}

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode createUploadSession response: %w", err)
	}
	if out.UploadURL == "" {
		return "", errors.New("createUploadSession response missing uploadUrl")
	}
	return out.UploadURL, nil
}

// runChunkLoop drives the PUT loop for one session attempt, returning the
// committed offset (even on failure, for Error.Offset) and any error —
// including ErrSessionLost on a 404.
func (e *Engine) runChunkLoop(ctx context.Context, uploadURL string, att Attachment, src io.Reader, chunkSize int64) (int64, error) {
	buf := e.bufPool.Get().([]byte)
	defer e.bufPool.Put(buf[:0]) //nolint:staticcheck // reused across calls, not escaping

	var offset int64
	for offset < att.Size {
		if err := ctx.Err(); err != nil {
			return offset, err
		}

		want := chunkSize
		if remaining := att.Size - offset; remaining < want {
			want = remaining
		}
		if int64(cap(buf)) < want {
			buf = make([]byte, want)
		} else {
			buf = buf[:want]
		}

		n, err := io.ReadFull(src, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return offset, fmt.Errorf("read attachment source: %w", err)
		}
		if int64(n) < want {
			return offset, fmt.Errorf("attachment %q truncated at offset %d: declared %d bytes, read %d",
				att.FileName, offset, att.Size, offset+int64(n))
		}

		end := offset + int64(n) - 1
		complete, err := e.putChunk(ctx, uploadURL, buf[:n], att.ContentType, offset, end, att.Size)
		if err != nil {
			return offset, err
		}
		offset += int64(n)
		if complete {
			break
		}
	}

	if offset != att.Size {
		return offset, fmt.Errorf("incomplete upload for %q: committed %d of %d bytes", att.FileName, offset, att.Size)
	}
	return offset, nil
}

// putChunk PUTs one chunk and classifies the response. No Authorization
// header is attached: uploadURL is pre-authenticated by the backend
// (spec §4.3).
func (e *Engine) putChunk(ctx context.Context, uploadURL string, chunk []byte, contentType string, off, end, total int64) (complete bool, err error) {
	resp, err := e.retryExec.Execute(ctx, 0, func(ctx context.Context) (*http.Request, error) {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(chunk))
		if rerr != nil {
			return nil, rerr
		}
		req.ContentLength = int64(len(chunk))
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", off, end, total))
		return req, nil
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return true, nil
	case http.StatusAccepted:
		var body chunkAcceptedResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return len(body.NextExpectedRanges) == 0, nil
	case http.StatusNotFound:
		return false, ErrSessionLost
	default:
		return false, parseStatusError(resp)
	}
}

type attachmentItemPayload struct {
	AttachmentType string `json:"attachmentType"`
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	IsInline       bool   `json:"isInline,omitempty"`
	ContentID      string `json:"contentId,omitempty"`
}

type createSessionRequest struct {
	AttachmentItem attachmentItemPayload `json:"AttachmentItem"`
}

type createSessionResponse struct {
	UploadURL          string `json:"uploadUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

type chunkAcceptedResponse struct {
	NextExpectedRanges []string `json:"nextExpectedRanges"`
}

const truncatedBodyLimit = 500

func parseStatusError(resp *http.Response) error {
	buf := make([]byte, truncatedBodyLimit)
	n, _ := io.ReadFull(resp.Body, buf)
	body := buf[:n]

	var parsed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && (parsed.Error.Code != "" || parsed.Error.Message != "") {
		return &StatusError{StatusCode: resp.StatusCode, Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

// sessionRetryDelays generates the two decorrelated-jitter delays used
// between session re-creation attempts, following the same algorithm and
// constants as internal/retry's schedule (spec §4.3: "the same
// decorrelated-jitter delays between them").
func sessionRetryDelays() [MaxSessionAttempts - 1]time.Duration {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var delays [MaxSessionAttempts - 1]time.Duration
	prev := sessionRetryBase
	for i := range delays {
		lo := sessionRetryBase
		hi := prev * 3
		if hi > sessionRetryCap {
			hi = sessionRetryCap
		}
		d := lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
		delays[i] = d
		prev = d
	}
	return delays
}

func sleepWithCancel(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
