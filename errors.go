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
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in spec §7. Each is wrapped with
// call-specific context via fmt.Errorf("...: %w", ...) at the call site.
var (
	// ErrArgument marks a validation failure: no recipients, an invalid
	// address, an inline attachment missing a content ID, a missing or
	// empty attachment file, or an aggregate size over the cap.
	ErrArgument = errors.New("mailgateway: invalid argument")

	// ErrAuthentication marks a token-acquisition failure. Never retried.
	ErrAuthentication = errors.New("mailgateway: authentication failed")

	// ErrCreateMessage marks a draft-creation POST that failed after retries.
	ErrCreateMessage = errors.New("mailgateway: create draft failed")

	// ErrAttachment marks a small-attachment POST, upload-session create, or
	// chunk PUT failure (after any session re-creation attempts).
	ErrAttachment = errors.New("mailgateway: attachment upload failed")

	// ErrMaterialize marks a draft re-read (GET) or JSON decode failure.
	ErrMaterialize = errors.New("mailgateway: materialize draft failed")

	// ErrSendMessage marks a sendMail POST that failed after retries.
	ErrSendMessage = errors.New("mailgateway: send message failed")

	// ErrDeleteDraft marks a cleanup DELETE that failed after retries.
	ErrDeleteDraft = errors.New("mailgateway: delete draft failed")

	// ErrSessionLost names the session-invalid condition (a 404 from a chunk
	// PUT). The upload engine signals it with its own
	// internal/upload.ErrSessionLost; SendEmail never returns this value —
	// callers observe ErrAttachment.
	ErrSessionLost = errors.New("mailgateway: upload session lost")
)

// GraphError wraps a non-success Graph API response. When the response body
// was a JSON error object, Code and Message come from it; otherwise Body
// holds a truncated (<=500 bytes) copy of the raw response body.
type GraphError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *GraphError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("graph API error: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph API error: HTTP %d: %s", e.StatusCode, e.Body)
}

// UploadError describes a failure of the chunked upload engine (C3) for one
// attachment, including the byte offset reached at the time of failure.
type UploadError struct {
	FileName string
	Offset   int64
	Attempts int
	Cause    error
}

func (e *UploadError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("mailgateway: upload failed for %q at offset %d after %d session attempt(s): %v",
			e.FileName, e.Offset, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("mailgateway: upload failed for %q at offset %d: %v", e.FileName, e.Offset, e.Cause)
}

func (e *UploadError) Unwrap() error { return e.Cause }

// AggregateError combines the main send failure with a cleanup (draft
// delete) failure, per spec §4.4: "If the main operation failed and cleanup
// also fails, surface an aggregate error containing both."
type AggregateError struct {
	SendErr    error
	CleanupErr error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("mailgateway: send failed (%v) and cleanup also failed (%v)", e.SendErr, e.CleanupErr)
}

func (e *AggregateError) Unwrap() []error { return []error{e.SendErr, e.CleanupErr} }

// argErr builds an ErrArgument-wrapped error naming the offending field.
func argErr(field, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrArgument, field, reason)
}
