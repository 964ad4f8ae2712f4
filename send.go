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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/mailgateway/internal/audit"
	"github.com/bcem/mailgateway/internal/sanitize"
	"github.com/bcem/mailgateway/internal/upload"
)

// SendEmail drives the full C4 state machine: Validating -> DraftPosted ->
// Attaching -> Materializing -> Sending -> Cleanup -> Done. Cleanup always
// runs once a draft exists on the backend, on every exit path.
func (s *Sender) SendEmail(ctx context.Context, env MailEnvelope, opts SendOptions) error {
	opts = opts.withDefaults()

	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	logger := s.logger.With("correlation_id", correlationID)

	v, err := validate(env, s.auth, opts)
	if err != nil {
		logger.Warn("send rejected at validation", "error", err)
		return err
	}

	if s.dedupeGuard != nil {
		claimed, cerr := s.dedupeGuard.Claim(ctx, correlationID)
		if cerr != nil {
			logger.Warn("dedupe guard unavailable, proceeding without it", "error", cerr)
		} else if !claimed {
			logger.Info("send skipped, correlation id already claimed", "correlation_id", correlationID)
			return fmt.Errorf("%w: correlation id %q already sent", ErrArgument, correlationID)
		}
	}

	draft := &DraftHandle{}
	senderEncoded := url.PathEscape(v.from)

	sendErr := s.runSendSteps(ctx, senderEncoded, v, opts, logger, draft)

	var cleanupErr error
	if draft.CreatedOnServer && draft.ID != "" {
		cleanupErr = s.deleteDraft(ctx, senderEncoded, draft.ID, opts.RequestTimeout, logger)
	}

	outcome := audit.Outcome{
		CorrelationID: correlationID,
		Sender:        v.from,
		DraftID:       draft.ID,
		Succeeded:     sendErr == nil && cleanupErr == nil,
		AttemptedAt:   attemptTimestamp(),
	}
	if sendErr != nil {
		outcome.ErrorSummary = sendErr.Error()
	} else if cleanupErr != nil {
		outcome.ErrorSummary = cleanupErr.Error()
	}
	s.recordOutcome(ctx, outcome, logger)

	switch {
	case sendErr != nil && cleanupErr != nil:
		return &AggregateError{SendErr: sendErr, CleanupErr: cleanupErr}
	case sendErr != nil:
		return sendErr
	case cleanupErr != nil:
		return cleanupErr
	}

	logger.Info("send completed", "draft_id", draft.ID)
	return nil
}

// attemptTimestamp returns the wall-clock time recorded as an outcome's
// AttemptedAt.
func attemptTimestamp() time.Time { return time.Now() }

func (s *Sender) recordOutcome(ctx context.Context, outcome audit.Outcome, logger *slog.Logger) {
	if s.auditStore == nil {
		return
	}
	if err := s.auditStore.Record(ctx, outcome); err != nil {
		logger.Warn("failed to persist send outcome", "error", err)
	}
}

// runSendSteps drives DraftPosted through Sending, populating draft as
// soon as a draft id exists so the caller can always run Cleanup.
func (s *Sender) runSendSteps(ctx context.Context, senderEncoded string, v *validated, opts SendOptions, logger *slog.Logger, draft *DraftHandle) error {
	draftID, err := s.postDraft(ctx, senderEncoded, v, opts.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateMessage, err)
	}
	draft.ID = draftID
	draft.SenderEncoded = senderEncoded
	draft.CreatedOnServer = true

	if err := s.attachAll(ctx, senderEncoded, draftID, v.attachments, opts, logger); err != nil {
		return err
	}

	clean, err := s.materialize(ctx, senderEncoded, draftID, opts.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMaterialize, err)
	}

	if err := s.sendMail(ctx, senderEncoded, clean, opts.SaveToSentItems, opts.RequestTimeout, logger); err != nil {
		return fmt.Errorf("%w: %v", ErrSendMessage, err)
	}

	return nil
}

// --- DraftPosted ---

type recipientItem struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func recipientItems(addrs []string) []recipientItem {
	items := make([]recipientItem, len(addrs))
	for i, a := range addrs {
		items[i].EmailAddress.Address = a
	}
	return items
}

type bodyContent struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type draftRequest struct {
	Subject      string          `json:"subject"`
	Body         bodyContent     `json:"body"`
	ToRecipients []recipientItem `json:"toRecipients"`
	CcRecipients []recipientItem `json:"ccRecipients,omitempty"`
	BccRecipients []recipientItem `json:"bccRecipients,omitempty"`
}

type draftResponse struct {
	ID string `json:"id"`
}

func bodyContentType(isHTML bool) string {
	if isHTML {
		return "HTML"
	}
	return "Text"
}

func (s *Sender) postDraft(ctx context.Context, senderEncoded string, v *validated, timeout time.Duration, logger *slog.Logger) (string, error) {
	reqBody := draftRequest{
		Subject:       v.subject,
		Body:          bodyContent{ContentType: bodyContentType(v.isHTML), Content: v.body},
		ToRecipients:  recipientItems(v.to),
		CcRecipients:  recipientItems(v.cc),
		BccRecipients: recipientItems(v.bcc),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode draft body: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/messages", s.graphBaseURL, senderEncoded)
	resp, err := s.doJSON(ctx, http.MethodPost, url, payload, timeout)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", parseGraphError(resp)
	}

	var out draftResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode draft response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("draft response missing id")
	}
	logger.Info("draft created", "draft_id", out.ID)
	return out.ID, nil
}

// --- Attaching ---

type smallAttachmentRequest struct {
	ODataType   string `json:"@odata.type"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	ContentBytes string `json:"contentBytes"`
	IsInline    bool   `json:"isInline,omitempty"`
	ContentID   string `json:"contentId,omitempty"`
}

func (s *Sender) attachAll(ctx context.Context, senderEncoded, draftID string, attachments []EmailAttachment, opts SendOptions, logger *slog.Logger) error {
	for i, att := range attachments {
		info, err := os.Stat(att.FilePath)
		if err != nil {
			return fmt.Errorf("%w: attachment %d (%q): %v", ErrAttachment, i, att.FileName, err)
		}

		if info.Size() <= opts.LargeAttachmentThreshold {
			if err := s.attachSmall(ctx, senderEncoded, draftID, att, info.Size(), opts.RequestTimeout, logger); err != nil {
				return fmt.Errorf("%w: %v", ErrAttachment, err)
			}
			continue
		}

		if err := s.attachLarge(ctx, senderEncoded, draftID, att, info.Size(), opts.ChunkSize, logger); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) attachSmall(ctx context.Context, senderEncoded, draftID string, att EmailAttachment, size int64, timeout time.Duration, logger *slog.Logger) error {
	data, err := os.ReadFile(att.FilePath)
	if err != nil {
		return fmt.Errorf("read attachment %q: %w", att.FileName, err)
	}

	payload, err := json.Marshal(smallAttachmentRequest{
		ODataType:    "#microsoft.graph.fileAttachment",
		Name:         sanitize.SanitizeFilename(att.FileName),
		ContentType:  att.ContentType,
		ContentBytes: base64.StdEncoding.EncodeToString(data),
		IsInline:     att.Inline,
		ContentID:    att.ContentID,
	})
	if err != nil {
		return fmt.Errorf("encode attachment body: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/messages/%s/attachments", s.graphBaseURL, senderEncoded, draftID)
	resp, err := s.doJSON(ctx, http.MethodPost, url, payload, timeout)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return parseGraphError(resp)
	}
	logger.Info("small attachment uploaded", "file", att.FileName, "size", size)
	return nil
}

func (s *Sender) attachLarge(ctx context.Context, senderEncoded, draftID string, att EmailAttachment, size, chunkSize int64, logger *slog.Logger) error {
	f, err := os.Open(att.FilePath)
	if err != nil {
		return fmt.Errorf("%w: open attachment %q: %v", ErrAttachment, att.FileName, err)
	}
	defer f.Close()

	engineAtt := upload.Attachment{
		FileName:    sanitize.SanitizeFilename(att.FileName),
		ContentType: att.ContentType,
		Size:        size,
		Inline:      att.Inline,
		ContentID:   att.ContentID,
	}

	if err := s.uploads.UploadLarge(ctx, senderEncoded, draftID, engineAtt, f, chunkSize); err != nil {
		return translateUploadError(err)
	}
	logger.Info("large attachment uploaded", "file", att.FileName, "size", size)
	return nil
}

// translateUploadError converts internal/upload's local error types into
// the package's public UploadError/GraphError, wrapped under ErrAttachment
// — internal/upload cannot import this package (it would create an import
// cycle), so the translation lives here at the call boundary.
func translateUploadError(err error) error {
	var uploadErr *upload.Error
	if errors.As(err, &uploadErr) {
		wrapped := &UploadError{
			FileName: uploadErr.FileName,
			Offset:   uploadErr.Offset,
			Attempts: uploadErr.Attempts,
			Cause:    translateStatusError(uploadErr.Cause),
		}
		return fmt.Errorf("%w: %w", ErrAttachment, wrapped)
	}
	return fmt.Errorf("%w: %v", ErrAttachment, err)
}

func translateStatusError(err error) error {
	var statusErr *upload.StatusError
	if errors.As(err, &statusErr) {
		return &GraphError{
			StatusCode: statusErr.StatusCode,
			Code:       statusErr.Code,
			Message:    statusErr.Message,
			Body:       statusErr.Body,
		}
	}
	return err
}

// --- Materializing ---

type rawAttachment struct {
	ODataType   string `json:"@odata.type"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
	Size        int64  `json:"size"`
	IsInline    bool   `json:"isInline"`
	ContentID   string `json:"contentId"`
}

type rawMaterializedMessage struct {
	Subject       string          `json:"subject"`
	Body          bodyContent     `json:"body"`
	ToRecipients  []recipientItem `json:"toRecipients"`
	CcRecipients  []recipientItem `json:"ccRecipients"`
	BccRecipients []recipientItem `json:"bccRecipients"`
	ReplyTo       []recipientItem `json:"replyTo"`
	From          *recipientItem  `json:"from"`
	Importance    string          `json:"importance"`
	Attachments   []rawAttachment `json:"attachments"`
}

// cleanAttachment is the whitelisted attachment shape spec §4.4 requires:
// only @odata.type, name, contentType, contentBytes, size, isInline,
// contentId survive materialize.
type cleanAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
	Size         int64  `json:"size"`
	IsInline     bool   `json:"isInline"`
	ContentID    string `json:"contentId,omitempty"`
}

// cleanMessage is the whitelisted message shape sendMail accepts; every
// other field the draft GET returns (read-only server properties like id,
// createdDateTime, changeKey) is dropped.
type cleanMessage struct {
	Subject       string            `json:"subject"`
	Body          bodyContent       `json:"body"`
	ToRecipients  []recipientItem   `json:"toRecipients,omitempty"`
	CcRecipients  []recipientItem   `json:"ccRecipients,omitempty"`
	BccRecipients []recipientItem   `json:"bccRecipients,omitempty"`
	ReplyTo       []recipientItem   `json:"replyTo,omitempty"`
	From          *recipientItem    `json:"from,omitempty"`
	Importance    string            `json:"importance,omitempty"`
	Attachments   []cleanAttachment `json:"attachments,omitempty"`
}

func (s *Sender) materialize(ctx context.Context, senderEncoded, draftID string, timeout time.Duration, logger *slog.Logger) (*cleanMessage, error) {
	url := fmt.Sprintf("%s/users/%s/messages/%s?$expand=attachments", s.graphBaseURL, senderEncoded, draftID)

	tok, err := s.tokens.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	resp, err := s.retryExec.Execute(ctx, timeout, func(ctx context.Context) (*http.Request, error) {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseGraphError(resp)
	}

	var raw rawMaterializedMessage
	// json.Decoder.Decode reads the complete JSON value into memory before
	// decoding it; the response is not parsed incrementally, so a draft's
	// attachment contentBytes (base64) are held in memory in full.
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode materialized message: %w", err)
	}

	clean := &cleanMessage{
		Subject:       raw.Subject,
		Body:          raw.Body,
		ToRecipients:  raw.ToRecipients,
		CcRecipients:  raw.CcRecipients,
		BccRecipients: raw.BccRecipients,
		ReplyTo:       raw.ReplyTo,
		From:          raw.From,
		Importance:    raw.Importance,
	}
	for _, a := range raw.Attachments {
		clean.Attachments = append(clean.Attachments, cleanAttachment{
			ODataType:    a.ODataType,
			Name:         a.Name,
			ContentType:  a.ContentType,
			ContentBytes: a.ContentBytes,
			Size:         a.Size,
			IsInline:     a.IsInline,
			ContentID:    a.ContentID,
		})
	}

	logger.Info("draft materialized", "draft_id", draftID, "attachments", len(clean.Attachments))
	return clean, nil
}

// --- Sending ---

type sendMailRequest struct {
	Message         *cleanMessage `json:"message"`
	SaveToSentItems bool          `json:"saveToSentItems"`
}

func (s *Sender) sendMail(ctx context.Context, senderEncoded string, msg *cleanMessage, saveToSent bool, timeout time.Duration, logger *slog.Logger) error {
	payload, err := json.Marshal(sendMailRequest{Message: msg, SaveToSentItems: saveToSent})
	if err != nil {
		return fmt.Errorf("encode sendMail body: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/sendMail", s.graphBaseURL, senderEncoded)
	resp, err := s.doJSON(ctx, http.MethodPost, url, payload, timeout)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return parseGraphError(resp)
	}
	logger.Info("message sent")
	return nil
}

// --- Cleanup ---

func (s *Sender) deleteDraft(ctx context.Context, senderEncoded, draftID string, timeout time.Duration, logger *slog.Logger) error {
	url := fmt.Sprintf("%s/users/%s/messages/%s", s.graphBaseURL, senderEncoded, draftID)

	tok, err := s.tokens.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteDraft, err)
	}
	resp, err := s.retryExec.Execute(ctx, timeout, func(ctx context.Context) (*http.Request, error) {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteDraft, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %v", ErrDeleteDraft, parseGraphError(resp))
	}
	logger.Info("draft deleted", "draft_id", draftID)
	return nil
}

// --- shared HTTP + error plumbing ---

// doJSON fetches a fresh token, issues one JSON request routed through the
// shared retry executor, and returns the raw response for the caller to
// classify — every major HTTP call in the send path fetches its own token
// immediately before the call (spec §4.4 "Token freshness").
func (s *Sender) doJSON(ctx context.Context, method, url string, body []byte, timeout time.Duration) (*http.Response, error) {
	tok, err := s.tokens.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return s.retryExec.Execute(ctx, timeout, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, rerr := http.NewRequestWithContext(ctx, method, url, reader)
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
}

const truncatedBodyLimit = 500

// parseGraphError builds a *GraphError from a non-success response,
// preferring the backend's {"error":{"code","message"}} shape and falling
// back to a truncated raw body (spec §7).
func parseGraphError(resp *http.Response) error {
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
		return &GraphError{StatusCode: resp.StatusCode, Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	return &GraphError{StatusCode: resp.StatusCode, Body: string(body)}
}
