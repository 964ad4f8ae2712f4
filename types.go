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

// Package mailgateway sends outbound email through Microsoft Graph v1.0
// using an application-only (client-credentials) identity, and reads
// unread inbox messages. Its core value is the send pipeline for messages
// with arbitrarily large attachments: draft -> attach -> materialize ->
// send -> cleanup, with a resumable chunked upload path for attachments
// over a configurable inline threshold.
//
// # Usage
//
//	cfg := mailgateway.AuthConfig{
//		TenantID:        "contoso-tenant-id",
//		ClientID:        "app-client-id",
//		ClientSecret:    os.Getenv("GRAPH_CLIENT_SECRET"),
//		DefaultSender:   "notifications@contoso.com",
//	}
//	sender, err := mailgateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sender.Close()
//
//	err = sender.SendEmail(ctx, mailgateway.MailEnvelope{
//		To:      []string{"user@example.com"},
//		Subject: "Hello",
//		Body:    "<p>Hi there</p>",
//		IsHTML:  true,
//	}, mailgateway.DefaultSendOptions())
package mailgateway

import "time"

// AuthConfig is the immutable identity a Sender is built from: a tenant, an
// application registration, and the mailbox that owns the sends. It is read
// once at construction and never mutated.
type AuthConfig struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	DefaultSender string
}

// SendOptions is immutable per send. Zero-value fields fall back to the
// defaults documented on each field; use DefaultSendOptions for the full
// default set.
type SendOptions struct {
	// RequestTimeout bounds each individual HTTP call (draft create, each
	// small-attachment POST, materialize, sendMail, delete). The upload
	// session calls for large attachments are not bounded by it. Zero means
	// no explicit per-call timeout beyond the caller's context.
	RequestTimeout time.Duration

	// LargeAttachmentThreshold separates small (single POST, base64) from
	// large (resumable upload session) attachments. Default 3 MiB.
	LargeAttachmentThreshold int64

	// ChunkSize is the PUT chunk size for the upload session engine.
	// Default 5 MiB.
	ChunkSize int64

	// MaxAggregateAttachmentSize caps the sum of all attachment sizes for
	// one send. Default 35 MiB — tied to the materialize step re-reading
	// attachments from the backend as base64 (see spec §9).
	MaxAggregateAttachmentSize int64

	// SaveToSentItems controls whether the sent message is persisted to the
	// mailbox's Sent Items folder. Default false.
	SaveToSentItems bool
}

const (
	defaultLargeAttachmentThreshold = 3 * 1024 * 1024
	defaultChunkSize                = 5 * 1024 * 1024
	defaultMaxAggregateSize         = 35 * 1024 * 1024
	tokenSafetyBuffer               = 30 * time.Second
)

// DefaultSendOptions returns the spec-mandated defaults: 3 MiB large-file
// threshold, 5 MiB chunks, 35 MiB aggregate cap, Sent Items not saved.
func DefaultSendOptions() SendOptions {
	return SendOptions{
		LargeAttachmentThreshold:   defaultLargeAttachmentThreshold,
		ChunkSize:                  defaultChunkSize,
		MaxAggregateAttachmentSize: defaultMaxAggregateSize,
		SaveToSentItems:            false,
	}
}

// withDefaults fills any zero-valued field with the spec default, leaving
// caller-supplied non-zero values untouched.
func (o SendOptions) withDefaults() SendOptions {
	if o.LargeAttachmentThreshold <= 0 {
		o.LargeAttachmentThreshold = defaultLargeAttachmentThreshold
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.MaxAggregateAttachmentSize <= 0 {
		o.MaxAggregateAttachmentSize = defaultMaxAggregateSize
	}
	return o
}

// EmailAttachment describes one file to attach to an outbound message.
type EmailAttachment struct {
	// FileName is the declared name; sanitized (path separators and
	// control characters stripped) before transmission.
	FileName string
	// FilePath must refer to a readable regular file with non-zero length
	// at attach time.
	FilePath string
	// Inline marks the attachment for inline display; when true, ContentID
	// must be non-empty and non-blank.
	Inline bool
	// ContentID is required when Inline is true.
	ContentID string
	// ContentType, if set, is sent as the attachment's content type; no
	// content type is detected when it is empty.
	ContentType string
}

// MailEnvelope is the per-send input: recipients, content, and attachments.
type MailEnvelope struct {
	To  []string
	Cc  []string
	Bcc []string

	Subject string
	Body    string
	IsHTML  bool

	Attachments []EmailAttachment

	// From overrides AuthConfig.DefaultSender for this send, if set.
	From string

	// CorrelationID is an optional caller-supplied identifier attached to
	// every log event and, if configured, the dedupe guard and audit store
	// for the duration of this send. A fresh UUID is generated when empty.
	CorrelationID string
}

// DraftHandle is the transient per-send record of the server-side draft
// message created in DraftPosted and torn down in Cleanup.
type DraftHandle struct {
	ID              string
	SenderEncoded   string
	CreatedOnServer bool
}

// MessageDto is one unread inbox message returned by ReceiveUnread.
type MessageDto struct {
	ID                     string
	Subject                string
	BodyContentType        string
	Body                   string
	ReceivedDateTime       string
	IsRead                 bool
	HasAttachments         bool
	WebLink                string
	To                     []string
	Cc                     []string
	Bcc                    []string
	InternetMessageHeaders map[string]string
	Attachments            []ReceivedAttachment
}

// ReceivedAttachment is one attachment hydrated from an inbox message.
type ReceivedAttachment struct {
	ID           string
	Name         string
	ContentType  string
	Size         int64
	IsInline     bool
	ContentBytes string // base64, as returned by Graph
}
