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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const receiveProjection = "id,subject,body,receivedDateTime,isRead,hasAttachments,webLink,toRecipients,ccRecipients,bccRecipients,internetMessageHeaders"

// ReceiveUnread lists unread inbox messages for mailbox (the AuthConfig
// default sender if empty), best-effort hydrating each message's
// attachments and marking it read (spec §4.6). A per-message attachment
// fetch or mark-as-read failure is logged and does not abort the batch.
func (s *Sender) ReceiveUnread(ctx context.Context, mailbox string) ([]MessageDto, error) {
	if mailbox == "" {
		mailbox = s.auth.DefaultSender
	}
	senderEncoded := url.PathEscape(mailbox)

	raw, err := s.listUnread(ctx, senderEncoded)
	if err != nil {
		return nil, err
	}

	messages := make([]MessageDto, 0, len(raw))
	for _, m := range raw {
		dto := m.toDto()

		if m.HasAttachments {
			atts, aerr := s.fetchAttachments(ctx, senderEncoded, m.ID)
			if aerr != nil {
				s.logger.Warn("attachment fetch failed, continuing without them",
					"message_id", m.ID, "error", aerr)
			} else {
				dto.Attachments = atts
			}
		}

		if merr := s.markRead(ctx, senderEncoded, m.ID); merr != nil {
			s.logger.Warn("mark-as-read failed", "message_id", m.ID, "error", merr)
		} else {
			dto.IsRead = true
		}

		messages = append(messages, dto)
	}

	return messages, nil
}

type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type rawInboxMessage struct {
	ID                     string                 `json:"id"`
	Subject                string                 `json:"subject"`
	Body                   bodyContent            `json:"body"`
	ReceivedDateTime       string                 `json:"receivedDateTime"`
	IsRead                 bool                   `json:"isRead"`
	HasAttachments         bool                   `json:"hasAttachments"`
	WebLink                string                 `json:"webLink"`
	ToRecipients           []recipientItem        `json:"toRecipients"`
	CcRecipients           []recipientItem        `json:"ccRecipients"`
	BccRecipients          []recipientItem        `json:"bccRecipients"`
	InternetMessageHeaders []internetHeader       `json:"internetMessageHeaders"`
}

func (m rawInboxMessage) toDto() MessageDto {
	headers := make(map[string]string, len(m.InternetMessageHeaders))
	for _, h := range m.InternetMessageHeaders {
		headers[h.Name] = h.Value
	}
	return MessageDto{
		ID:                     m.ID,
		Subject:                m.Subject,
		BodyContentType:        m.Body.ContentType,
		Body:                   m.Body.Content,
		ReceivedDateTime:       m.ReceivedDateTime,
		IsRead:                 m.IsRead,
		HasAttachments:         m.HasAttachments,
		WebLink:                m.WebLink,
		To:                     addresses(m.ToRecipients),
		Cc:                     addresses(m.CcRecipients),
		Bcc:                    addresses(m.BccRecipients),
		InternetMessageHeaders: headers,
	}
}

func addresses(items []recipientItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.EmailAddress.Address
	}
	return out
}

type inboxListResponse struct {
	Value []rawInboxMessage `json:"value"`
}

func (s *Sender) listUnread(ctx context.Context, senderEncoded string) ([]rawInboxMessage, error) {
	url := fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages?$filter=isRead%%20eq%%20false&$select=%s&$top=100",
		s.graphBaseURL, senderEncoded, receiveProjection)

	resp, err := s.doJSON(ctx, http.MethodGet, url, nil, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseGraphError(resp)
	}

	var out inboxListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode inbox list: %w", err)
	}
	return out.Value, nil
}

type rawReceivedAttachment struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	ContentType        string `json:"contentType"`
	ODataMediaType     string `json:"@odata.mediaContentType"`
	Size               int64  `json:"size"`
	IsInline           bool   `json:"isInline"`
	ContentBytes       string `json:"contentBytes"`
}

type attachmentListResponse struct {
	Value []rawReceivedAttachment `json:"value"`
}

func (s *Sender) fetchAttachments(ctx context.Context, senderEncoded, messageID string) ([]ReceivedAttachment, error) {
	url := fmt.Sprintf("%s/users/%s/messages/%s/attachments", s.graphBaseURL, senderEncoded, messageID)

	resp, err := s.doJSON(ctx, http.MethodGet, url, nil, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseGraphError(resp)
	}

	var out attachmentListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode attachment list: %w", err)
	}

	atts := make([]ReceivedAttachment, len(out.Value))
	for i, a := range out.Value {
		contentType := a.ContentType
		if contentType == "" {
			contentType = a.ODataMediaType
		}
		atts[i] = ReceivedAttachment{
			ID:           a.ID,
			Name:         a.Name,
			ContentType:  contentType,
			Size:         a.Size,
			IsInline:     a.IsInline,
			ContentBytes: a.ContentBytes,
		}
	}
	return atts, nil
}

type markReadRequest struct {
	IsRead bool `json:"isRead"`
}

func (s *Sender) markRead(ctx context.Context, senderEncoded, messageID string) error {
	payload, err := json.Marshal(markReadRequest{IsRead: true})
	if err != nil {
		return fmt.Errorf("encode mark-read body: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/messages/%s", s.graphBaseURL, senderEncoded, messageID)
	resp, err := s.doJSON(ctx, http.MethodPatch, url, payload, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseGraphError(resp)
	}
	return nil
}
