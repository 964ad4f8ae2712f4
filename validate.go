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
	"fmt"
	"os"

	"github.com/bcem/mailgateway/internal/sanitize"
)

// validated is the Validating state's output: a MailEnvelope with a
// resolved sender address and sanitized subject/body, ready for
// DraftPosted.
type validated struct {
	from        string
	to, cc, bcc []string
	subject     string
	body        string
	isHTML      bool
	attachments []EmailAttachment
}

// validate implements spec §4.4's Validating step in full: recipient and
// sender address grammar, subject/body sanitizing, and the attachment
// group pre-check (existence, non-zero length, inline content-id,
// aggregate size cap).
func validate(env MailEnvelope, auth AuthConfig, opts SendOptions) (*validated, error) {
	from := env.From
	if from == "" {
		from = auth.DefaultSender
	}
	if !sanitize.IsValidAddress(from) {
		return nil, argErr("from", "not a valid address")
	}

	if len(env.To) == 0 {
		return nil, argErr("to", "at least one primary recipient is required")
	}
	for _, group := range [][]string{env.To, env.Cc, env.Bcc} {
		for _, addr := range group {
			if !sanitize.IsValidAddress(addr) {
				return nil, argErr("recipient", fmt.Sprintf("%q is not a valid address", addr))
			}
		}
	}

	var aggregate int64
	for i, att := range env.Attachments {
		if att.Inline && att.ContentID == "" {
			return nil, argErr("attachments", fmt.Sprintf("attachment %d (%q) is inline but has no content id", i, att.FileName))
		}
		info, err := os.Stat(att.FilePath)
		if err != nil {
			return nil, argErr("attachments", fmt.Sprintf("attachment %d (%q): %v", i, att.FileName, err))
		}
		if info.Size() == 0 {
			return nil, argErr("attachments", fmt.Sprintf("attachment %d (%q) is empty", i, att.FileName))
		}
		name := sanitize.SanitizeFilename(att.FileName)
		if name == "" {
			return nil, argErr("attachments", fmt.Sprintf("attachment %d file name sanitizes to empty", i))
		}
		aggregate += info.Size()
	}
	if aggregate > opts.MaxAggregateAttachmentSize {
		return nil, argErr("attachments", fmt.Sprintf("aggregate size %d exceeds cap %d", aggregate, opts.MaxAggregateAttachmentSize))
	}

	return &validated{
		from:        from,
		to:          env.To,
		cc:          env.Cc,
		bcc:         env.Bcc,
		subject:     sanitize.SanitizeSubject(env.Subject),
		body:        sanitizeBody(env.Body, env.IsHTML),
		isHTML:      env.IsHTML,
		attachments: env.Attachments,
	}, nil
}

// sanitizeBody applies the HTML whitelist only to HTML bodies; a plain
// text body is passed through untouched (spec §4.5 sanitizeBody governs
// "html" content specifically).
func sanitizeBody(body string, isHTML bool) string {
	if !isHTML {
		return body
	}
	return sanitize.SanitizeBody(body)
}
