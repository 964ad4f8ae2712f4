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
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/mailgateway/internal/retry"
	"github.com/bcem/mailgateway/internal/token"
	"github.com/bcem/mailgateway/internal/upload"
)

// testTokenServer stands in for the Microsoft identity platform token
// endpoint, handing out a token that is always fresh well past
// token.SafetyBuffer.
func testTokenServer(t *testing.T) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSender mirrors New's construction order, but points the token
// provider at a local test double rather than login.microsoftonline.com.
func newTestSender(t *testing.T, graphHandler http.Handler, opts ...Option) (*Sender, *httptest.Server) {
	tokenSrv := testTokenServer(t)
	graphSrv := httptest.NewServer(graphHandler)
	t.Cleanup(graphSrv.Close)

	cfg := AuthConfig{
		TenantID:      "tenant",
		ClientID:      "client",
		ClientSecret:  "secret",
		DefaultSender: "sender@contoso.com",
	}

	s := &Sender{
		auth:         cfg,
		client:       graphSrv.Client(),
		ownsClient:   false,
		logger:       quietLogger(),
		graphBaseURL: graphSrv.URL,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tokens = token.NewWithConfig(&clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenSrv.URL,
	})
	var fastSchedule [retry.MaxAttempts - 1]time.Duration
	for i := range fastSchedule {
		fastSchedule[i] = time.Millisecond
	}
	s.retryExec = retry.NewWithSchedule(s.client, s.logger, fastSchedule)
	s.uploads = upload.New(s.client, s.retryExec, s.tokens, s.logger, s.graphBaseURL)

	t.Cleanup(func() { s.Close() })
	return s, graphSrv
}

// writeTempFile writes content to a new temp file and returns its path.
func writeTempFile(t *testing.T, content string) string {
	f, err := os.CreateTemp(t.TempDir(), "attach-*.txt")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	return f.Name()
}
