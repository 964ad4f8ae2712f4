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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearSenderEnv(t *testing.T) {
	for _, k := range []string{
		"CONFIG_PATH", "TENANT_ID", "CLIENT_ID", "CLIENT_SECRET", "MAILBOX_ADDRESS",
		"REQUEST_TIMEOUT", "LARGE_ATTACHMENT_THRESHOLD_MB", "CHUNK_SIZE_MB",
		"MAX_AGGREGATE_ATTACHMENT_MB", "SAVE_TO_SENT_ITEMS", "GRAPH_BASE_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_SingleSenderFromEnvironment(t *testing.T) {
	clearSenderEnv(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("TENANT_ID", "tenant-1")
	t.Setenv("CLIENT_ID", "client-1")
	t.Setenv("CLIENT_SECRET", "secret-1")
	t.Setenv("MAILBOX_ADDRESS", "notifications@contoso.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Senders) != 1 {
		t.Fatalf("len(Senders) = %d, want 1", len(cfg.Senders))
	}
	s := cfg.Senders[0]
	if s.TenantID != "tenant-1" || s.ClientID != "client-1" || s.ClientSecret != "secret-1" || s.MailboxAddress != "notifications@contoso.com" {
		t.Errorf("sender = %+v, want env values", s)
	}
	if cfg.GraphBaseURL != defaultGraphBaseURL {
		t.Errorf("GraphBaseURL = %q, want default", cfg.GraphBaseURL)
	}
}

func TestLoad_MissingSenderIsAnError(t *testing.T) {
	clearSenderEnv(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when no sender is configured")
	}
}

func TestLoad_YAMLSendersWithEnvExpansion(t *testing.T) {
	clearSenderEnv(t)
	t.Setenv("INJECTED_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "mailgateway.yaml")
	yamlBody := `
senders:
  - tag: primary
    tenant_id: tenant-a
    client_id: client-a
    client_secret: ${INJECTED_SECRET}
    mailbox_address: primary@contoso.com
  - tag: secondary
    tenant_id: tenant-b
    client_id: client-b
    client_secret: secret-b
    mailbox_address: secondary@contoso.com
send:
  chunk_size_mb: 8
  save_to_sent_items: true
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Senders) != 2 {
		t.Fatalf("len(Senders) = %d, want 2", len(cfg.Senders))
	}
	if cfg.Senders[0].ClientSecret != "from-env" {
		t.Errorf("ClientSecret = %q, want env-expanded value", cfg.Senders[0].ClientSecret)
	}
	if cfg.Senders[1].Tag != "secondary" {
		t.Errorf("Senders[1].Tag = %q, want secondary", cfg.Senders[1].Tag)
	}
	if cfg.ChunkSize != 8*1024*1024 {
		t.Errorf("ChunkSize = %d, want %d", cfg.ChunkSize, 8*1024*1024)
	}
	if !cfg.SaveToSentItems {
		t.Error("SaveToSentItems = false, want true")
	}
}

func TestLoad_EnvironmentOverridesYAMLSendOptions(t *testing.T) {
	clearSenderEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "mailgateway.yaml")
	yamlBody := `
senders:
  - tenant_id: t
    client_id: c
    client_secret: s
    mailbox_address: m@contoso.com
send:
  chunk_size_mb: 8
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CHUNK_SIZE_MB", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ChunkSize != 2*1024*1024 {
		t.Errorf("ChunkSize = %d, want env override of %d", cfg.ChunkSize, 2*1024*1024)
	}
}

func TestLoad_MissingFieldOnOneSenderIsAnError(t *testing.T) {
	clearSenderEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "mailgateway.yaml")
	yamlBody := `
senders:
  - tag: incomplete
    tenant_id: t
    client_id: c
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a sender missing client_secret/mailbox_address")
	}
}

func TestLoad_RequestTimeoutFromEnvironment(t *testing.T) {
	clearSenderEnv(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("TENANT_ID", "t")
	t.Setenv("CLIENT_ID", "c")
	t.Setenv("CLIENT_SECRET", "s")
	t.Setenv("MAILBOX_ADDRESS", "m@contoso.com")
	t.Setenv("REQUEST_TIMEOUT", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Errorf("RequestTimeout = %v, want 45s", cfg.RequestTimeout)
	}
}
