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

// Package config loads mail gateway configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SenderConfig is one application registration / mailbox pair. Most
// deployments configure exactly one; Config.Senders may list more than
// one when a single process sends as multiple mailboxes, selected by Tag.
type SenderConfig struct {
	Tag            string `yaml:"tag"`
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	MailboxAddress string `yaml:"mailbox_address"`
}

// Config holds everything needed to construct a Sender (or a
// SenderRegistry, when more than one SenderConfig is present).
type Config struct {
	Senders []SenderConfig

	RequestTimeout             time.Duration
	LargeAttachmentThreshold   int64
	ChunkSize                  int64
	MaxAggregateAttachmentSize int64
	SaveToSentItems            bool

	GraphBaseURL string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Senders []struct {
		Tag            string `yaml:"tag"`
		TenantID       string `yaml:"tenant_id"`
		ClientID       string `yaml:"client_id"`
		ClientSecret   string `yaml:"client_secret"`
		MailboxAddress string `yaml:"mailbox_address"`
	} `yaml:"senders"`
	Send struct {
		RequestTimeout             string `yaml:"request_timeout"`
		LargeAttachmentThresholdMB int64  `yaml:"large_attachment_threshold_mb"`
		ChunkSizeMB                int64  `yaml:"chunk_size_mb"`
		MaxAggregateAttachmentMB   int64  `yaml:"max_aggregate_attachment_mb"`
		SaveToSentItems            bool   `yaml:"save_to_sent_items"`
	} `yaml:"send"`
}

const defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// Load reads configuration from a YAML file (with ${VAR} environment
// expansion) at CONFIG_PATH, default "./mailgateway.yaml", overlaid with
// direct environment variables: TENANT_ID, CLIENT_ID, CLIENT_SECRET,
// MAILBOX_ADDRESS describe a single sender when no YAML senders list is
// present; REQUEST_TIMEOUT, LARGE_ATTACHMENT_THRESHOLD_MB, CHUNK_SIZE_MB,
// MAX_AGGREGATE_ATTACHMENT_MB, SAVE_TO_SENT_ITEMS override SendOptions
// defaults. The YAML file is optional — a single sender fully described by
// environment variables is enough.
func Load() (*Config, error) {
	var raw rawConfig

	configPath := envOrDefault("CONFIG_PATH", "./mailgateway.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		RequestTimeout:             envOrDefaultDuration("REQUEST_TIMEOUT", durationOrZero(raw.Send.RequestTimeout)),
		LargeAttachmentThreshold:   envOrDefaultInt64MB("LARGE_ATTACHMENT_THRESHOLD_MB", raw.Send.LargeAttachmentThresholdMB),
		ChunkSize:                  envOrDefaultInt64MB("CHUNK_SIZE_MB", raw.Send.ChunkSizeMB),
		MaxAggregateAttachmentSize: envOrDefaultInt64MB("MAX_AGGREGATE_ATTACHMENT_MB", raw.Send.MaxAggregateAttachmentMB),
		SaveToSentItems:            envOrDefaultBool("SAVE_TO_SENT_ITEMS", raw.Send.SaveToSentItems),
		GraphBaseURL:               envOrDefault("GRAPH_BASE_URL", defaultGraphBaseURL),
	}

	for _, s := range raw.Senders {
		cfg.Senders = append(cfg.Senders, SenderConfig{
			Tag:            s.Tag,
			TenantID:       s.TenantID,
			ClientID:       s.ClientID,
			ClientSecret:   s.ClientSecret,
			MailboxAddress: s.MailboxAddress,
		})
	}

	if len(cfg.Senders) == 0 {
		if single := senderFromEnv(); single != nil {
			cfg.Senders = append(cfg.Senders, *single)
		}
	}

	if len(cfg.Senders) == 0 {
		return nil, fmt.Errorf("no sender configured — set senders in %s or TENANT_ID/CLIENT_ID/CLIENT_SECRET/MAILBOX_ADDRESS", configPath)
	}

	for i, s := range cfg.Senders {
		if s.TenantID == "" || s.ClientID == "" || s.ClientSecret == "" || s.MailboxAddress == "" {
			return nil, fmt.Errorf("sender %d (%q) missing tenant_id, client_id, client_secret, or mailbox_address", i, s.Tag)
		}
	}

	return cfg, nil
}

func senderFromEnv() *SenderConfig {
	tenant := os.Getenv("TENANT_ID")
	client := os.Getenv("CLIENT_ID")
	secret := os.Getenv("CLIENT_SECRET")
	mailbox := os.Getenv("MAILBOX_ADDRESS")
	if tenant == "" && client == "" && secret == "" && mailbox == "" {
		return nil
	}
	return &SenderConfig{TenantID: tenant, ClientID: client, ClientSecret: secret, MailboxAddress: mailbox}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrDefaultInt64MB(key string, fallbackMB int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n * 1024 * 1024
		}
	}
	if fallbackMB <= 0 {
		return 0
	}
	return fallbackMB * 1024 * 1024
}

func durationOrZero(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
