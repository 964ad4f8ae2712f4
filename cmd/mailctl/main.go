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

// mailctl — command-line front-end for the mail gateway.
//
// Usage:
//
//	mailctl send --to a@x.io,b@y.io --subject "Hi" --body "Hello" [--html] [--attach file1,file2] [--sender tag]
//	mailctl receive [--sender tag]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bcem/mailgateway"
	"github.com/bcem/mailgateway/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	switch os.Args[1] {
	case "send":
		runSend(ctx, cfg, os.Args[2:])
	case "receive":
		runReceive(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mailctl <send|receive> [flags]")
}

// senderFor resolves a SenderConfig by tag, or the first configured
// sender when tag is empty. It never logs the client secret — only the
// tenant and client ids identify the sender in logs.
func senderFor(cfg *config.Config, tag string) (*mailgateway.Sender, error) {
	var sc *config.SenderConfig
	for i := range cfg.Senders {
		if tag == "" || cfg.Senders[i].Tag == tag {
			sc = &cfg.Senders[i]
			break
		}
	}
	if sc == nil {
		return nil, fmt.Errorf("no configured sender matches tag %q", tag)
	}

	slog.Info("constructing sender", "tenant_id", sc.TenantID, "client_id", sc.ClientID, "mailbox", sc.MailboxAddress)

	return mailgateway.New(mailgateway.AuthConfig{
		TenantID:      sc.TenantID,
		ClientID:      sc.ClientID,
		ClientSecret:  sc.ClientSecret,
		DefaultSender: sc.MailboxAddress,
	}, mailgateway.WithGraphBaseURL(cfg.GraphBaseURL))
}

func runSend(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "comma-separated primary recipients (required)")
	cc := fs.String("cc", "", "comma-separated cc recipients")
	bcc := fs.String("bcc", "", "comma-separated bcc recipients")
	subject := fs.String("subject", "", "message subject")
	body := fs.String("body", "", "message body")
	html := fs.Bool("html", false, "treat body as HTML")
	attach := fs.String("attach", "", "comma-separated file paths to attach")
	sender := fs.String("sender", "", "sender tag from configuration (default: first configured)")
	_ = fs.Parse(args)

	if *to == "" {
		slog.Error("--to is required")
		os.Exit(1)
	}

	s, err := senderFor(cfg, *sender)
	if err != nil {
		slog.Error("failed to construct sender", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	env := mailgateway.MailEnvelope{
		To:      splitList(*to),
		Cc:      splitList(*cc),
		Bcc:     splitList(*bcc),
		Subject: *subject,
		Body:    *body,
		IsHTML:  *html,
	}
	for _, path := range splitList(*attach) {
		env.Attachments = append(env.Attachments, mailgateway.EmailAttachment{
			FileName: filepathBase(path),
			FilePath: path,
		})
	}

	opts := mailgateway.DefaultSendOptions()
	opts.RequestTimeout = cfg.RequestTimeout
	opts.SaveToSentItems = cfg.SaveToSentItems
	if cfg.LargeAttachmentThreshold > 0 {
		opts.LargeAttachmentThreshold = cfg.LargeAttachmentThreshold
	}
	if cfg.ChunkSize > 0 {
		opts.ChunkSize = cfg.ChunkSize
	}
	if cfg.MaxAggregateAttachmentSize > 0 {
		opts.MaxAggregateAttachmentSize = cfg.MaxAggregateAttachmentSize
	}

	if err := s.SendEmail(ctx, env, opts); err != nil {
		slog.Error("send failed", "error", err)
		os.Exit(1)
	}
	slog.Info("send succeeded")
}

func runReceive(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	sender := fs.String("sender", "", "sender tag from configuration (default: first configured)")
	mailbox := fs.String("mailbox", "", "mailbox override (default: sender's own mailbox)")
	_ = fs.Parse(args)

	s, err := senderFor(cfg, *sender)
	if err != nil {
		slog.Error("failed to construct sender", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	messages, err := s.ReceiveUnread(ctx, *mailbox)
	if err != nil {
		slog.Error("receive failed", "error", err)
		os.Exit(1)
	}

	slog.Info("received messages", "count", len(messages))
	for _, m := range messages {
		fmt.Printf("%s\t%s\t%s\n", m.ID, m.ReceivedDateTime, m.Subject)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func filepathBase(path string) string {
	if idx := strings.LastIndexAny(path, `/\`); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
