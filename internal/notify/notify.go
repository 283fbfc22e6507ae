// Package notify delivers operator notifications when an intake completes.
//
// Delivery is best effort; a failed notification is logged and never blocks
// or fails the intake itself.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
)

// Notifier delivers a completion notice to the operator channel.
type Notifier interface {
	Notify(ctx context.Context, userID, subject, body string) error
}

// Opts holds configuration options for the SMTP notifier.
type Opts struct {
	Host     string
	Port     int
	From     string
	To       []string
	Username string
	Password string
}

// Option defines a configuration option for the SMTP notifier.
type Option func(*Opts)

// WithHost sets the SMTP server host.
func WithHost(host string) Option {
	return func(o *Opts) { o.Host = host }
}

// WithPort sets the SMTP server port.
func WithPort(port int) Option {
	return func(o *Opts) { o.Port = port }
}

// WithFrom sets the envelope sender address.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithRecipients sets the operator recipient addresses.
func WithRecipients(to ...string) Option {
	return func(o *Opts) { o.To = to }
}

// WithAuth sets plain-auth credentials. Without credentials the notifier
// sends unauthenticated, which suits local relays.
func WithAuth(username, password string) Option {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// SMTPNotifier sends completion notices by email.
type SMTPNotifier struct {
	opts Opts
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier creates an SMTP notifier. Host, from, and at least one
// recipient are required.
func NewSMTPNotifier(opts ...Option) (*SMTPNotifier, error) {
	cfg := Opts{Port: 25}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("sender address must be provided")
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("at least one recipient must be provided")
	}
	slog.Debug("SMTP notifier initialized", "host", cfg.Host, "port", cfg.Port, "recipients", len(cfg.To))
	return &SMTPNotifier{opts: cfg, send: smtp.SendMail}, nil
}

// Notify sends one completion notice. The context bounds the attempt; a
// cancelled context abandons the send and reports the context error.
func (n *SMTPNotifier) Notify(ctx context.Context, userID, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port)
	var auth smtp.Auth
	if n.opts.Username != "" {
		auth = smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
	}

	msg := buildMessage(n.opts.From, n.opts.To, subject, body)

	// net/smtp has no context support; run the send in a goroutine and let
	// the context abandon the wait.
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.send(addr, auth, n.opts.From, n.opts.To, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("SMTP notification failed", "error", err, "userID", userID)
			return fmt.Errorf("failed to send notification for %s: %w", userID, err)
		}
		slog.Info("SMTP notification sent", "userID", userID, "subject", subject)
		return nil
	case <-ctx.Done():
		slog.Warn("SMTP notification abandoned", "userID", userID, "error", ctx.Err())
		return ctx.Err()
	}
}

// buildMessage assembles a minimal RFC 5322 message.
func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// MockNotifier records notifications for tests.
type MockNotifier struct {
	mu   sync.Mutex
	Sent []MockNotification
	Fail error
}

// MockNotification records one Notify invocation.
type MockNotification struct {
	UserID  string
	Subject string
	Body    string
}

func (m *MockNotifier) Notify(ctx context.Context, userID, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Sent = append(m.Sent, MockNotification{UserID: userID, Subject: subject, Body: body})
	return nil
}
