package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestNewSMTPNotifier_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		ok   bool
	}{
		{
			name: "complete config",
			opts: []Option{WithHost("mail.example.com"), WithFrom("intake@example.com"), WithRecipients("ops@example.com")},
			ok:   true,
		},
		{
			name: "missing host",
			opts: []Option{WithFrom("intake@example.com"), WithRecipients("ops@example.com")},
			ok:   false,
		},
		{
			name: "missing from",
			opts: []Option{WithHost("mail.example.com"), WithRecipients("ops@example.com")},
			ok:   false,
		},
		{
			name: "no recipients",
			opts: []Option{WithHost("mail.example.com"), WithFrom("intake@example.com")},
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSMTPNotifier(tt.opts...)
			if (err == nil) != tt.ok {
				t.Errorf("NewSMTPNotifier ok=%v, want %v (err=%v)", err == nil, tt.ok, err)
			}
		})
	}
}

func TestNotify_SendsBuiltMessage(t *testing.T) {
	n, err := NewSMTPNotifier(
		WithHost("mail.example.com"),
		WithPort(587),
		WithFrom("intake@example.com"),
		WithRecipients("ops@example.com", "oncall@example.com"),
	)
	if err != nil {
		t.Fatalf("NewSMTPNotifier returned error: %v", err)
	}

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := n.Notify(context.Background(), "819012345678", "Intake completed: Taro", "summary body"); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if gotAddr != "mail.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "intake@example.com" || len(gotTo) != 2 {
		t.Errorf("envelope = %q -> %v", gotFrom, gotTo)
	}
	msg := string(gotMsg)
	for _, want := range []string{"Subject: Intake completed: Taro", "To: ops@example.com, oncall@example.com", "summary body"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestNotify_PropagatesSendFailure(t *testing.T) {
	n, err := NewSMTPNotifier(WithHost("mail.example.com"), WithFrom("a@b.c"), WithRecipients("d@e.f"))
	if err != nil {
		t.Fatalf("NewSMTPNotifier returned error: %v", err)
	}
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("connection refused")
	}
	if err := n.Notify(context.Background(), "u1", "s", "b"); err == nil {
		t.Errorf("expected error from failing send")
	}
}

func TestNotify_AbandonedOnContextCancel(t *testing.T) {
	n, err := NewSMTPNotifier(WithHost("mail.example.com"), WithFrom("a@b.c"), WithRecipients("d@e.f"))
	if err != nil {
		t.Fatalf("NewSMTPNotifier returned error: %v", err)
	}
	release := make(chan struct{})
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		<-release
		return nil
	}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := n.Notify(ctx, "u1", "s", "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestMockNotifier(t *testing.T) {
	mock := &MockNotifier{}
	if err := mock.Notify(context.Background(), "u1", "subject", "body"); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if len(mock.Sent) != 1 || mock.Sent[0].Subject != "subject" {
		t.Errorf("unexpected recorded notifications %v", mock.Sent)
	}
}
