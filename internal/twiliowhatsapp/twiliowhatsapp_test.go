package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Errorf("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123")); err == nil {
		t.Errorf("expected error without auth token")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Errorf("expected error without from number")
	}
}

func TestNewClient_OptionsComplete(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	client, err := NewClient(
		WithAccountSID("AC123"),
		WithAuthToken("tok"),
		WithFromWhats("whatsapp:+15551234567"),
	)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if client.fromWhats != "whatsapp:+15551234567" {
		t.Errorf("fromWhats = %q", client.fromWhats)
	}
}

func TestNewClient_EnvFallback(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC456")
	t.Setenv("TWILIO_AUTH_TOKEN", "envtok")
	t.Setenv("TWILIO_FROM_NUMBER", "whatsapp:+15550000000")

	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if client.fromWhats != "whatsapp:+15550000000" {
		t.Errorf("fromWhats = %q", client.fromWhats)
	}
}

func TestMockClient_RecordsMessages(t *testing.T) {
	mock := NewMockClient()

	if err := mock.SendMessage(context.Background(), "819012345678", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 recorded message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "819012345678" || mock.SentMessages[0].Body != "hello" {
		t.Errorf("unexpected recorded message %+v", mock.SentMessages[0])
	}
}
