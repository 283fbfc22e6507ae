package messaging

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/whatsapp"
)

// Ensure WhatsAppService implements Service interface
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppService_SendMessage(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)

	if err := svc.SendMessage(context.Background(), "819012345678", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mockClient.SentMessages) != 1 || mockClient.SentMessages[0].Body != "hello" {
		t.Errorf("expected one recorded message, got %v", mockClient.SentMessages)
	}
}

func TestWhatsAppService_SendChoicePromptRendersAndTracks(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	options := []models.ChoiceOption{
		{Token: "yes", Label: "Yes"},
		{Token: "no", Label: "No"},
	}

	if err := svc.SendChoicePrompt(context.Background(), "819012345678", "Any allergies?", options); err != nil {
		t.Fatalf("SendChoicePrompt returned error: %v", err)
	}
	if len(mockClient.SentMessages) != 1 {
		t.Fatalf("expected one outbound message, got %d", len(mockClient.SentMessages))
	}
	body := mockClient.SentMessages[0].Body
	if !strings.Contains(body, "1. Yes") || !strings.Contains(body, "2. No") {
		t.Errorf("expected numbered options, got %q", body)
	}

	// The user's numeric reply now resolves into the token.
	token, ok := svc.choices.resolve("819012345678", "2")
	if !ok || token != "no" {
		t.Errorf("expected reply to resolve to token, got (%q, %v)", token, ok)
	}
}

func TestWhatsAppService_PlainMessageSupersedesChoicePanel(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	options := []models.ChoiceOption{
		{Token: "yes", Label: "Yes"},
		{Token: "no", Label: "No"},
	}

	if err := svc.SendChoicePrompt(context.Background(), "819012345678", "Any allergies?", options); err != nil {
		t.Fatalf("SendChoicePrompt returned error: %v", err)
	}
	// A plain message (e.g. a reset confirmation) closes the open panel.
	if err := svc.SendMessage(context.Background(), "819012345678", "Your registration state has been reset."); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if token, ok := svc.choices.resolve("819012345678", "1"); ok {
		t.Errorf("expected stale panel cleared, but %q resolved to %q", "1", token)
	}
}

func TestWhatsAppService_ValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	got, err := svc.ValidateAndCanonicalizeRecipient("+81 90-1234-5678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "819012345678" {
		t.Errorf("canonical = %q, want 819012345678", got)
	}
	if _, err := svc.ValidateAndCanonicalizeRecipient("abc"); err == nil {
		t.Errorf("expected error for non-numeric recipient")
	}
}

// Test Start and Stop do not error and close channels
func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	// After Stop, both event channels should be closed
	if _, ok := <-svc.TextEvents(); ok {
		t.Errorf("expected text events channel closed")
	}
	if _, ok := <-svc.ChoiceEvents(); ok {
		t.Errorf("expected choice events channel closed")
	}
}

func TestWhatsAppService_DisplayNameWithoutFullClient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if _, err := svc.DisplayName(context.Background(), "819012345678"); err == nil {
		t.Errorf("expected error without a full client")
	}
}
