package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound messages arrive through the webhook handler rather than a live
// connection, so Start is a no-op. Twilio's Go SDK has no WhatsApp button
// support, so choice prompts use the numbered-list rendering and replies are
// resolved through the choice tracker.
type TwilioService struct {
	client  twiliowhatsapp.Sender // Could be real Twilio client or MockClient
	choices *choiceTracker
	texts   chan models.TextEvent
	tokens  chan models.ChoiceEvent
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService around the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:  client,
		choices: newChoiceTracker(),
		texts:   make(chan models.TextEvent, DefaultChannelBufferSize),
		tokens:  make(chan models.ChoiceEvent, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number. It removes all non-numeric characters and validates the
// result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio (inbound traffic arrives via webhook).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.texts)
		close(s.tokens)
	}()

	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	// A plain message supersedes any open choice panel, so later numeric
	// replies are free text again.
	s.choices.clear(canonicalTo)
	return nil
}

// SendChoicePrompt sends a numbered choice panel and registers it so the
// user's next matching reply resolves into a choice event.
func (s *TwilioService) SendChoicePrompt(ctx context.Context, to string, body string, options []models.ChoiceOption) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendChoicePrompt validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, canonicalTo, renderChoiceBody(body, options)); err != nil {
		return err
	}
	s.choices.offer(canonicalTo, options)
	slog.Debug("TwilioService choice prompt sent", "to", canonicalTo, "options", len(options))
	return nil
}

// DisplayName is unsupported on Twilio; there is no contact store.
func (s *TwilioService) DisplayName(ctx context.Context, userID string) (string, error) {
	return "", fmt.Errorf("display name lookup not supported by Twilio transport")
}

// TextEvents returns the channel of inbound free-text events.
func (s *TwilioService) TextEvents() <-chan models.TextEvent {
	return s.texts
}

// ChoiceEvents returns the channel of inbound choice events.
func (s *TwilioService) ChoiceEvents() <-chan models.ChoiceEvent {
	return s.tokens
}

// WebhookHandler handles inbound Twilio webhook requests. It parses incoming
// messages and emits them as text or choice events.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from, "body", body)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	from = strings.TrimPrefix(from, "whatsapp:")

	slog.Info("Inbound WhatsApp message from Twilio", "from", from, "body", body)

	now := time.Now().Unix()

	// Interactive template replies carry the selection as ButtonPayload.
	if payload := r.FormValue("ButtonPayload"); payload != "" {
		s.safeEmitChoice(models.ChoiceEvent{UserID: from, Token: payload, Time: now})
		s.choices.clear(from)
	} else if canonical, err := canonicalizePhone(from); err == nil {
		// A plain reply while a choice panel is open resolves to a selection.
		if token, ok := s.choices.resolve(canonical, body); ok {
			s.safeEmitChoice(models.ChoiceEvent{UserID: from, Token: token, Time: now})
		} else {
			s.safeEmitText(models.TextEvent{UserID: from, Body: body, Time: now})
		}
	} else {
		s.safeEmitText(models.TextEvent{UserID: from, Body: body, Time: now})
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// safeEmitText pushes a text event unless the service has stopped.
func (s *TwilioService) safeEmitText(ev models.TextEvent) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound text event (service stopped)", "from", ev.UserID)
		return
	}

	select {
	case s.texts <- ev:
		slog.Debug("TwilioService emitted inbound text event", "from", ev.UserID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService text channel blocked, dropping message", "from", ev.UserID)
	}
}

// safeEmitChoice pushes a choice event unless the service has stopped.
func (s *TwilioService) safeEmitChoice(ev models.ChoiceEvent) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound choice event (service stopped)", "from", ev.UserID)
		return
	}

	select {
	case s.tokens <- ev:
		slog.Debug("TwilioService emitted inbound choice event", "from", ev.UserID, "token", ev.Token)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService choice channel blocked, dropping message", "from", ev.UserID)
	}
}
