package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp
// client. WhatsApp has no reliable interactive buttons through this path,
// so choice prompts are rendered as numbered lists and numeric replies are
// resolved back into choice tokens through the shared choice tracker.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // full client for event handling, nil for mocks
	choices  *choiceTracker
	texts    chan models.TextEvent
	tokens   chan models.ChoiceEvent
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		choices: newChoiceTracker(),
		texts:   make(chan models.TextEvent, DefaultChannelBufferSize),
		tokens:  make(chan models.ChoiceEvent, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	go s.handleEvents(ctx)
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.texts)
	close(s.tokens)
	return nil
}

// SendMessage sends a plain text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	// A plain message supersedes any open choice panel, so later numeric
	// replies are free text again.
	s.choices.clear(to)
	return nil
}

// SendChoicePrompt sends a numbered choice panel and registers it so the
// user's next matching reply resolves into a choice event.
func (s *WhatsAppService) SendChoicePrompt(ctx context.Context, to string, body string, options []models.ChoiceOption) error {
	rendered := renderChoiceBody(body, options)
	if err := s.client.SendMessage(ctx, to, rendered); err != nil {
		slog.Error("WhatsAppService SendChoicePrompt error", "error", err, "to", to)
		return err
	}
	s.choices.offer(to, options)
	slog.Debug("WhatsAppService choice prompt sent", "to", to, "options", len(options))
	return nil
}

// DisplayName resolves the contact name from the WhatsApp contact store.
func (s *WhatsAppService) DisplayName(ctx context.Context, userID string) (string, error) {
	if s.waClient == nil {
		return "", ErrServiceStopped
	}
	return s.waClient.ContactName(ctx, userID)
}

// TextEvents returns the inbound free-text event channel.
func (s *WhatsAppService) TextEvents() <-chan models.TextEvent {
	return s.texts
}

// ChoiceEvents returns the inbound choice event channel.
func (s *WhatsAppService) ChoiceEvents() <-chan models.ChoiceEvent {
	return s.tokens
}

// handleEvents registers a whatsmeow event handler feeding the channels.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	slog.Debug("WhatsAppService handleEvents starting")
	if s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts an inbound WhatsApp message into a text or
// choice event.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	from := evt.Info.Sender.User

	// Native interactive replies carry the selection directly.
	if resp := evt.Message.GetButtonsResponseMessage(); resp != nil {
		s.emitChoice(models.ChoiceEvent{UserID: from, Token: resp.GetSelectedButtonID(), Time: evt.Info.Timestamp.Unix()})
		s.choices.clear(from)
		return
	}
	if resp := evt.Message.GetListResponseMessage(); resp != nil {
		s.emitChoice(models.ChoiceEvent{UserID: from, Token: resp.GetSingleSelectReply().GetSelectedRowID(), Time: evt.Info.Timestamp.Unix()})
		s.choices.clear(from)
		return
	}

	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		text = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	// A plain reply while a choice panel is open resolves to a selection.
	if token, ok := s.choices.resolve(from, text); ok {
		s.emitChoice(models.ChoiceEvent{UserID: from, Token: token, Time: evt.Info.Timestamp.Unix()})
		return
	}

	s.emitText(models.TextEvent{UserID: from, Body: strings.TrimSpace(text), Time: evt.Info.Timestamp.Unix()})
}

func (s *WhatsAppService) emitText(ev models.TextEvent) {
	select {
	case s.texts <- ev:
		slog.Debug("WhatsAppService text event forwarded", "from", ev.UserID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService text channel blocked, dropping event", "from", ev.UserID, "timeout", DefaultChannelTimeout)
	}
}

func (s *WhatsAppService) emitChoice(ev models.ChoiceEvent) {
	select {
	case s.tokens <- ev:
		slog.Debug("WhatsAppService choice event forwarded", "from", ev.UserID, "token", ev.Token)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService choice channel blocked, dropping event", "from", ev.UserID, "timeout", DefaultChannelTimeout)
	}
}
