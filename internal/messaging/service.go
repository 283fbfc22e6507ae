// Package messaging provides the pluggable message transport abstraction for
// IntakePipe and the routing of inbound events into the intake engine.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Constants for messaging service configuration.
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound event channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex strips every non-digit character during canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction. It supports
// sending plain messages and discrete-choice prompts, resolving display
// names, and provides channels for inbound text and choice events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Each transport implements its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendChoicePrompt sends a message with a discrete choice panel. The
	// options payload is rendered by the transport.
	SendChoicePrompt(ctx context.Context, to string, body string, options []models.ChoiceOption) error

	// DisplayName resolves a user's display name for personalization.
	// Transports without a contact store return an error; callers fall
	// back to a generic placeholder.
	DisplayName(ctx context.Context, userID string) (string, error)

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// TextEvents returns a channel of inbound free-text events.
	TextEvents() <-chan models.TextEvent

	// ChoiceEvents returns a channel of inbound discrete-choice events.
	ChoiceEvents() <-chan models.ChoiceEvent
}

// canonicalizePhone validates and canonicalizes a phone-number-style
// recipient shared by the WhatsApp and Twilio transports. It removes all
// non-numeric characters and requires at least 6 digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found in recipient " + strconv.Quote(recipient))
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: " + strconv.Quote(canonical) + " is too short (minimum 6 digits required)")
	}
	return canonical, nil
}

// renderChoiceBody renders a choice prompt as a numbered list for transports
// without native button support.
func renderChoiceBody(body string, options []models.ChoiceOption) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	for i, opt := range options {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(opt.Label)
	}
	b.WriteString("\n\nReply with the number of your choice.")
	return b.String()
}

// choiceTracker remembers the most recent choice panel offered to each user
// so that a plain reply can be resolved back into a choice token. Transports
// without interactive buttons share it.
type choiceTracker struct {
	mu      sync.Mutex
	pending map[string][]models.ChoiceOption
}

func newChoiceTracker() *choiceTracker {
	return &choiceTracker{pending: make(map[string][]models.ChoiceOption)}
}

// offer records the choice panel currently open for a user.
func (t *choiceTracker) offer(userID string, options []models.ChoiceOption) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[userID] = options
}

// resolve maps a reply to a pending option token. A numeric reply selects by
// position; otherwise the reply is matched against tokens and labels
// case-insensitively. On a match the pending panel is cleared.
func (t *choiceTracker) resolve(userID, reply string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	options, ok := t.pending[userID]
	if !ok {
		return "", false
	}
	reply = strings.TrimSpace(reply)
	if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(options) {
		delete(t.pending, userID)
		return options[n-1].Token, true
	}
	for _, opt := range options {
		if strings.EqualFold(reply, opt.Token) || strings.EqualFold(reply, opt.Label) {
			delete(t.pending, userID)
			return opt.Token, true
		}
	}
	return "", false
}

// clear drops any pending panel for a user.
func (t *choiceTracker) clear(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, userID)
}
