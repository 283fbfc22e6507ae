package intake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// mockMessenger records outbound traffic for assertions.
type mockMessenger struct {
	mu       sync.Mutex
	Messages []mockMessage
	FailSend error
}

type mockMessage struct {
	To      string
	Body    string
	Options []models.ChoiceOption // nil for plain messages
}

func (m *mockMessenger) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend != nil {
		return m.FailSend
	}
	m.Messages = append(m.Messages, mockMessage{To: to, Body: body})
	return nil
}

func (m *mockMessenger) SendChoicePrompt(ctx context.Context, to string, body string, options []models.ChoiceOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend != nil {
		return m.FailSend
	}
	m.Messages = append(m.Messages, mockMessage{To: to, Body: body, Options: options})
	return nil
}

func (m *mockMessenger) DisplayName(ctx context.Context, userID string) (string, error) {
	return "", errors.New("no contact store")
}

func (m *mockMessenger) last() (mockMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return mockMessage{}, false
	}
	return m.Messages[len(m.Messages)-1], true
}

func (m *mockMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// mockNotifier records completion notifications.
type mockNotifier struct {
	mu       sync.Mutex
	Notified []string // subjects
	Fail     error
}

func (n *mockNotifier) Notify(ctx context.Context, userID, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Fail != nil {
		return n.Fail
	}
	n.Notified = append(n.Notified, subject)
	return nil
}

// mockArchive records archive writes.
type mockArchive struct {
	mu       sync.Mutex
	Recorded []models.CompletedRecord
	Fail     error
}

func (a *mockArchive) RecordIntake(rec models.CompletedRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Fail != nil {
		return a.Fail
	}
	a.Recorded = append(a.Recorded, rec)
	return nil
}

func (a *mockArchive) MarkFollowUpSent(userID string, at time.Time) error { return nil }

func (a *mockArchive) ListIntakes() ([]models.IntakeRecord, error) { return nil, nil }

func (a *mockArchive) Close() error { return nil }

// mockResponder returns a canned general reply.
type mockResponder struct {
	Reply string
	Fail  error
}

func (r *mockResponder) GeneralReply(ctx context.Context, userID, text string) (string, error) {
	if r.Fail != nil {
		return "", r.Fail
	}
	return r.Reply, nil
}
