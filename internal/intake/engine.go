// Package intake implements the conversational intake engine: it receives
// inbound events, validates answers against the question catalog, advances
// the per-user session, and finalizes completed intakes.
package intake

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// Commands recognized in free-text input regardless of flow position.
const (
	// CommandRegister forcibly restarts the intake from the first question.
	CommandRegister = "register"
	// CommandReset clears the user's state without starting a new intake.
	CommandReset = "reset"
)

// Default engine configuration.
const (
	// DefaultSendTimeout bounds outbound messaging calls from the event path.
	DefaultSendTimeout = 10 * time.Second
)

// User-facing fixed messages.
const (
	msgResetConfirmation = "Your registration state has been reset. Send \"register\" to start over."
	msgCompleted         = "Thank you for completing the intake questionnaire!\nIf you have any other questions, feel free to ask."
	msgAlreadyCompleted  = "Your intake is already complete. Send \"reset\" if you need to fill it in again."
	msgUseChoicePrompt   = "Please answer using the choices below."
	msgTypeAnswer        = "Please type your answer to the current question."
)

// Messenger delivers outbound messages to users. Implementations live in the
// messaging package; the engine only needs this narrow surface.
type Messenger interface {
	// SendMessage sends a plain text message.
	SendMessage(ctx context.Context, to string, body string) error

	// SendChoicePrompt sends a message together with a discrete choice panel.
	SendChoicePrompt(ctx context.Context, to string, body string, options []models.ChoiceOption) error

	// DisplayName resolves a user's display name for personalization.
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Notifier delivers the completed-intake summary to an external channel.
// Failures are logged, never propagated into the conversational flow.
type Notifier interface {
	Notify(ctx context.Context, userID, subject, body string) error
}

// Responder produces a reply for general messages from users whose intake is
// already complete. Optional; when absent a fixed message is used.
type Responder interface {
	GeneralReply(ctx context.Context, userID, text string) (string, error)
}

// Opts holds configuration options for the Engine.
type Opts struct {
	Notifier    Notifier
	Archive     store.Archive
	Responder   Responder
	SendTimeout time.Duration
	Now         func() time.Time
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithNotifier sets the summary notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithArchive sets the intake archive.
func WithArchive(a store.Archive) Option {
	return func(o *Opts) { o.Archive = a }
}

// WithResponder sets the post-completion general-message responder.
func WithResponder(r Responder) Option {
	return func(o *Opts) { o.Responder = r }
}

// WithSendTimeout bounds outbound messaging calls made from the event path.
func WithSendTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SendTimeout = d }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine is the interaction dispatcher. Events for the same user are
// serialized through a per-user lock; events for distinct users proceed in
// parallel.
type Engine struct {
	catalog   *catalog.Catalog
	store     *store.InMemoryStore
	messenger Messenger
	notifier  Notifier
	archive   store.Archive
	responder Responder

	sendTimeout time.Duration
	now         func() time.Time

	// locks holds one mutex per user seen. Entries are never evicted;
	// growth is bounded by the distinct-sender population.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an intake engine over the given catalog, store, and
// messenger.
func NewEngine(cat *catalog.Catalog, st *store.InMemoryStore, messenger Messenger, opts ...Option) *Engine {
	cfg := Opts{
		SendTimeout: DefaultSendTimeout,
		Now:         time.Now,
		Archive:     store.NoopArchive{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		catalog:     cat,
		store:       st,
		messenger:   messenger,
		notifier:    cfg.Notifier,
		archive:     cfg.Archive,
		responder:   cfg.Responder,
		sendTimeout: cfg.SendTimeout,
		now:         cfg.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockUser acquires the per-user mutex and returns its unlock function.
func (e *Engine) lockUser(userID string) func() {
	e.mu.Lock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// OnTextEvent processes an inbound free-text message. Every accepted or
// rejected input yields exactly one outbound reply.
func (e *Engine) OnTextEvent(ctx context.Context, ev models.TextEvent) error {
	if err := ev.Validate(); err != nil {
		slog.Warn("Engine.OnTextEvent: invalid event", "error", err, "userID", ev.UserID)
		return err
	}
	unlock := e.lockUser(ev.UserID)
	defer unlock()

	text := strings.TrimSpace(ev.Body)
	slog.Debug("Engine.OnTextEvent: processing", "userID", ev.UserID, "body_length", len(text))

	switch strings.ToLower(text) {
	case CommandRegister:
		return e.restart(ctx, ev.UserID)
	case CommandReset:
		e.store.ResetUser(ev.UserID)
		return e.reply(ctx, ev.UserID, msgResetConfirmation)
	}

	if e.store.IsCompleted(ev.UserID) {
		return e.replyAlreadyCompleted(ctx, ev.UserID, text)
	}

	sess := e.ensureSession(ev.UserID)
	expected := e.catalog.NextQuestion(sess.Answers)
	if expected == nil {
		// All questions answered but finalization has not run yet (e.g. the
		// catalog shrank under a live session). Finalize now.
		return e.finalize(ctx, ev.UserID, sess.Answers)
	}

	if expected.Kind == models.QuestionKindDiscreteChoice {
		slog.Debug("Engine.OnTextEvent: free text while choice expected", "userID", ev.UserID, "questionID", expected.ID)
		return e.sendChoicePrompt(ctx, ev.UserID, msgUseChoicePrompt+"\n"+expected.Prompt, expected.Options)
	}

	normalized, err := expected.Validate(text, sess.Answers)
	if err != nil {
		// Recoverable validation failure: reprompt, session unchanged.
		slog.Debug("Engine.OnTextEvent: validation failed", "userID", ev.UserID, "questionID", expected.ID, "error", err)
		return e.reply(ctx, ev.UserID, err.Error())
	}

	return e.storeAnswerAndAdvance(ctx, ev.UserID, expected.ID, normalized)
}

// OnChoiceEvent processes an inbound discrete-choice selection.
func (e *Engine) OnChoiceEvent(ctx context.Context, ev models.ChoiceEvent) error {
	if err := ev.Validate(); err != nil {
		slog.Warn("Engine.OnChoiceEvent: invalid event", "error", err, "userID", ev.UserID)
		return err
	}
	unlock := e.lockUser(ev.UserID)
	defer unlock()

	slog.Debug("Engine.OnChoiceEvent: processing", "userID", ev.UserID, "token", ev.Token)

	if e.store.IsCompleted(ev.UserID) {
		// A button press replayed after completion. No mutation.
		return e.reply(ctx, ev.UserID, msgAlreadyCompleted)
	}

	sess := e.ensureSession(ev.UserID)
	expected := e.catalog.NextQuestion(sess.Answers)
	if expected == nil {
		return e.finalize(ctx, ev.UserID, sess.Answers)
	}

	if expected.Kind != models.QuestionKindDiscreteChoice {
		slog.Debug("Engine.OnChoiceEvent: choice while free text expected", "userID", ev.UserID, "questionID", expected.ID)
		return e.reply(ctx, ev.UserID, msgTypeAnswer+"\n"+expected.Prompt)
	}

	if _, ok := expected.OptionForToken(ev.Token); !ok {
		// Unknown or stale token, likely a replayed button from an earlier
		// question. No mutation; re-offer the current choices.
		slog.Debug("Engine.OnChoiceEvent: stale or unknown token", "userID", ev.UserID, "token", ev.Token, "questionID", expected.ID)
		return e.sendChoicePrompt(ctx, ev.UserID, "Please continue with the current question.\n"+expected.Prompt, expected.Options)
	}

	return e.storeAnswerAndAdvance(ctx, ev.UserID, expected.ID, ev.Token)
}

// StartIntake begins (or restarts) the intake for a user by sending the
// first question. Used by the register command and the admin surface.
func (e *Engine) StartIntake(ctx context.Context, userID string) error {
	unlock := e.lockUser(userID)
	defer unlock()
	return e.restart(ctx, userID)
}

// Stats reports engine state for the admin surface.
func (e *Engine) Stats() models.EngineStats {
	sessions, completed := e.store.Counts()
	return models.EngineStats{ActiveSessions: sessions, PendingFollowUps: completed}
}

// restart clears any prior state and asks the first question. Caller holds
// the user lock.
func (e *Engine) restart(ctx context.Context, userID string) error {
	e.store.ResetUser(userID)
	e.store.UpsertSession(userID, nil)
	first := e.catalog.NextQuestion(map[string]string{})
	if first == nil {
		slog.Error("Engine.restart: catalog has no askable questions", "userID", userID)
		return models.ErrEmptyCatalog
	}
	slog.Info("Engine.restart: intake started", "userID", userID, "questionID", first.ID)
	return e.askQuestion(ctx, userID, first)
}

// ensureSession creates the session if absent and returns a snapshot.
func (e *Engine) ensureSession(userID string) *models.Session {
	e.store.UpsertSession(userID, nil)
	sess, _ := e.store.GetSession(userID)
	return sess
}

// storeAnswerAndAdvance records a validated answer, then either asks the
// next eligible question or finalizes the session. Caller holds the user
// lock.
func (e *Engine) storeAnswerAndAdvance(ctx context.Context, userID, questionID, value string) error {
	e.store.UpsertSession(userID, func(s *models.Session) {
		s.Answers[questionID] = value
	})
	slog.Debug("Engine: answer stored", "userID", userID, "questionID", questionID)

	sess, _ := e.store.GetSession(userID)
	next := e.catalog.NextQuestion(sess.Answers)
	if next == nil {
		return e.finalize(ctx, userID, sess.Answers)
	}
	return e.askQuestion(ctx, userID, next)
}

// askQuestion emits the prompt for a question in the form its kind requires.
func (e *Engine) askQuestion(ctx context.Context, userID string, q *catalog.QuestionDef) error {
	if q.Kind == models.QuestionKindDiscreteChoice {
		return e.sendChoicePrompt(ctx, userID, q.Prompt, q.Options)
	}
	return e.reply(ctx, userID, q.Prompt)
}

// replyAlreadyCompleted answers a general message from a completed user.
// The flow is never re-entered; with a responder configured the reply is
// generated, otherwise a fixed message is sent.
func (e *Engine) replyAlreadyCompleted(ctx context.Context, userID, text string) error {
	if e.responder != nil {
		replyText, err := e.responder.GeneralReply(ctx, userID, text)
		if err == nil && replyText != "" {
			return e.reply(ctx, userID, replyText)
		}
		if err != nil {
			slog.Warn("Engine.replyAlreadyCompleted: responder failed, using fixed message", "error", err, "userID", userID)
		}
	}
	return e.reply(ctx, userID, msgAlreadyCompleted)
}

// reply sends one outbound text message with a bounded timeout.
func (e *Engine) reply(ctx context.Context, userID, body string) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if err := e.messenger.SendMessage(sendCtx, userID, body); err != nil {
		slog.Error("Engine.reply: send failed", "error", err, "userID", userID)
		return err
	}
	return nil
}

// sendChoicePrompt sends one outbound choice prompt with a bounded timeout.
func (e *Engine) sendChoicePrompt(ctx context.Context, userID, body string, options []models.ChoiceOption) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if err := e.messenger.SendChoicePrompt(sendCtx, userID, body, options); err != nil {
		slog.Error("Engine.sendChoicePrompt: send failed", "error", err, "userID", userID)
		return err
	}
	return nil
}
