// Package followup delivers the deferred follow-up push to users whose
// intake completed before a wall-clock cutoff.
//
// The timed tick and the administrative manual trigger both enqueue a
// delivery-pass task onto one serialized worker that owns the drain of the
// completed registry, so concurrent triggers can never double-send.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/store"
)

// Default configuration for the follow-up service.
const (
	// DefaultSendTimeout bounds each outbound push.
	DefaultSendTimeout = 10 * time.Second
	// DefaultTemplate is the fixed follow-up message. It takes the display
	// name as its single argument and is independent of the form answers.
	DefaultTemplate = "Hello %s, thank you again for completing your intake yesterday. How are you feeling today? If anything has changed, please let us know."
	// taskBuffer sizes the task queue; triggers arriving while a pass is
	// queued coalesce into it.
	taskBuffer = 1
)

// Messenger is the outbound surface the follow-up service needs.
type Messenger interface {
	SendMessage(ctx context.Context, to string, body string) error
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Opts holds configuration options for the Service.
type Opts struct {
	Archive     store.Archive
	SendTimeout time.Duration
	TestWindow  time.Duration
	Now         func() time.Time
	Template    string
}

// Option defines a configuration option for the Service.
type Option func(*Opts)

// WithArchive sets the archive stamped on delivery.
func WithArchive(a store.Archive) Option {
	return func(o *Opts) { o.Archive = a }
}

// WithSendTimeout bounds each outbound push.
func WithSendTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SendTimeout = d }
}

// WithTestWindow switches the cutoff from the production day boundary to a
// short same-day dwell window (records older than d become eligible).
func WithTestWindow(d time.Duration) Option {
	return func(o *Opts) { o.TestWindow = d }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithTemplate overrides the follow-up message template.
func WithTemplate(t string) Option {
	return func(o *Opts) { o.Template = t }
}

// Service runs follow-up delivery passes over the completed registry.
type Service struct {
	store     *store.InMemoryStore
	messenger Messenger
	archive   store.Archive

	sendTimeout time.Duration
	testWindow  time.Duration
	now         func() time.Time
	template    string

	tasks chan struct{}
	done  chan struct{}
}

// NewService creates a follow-up service over the given store and messenger.
func NewService(st *store.InMemoryStore, messenger Messenger, opts ...Option) *Service {
	cfg := Opts{
		Archive:     store.NoopArchive{},
		SendTimeout: DefaultSendTimeout,
		Now:         time.Now,
		Template:    DefaultTemplate,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		store:       st,
		messenger:   messenger,
		archive:     cfg.Archive,
		sendTimeout: cfg.SendTimeout,
		testWindow:  cfg.TestWindow,
		now:         cfg.Now,
		template:    cfg.Template,
		tasks:       make(chan struct{}, taskBuffer),
		done:        make(chan struct{}),
	}
}

// Start launches the single delivery worker. Call once.
func (s *Service) Start(ctx context.Context) {
	slog.Info("FollowUp service starting delivery worker")
	go func() {
		defer slog.Info("FollowUp delivery worker stopped")
		for {
			select {
			case <-s.tasks:
				s.runPass(ctx)
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the delivery worker.
func (s *Service) Stop() {
	close(s.done)
}

// Trigger enqueues a delivery pass. Safe to call from the cron tick and the
// administrative endpoint concurrently; a trigger arriving while one is
// already queued coalesces into it.
func (s *Service) Trigger() {
	select {
	case s.tasks <- struct{}{}:
		slog.Debug("FollowUp delivery pass enqueued")
	default:
		slog.Debug("FollowUp delivery pass already queued, coalescing trigger")
	}
}

// Cutoff computes the eligibility boundary for a pass starting at now. In
// production mode a record is eligible only if it finished before today
// began, i.e. at or before 23:59:59 of the previous calendar day, giving a
// deterministic once-daily batch. In test mode the boundary is a short
// same-day dwell window.
func (s *Service) Cutoff(now time.Time) time.Time {
	if s.testWindow > 0 {
		return now.Add(-s.testWindow)
	}
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).Add(-time.Nanosecond)
}

// runPass drains eligible records and pushes the follow-up message for
// each. Records are removed before dispatch is attempted; a failed outbound
// call is logged and never retried, so each record is delivered at most
// once.
func (s *Service) runPass(ctx context.Context) {
	now := s.now()
	cutoff := s.Cutoff(now)
	due := s.store.DrainDue(cutoff)
	slog.Info("FollowUp delivery pass", "eligible", len(due), "cutoff", cutoff)

	for _, rec := range due {
		s.deliver(ctx, rec.UserID, now)
	}
}

// deliver sends one follow-up push, best effort.
func (s *Service) deliver(ctx context.Context, userID string, now time.Time) {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	name, err := s.messenger.DisplayName(sendCtx, userID)
	if err != nil || name == "" {
		slog.Debug("FollowUp display name lookup failed, using placeholder", "userID", userID, "error", err)
		name = "there"
	}

	body := fmt.Sprintf(s.template, name)
	if err := s.messenger.SendMessage(sendCtx, userID, body); err != nil {
		slog.Error("FollowUp push failed, not retrying", "error", err, "userID", userID)
		return
	}
	slog.Info("FollowUp push delivered", "userID", userID)

	if err := s.archive.MarkFollowUpSent(userID, now); err != nil {
		slog.Error("FollowUp archive stamp failed", "error", err, "userID", userID)
	}
}
