// Package api provides HTTP handlers and the main API server logic for IntakePipe.
//
// It exposes RESTful endpoints for starting intakes, inspecting state, and
// triggering administrative actions. The API integrates with the messaging,
// intake, follow-up, scheduler, and store modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/followup"
	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/intake"
	"github.com/BTreeMap/IntakePipe/internal/lockfile"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/notify"
	"github.com/BTreeMap/IntakePipe/internal/scheduler"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/IntakePipe/internal/whatsapp"
)

// Default configuration for the API server.
const (
	// DefaultAddr is the default API listen address.
	DefaultAddr = ":8080"
	// DefaultFollowUpCron fires the daily follow-up delivery pass at 09:00.
	DefaultFollowUpCron = "0 9 * * *"
	// DefaultStateDir is the default directory for IntakePipe state data.
	DefaultStateDir = "/var/lib/intakepipe"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr         string
	FollowUpCron string
	StateDir     string
	TestWindow   time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithFollowUpCron overrides the cron expression for the daily follow-up
// delivery pass.
func WithFollowUpCron(expr string) Option {
	return func(o *Opts) { o.FollowUpCron = expr }
}

// WithStateDir sets the state directory used for the instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithTestWindow switches follow-up eligibility from the production day
// boundary to a short same-day dwell window (manual testing).
func WithTestWindow(d time.Duration) Option {
	return func(o *Opts) { o.TestWindow = d }
}

// Server holds the wired modules behind the HTTP surface.
type Server struct {
	engine     *intake.Engine
	followup   *followup.Service
	st         *store.InMemoryStore
	archive    store.Archive
	msgService messaging.Service
	twilio     *messaging.TwilioService // non-nil only on the Twilio transport
	addr       string
}

// NewServer wires the HTTP surface over already-constructed modules.
func NewServer(engine *intake.Engine, fup *followup.Service, st *store.InMemoryStore, archive store.Archive, msgService messaging.Service, addr string) *Server {
	s := &Server{
		engine:     engine,
		followup:   fup,
		st:         st,
		archive:    archive,
		msgService: msgService,
		addr:       addr,
	}
	if tw, ok := msgService.(*messaging.TwilioService); ok {
		s.twilio = tw
	}
	return s
}

// routes builds the HTTP mux for the server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/intake/start", s.startIntakeHandler)
	mux.HandleFunc("/intakes", s.intakesHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/admin/reset", s.resetHandler)
	mux.HandleFunc("/admin/followup", s.followUpHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if s.twilio != nil {
		mux.HandleFunc("/webhook/twilio", s.twilio.WebhookHandler)
	}
	return mux
}

// Run bootstraps the full service: instance lock, stores, transport, engine,
// follow-up scheduler, and HTTP server. It blocks until SIGINT/SIGTERM.
func Run(waOpts []whatsapp.Option, archiveOpts []store.Option, genaiOpts []genai.Option, notifyOpts []notify.Option, apiOpts []Option) error {
	cfg := Opts{
		Addr:         DefaultAddr,
		FollowUpCron: DefaultFollowUpCron,
		StateDir:     DefaultStateDir,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	slog.Debug("API Run options applied", "addr", cfg.Addr, "followup_cron", cfg.FollowUpCron, "state_dir", cfg.StateDir, "test_window", cfg.TestWindow)

	// Guard against concurrent instances sharing the state directory.
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	defer lock.Release()

	st := store.NewInMemoryStore()

	archive, err := store.NewArchive(archiveOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize intake archive: %w", err)
	}
	defer archive.Close()

	msgService, err := buildMessagingService(waOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging service: %w", err)
	}

	cat, err := catalog.DefaultIntakeCatalog()
	if err != nil {
		return fmt.Errorf("failed to build question catalog: %w", err)
	}

	engineOpts := []intake.Option{intake.WithArchive(archive)}

	if notifier := buildNotifier(notifyOpts); notifier != nil {
		engineOpts = append(engineOpts, intake.WithNotifier(notifier))
	}
	if responder := buildResponder(genaiOpts); responder != nil {
		engineOpts = append(engineOpts, intake.WithResponder(responder))
	}

	engine := intake.NewEngine(cat, st, msgService, engineOpts...)

	fupOpts := []followup.Option{followup.WithArchive(archive)}
	if cfg.TestWindow > 0 {
		slog.Warn("Follow-up running in test-window mode", "window", cfg.TestWindow)
		fupOpts = append(fupOpts, followup.WithTestWindow(cfg.TestWindow))
	}
	fup := followup.NewService(st, msgService, fupOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msgService.Stop()

	router := messaging.NewEventRouter(msgService, engine)
	router.Start(ctx)

	fup.Start(ctx)
	defer fup.Stop()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(cfg.FollowUpCron, fup.Trigger); err != nil {
		return fmt.Errorf("failed to schedule follow-up job %q: %w", cfg.FollowUpCron, err)
	}
	slog.Info("Follow-up delivery pass scheduled", "cron", cfg.FollowUpCron)

	server := NewServer(engine, fup, st, archive, msgService, cfg.Addr)
	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("IntakePipe API running", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping API server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
		return err
	}
	slog.Info("IntakePipe API stopped")
	return nil
}

// buildMessagingService selects the transport. Twilio credentials in the
// environment select the Twilio webhook transport; otherwise a live
// Whatsmeow connection is established.
func buildMessagingService(waOpts []whatsapp.Option) (messaging.Service, error) {
	if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
		slog.Info("Twilio credentials detected, using Twilio transport")
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	}

	slog.Info("Using WhatsApp (whatsmeow) transport")
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	return messaging.NewWhatsAppService(client), nil
}

// buildNotifier constructs the SMTP notifier when configured. Notification is
// best effort, so construction failures degrade to no notifier.
func buildNotifier(notifyOpts []notify.Option) intake.Notifier {
	if len(notifyOpts) == 0 {
		slog.Debug("No notifier configured")
		return nil
	}
	notifier, err := notify.NewSMTPNotifier(notifyOpts...)
	if err != nil {
		slog.Warn("SMTP notifier unavailable, continuing without notifications", "error", err)
		return nil
	}
	return notifier
}

// buildResponder constructs the GenAI courtesy responder when an API key is
// available. Without one the engine falls back to fixed wording.
func buildResponder(genaiOpts []genai.Option) intake.Responder {
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Info("GenAI responder unavailable, using fixed replies", "error", err)
		return nil
	}
	return genai.NewResponder(client)
}
