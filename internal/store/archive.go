// Package store provides the archive abstraction for finalized intakes.
//
// The archive is an append-only record of completed intake summaries. It is
// written best-effort at finalization and at follow-up delivery; it is not
// session persistence, and the conversational state machine never reads it.
package store

import (
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Archive records finalized intakes. Implementations must tolerate being
// called concurrently; all calls are best-effort from the caller's view.
type Archive interface {
	// RecordIntake appends a finalized intake.
	RecordIntake(rec models.CompletedRecord) error

	// MarkFollowUpSent stamps the user's most recent archived intake with
	// the follow-up delivery time.
	MarkFollowUpSent(userID string, at time.Time) error

	// ListIntakes returns all archived intakes, newest first.
	ListIntakes() ([]models.IntakeRecord, error)

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for archive backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for archive backends.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL DSNs
// use the postgres:// URL form or the key=value form; anything else is
// treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// NewArchive builds an archive for the given options, auto-detecting the
// backend from the DSN. An empty DSN yields a no-op archive.
func NewArchive(opts ...Option) (Archive, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("NewArchive: no DSN configured, using no-op archive")
		return NoopArchive{}, nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("NewArchive: detected PostgreSQL DSN", "dsn_type", "postgresql")
		return NewPostgresArchive(opts...)
	}
	slog.Debug("NewArchive: detected SQLite DSN", "dsn_type", "sqlite", "db_path", cfg.DSN)
	return NewSQLiteArchive(opts...)
}

// NoopArchive discards all writes. Used when no database is configured.
type NoopArchive struct{}

func (NoopArchive) RecordIntake(rec models.CompletedRecord) error {
	slog.Debug("NoopArchive dropping intake record", "userID", rec.UserID)
	return nil
}

func (NoopArchive) MarkFollowUpSent(userID string, at time.Time) error { return nil }

func (NoopArchive) ListIntakes() ([]models.IntakeRecord, error) { return nil, nil }

func (NoopArchive) Close() error { return nil }
