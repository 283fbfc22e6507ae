// Package store provides storage backends for IntakePipe.
//
// This file implements the PostgreSQL-backed intake archive.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresArchive persists finalized intakes in PostgreSQL.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive creates a new Postgres archive based on provided options.
func NewPostgresArchive(opts ...Option) (*PostgresArchive, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresArchive invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresArchive DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresArchive{db: db}, nil
}

// RecordIntake appends a finalized intake.
func (a *PostgresArchive) RecordIntake(rec models.CompletedRecord) error {
	_, err := a.db.Exec(`INSERT INTO intakes (user_id, summary_text, finished_at) VALUES ($1, $2, $3)`,
		rec.UserID, rec.SummaryText, rec.FinishedAt)
	if err != nil {
		slog.Error("PostgresArchive RecordIntake failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to insert intake for %s: %w", rec.UserID, err)
	}
	slog.Debug("PostgresArchive RecordIntake succeeded", "userID", rec.UserID)
	return nil
}

// MarkFollowUpSent stamps the user's most recent archived intake.
func (a *PostgresArchive) MarkFollowUpSent(userID string, at time.Time) error {
	_, err := a.db.Exec(`
		UPDATE intakes SET follow_up_sent_at = $1
		WHERE id = (SELECT id FROM intakes WHERE user_id = $2 ORDER BY finished_at DESC LIMIT 1)`,
		at, userID)
	if err != nil {
		slog.Error("PostgresArchive MarkFollowUpSent failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to mark follow-up for %s: %w", userID, err)
	}
	slog.Debug("PostgresArchive MarkFollowUpSent succeeded", "userID", userID)
	return nil
}

// ListIntakes returns all archived intakes, newest first.
func (a *PostgresArchive) ListIntakes() ([]models.IntakeRecord, error) {
	rows, err := a.db.Query(`SELECT id, user_id, summary_text, finished_at, follow_up_sent_at FROM intakes ORDER BY finished_at DESC`)
	if err != nil {
		slog.Error("PostgresArchive ListIntakes query failed", "error", err)
		return nil, fmt.Errorf("failed to query intakes: %w", err)
	}
	defer rows.Close()

	var intakes []models.IntakeRecord
	for rows.Next() {
		rec, err := scanIntake(rows)
		if err != nil {
			slog.Error("PostgresArchive ListIntakes scan failed", "error", err)
			return nil, err
		}
		intakes = append(intakes, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresArchive ListIntakes rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate intake rows: %w", err)
	}
	slog.Debug("PostgresArchive ListIntakes succeeded", "count", len(intakes))
	return intakes, nil
}

// Close closes the Postgres connection pool.
func (a *PostgresArchive) Close() error {
	slog.Debug("Closing Postgres archive connection")
	return a.db.Close()
}

// scanIntake scans an IntakeRecord from sql.Rows.
func scanIntake(rows *sql.Rows) (models.IntakeRecord, error) {
	var rec models.IntakeRecord
	var followUpAt sql.NullTime
	if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SummaryText, &rec.FinishedAt, &followUpAt); err != nil {
		return rec, fmt.Errorf("scan intake failed: %w", err)
	}
	if followUpAt.Valid {
		rec.FollowUpSentAt = &followUpAt.Time
	}
	return rec, nil
}
