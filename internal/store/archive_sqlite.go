// Package store provides storage backends for IntakePipe.
//
// This file implements the SQLite-backed intake archive.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteArchive persists finalized intakes in a SQLite database file.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive creates a new SQLite archive with the given DSN. The DSN
// is a file path; the containing directory is created if missing.
func NewSQLiteArchive(opts ...Option) (*SQLiteArchive, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteArchive invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteArchive DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteArchive{db: db}, nil
}

// RecordIntake appends a finalized intake.
func (a *SQLiteArchive) RecordIntake(rec models.CompletedRecord) error {
	_, err := a.db.Exec(`INSERT INTO intakes (user_id, summary_text, finished_at) VALUES (?, ?, ?)`,
		rec.UserID, rec.SummaryText, rec.FinishedAt)
	if err != nil {
		slog.Error("SQLiteArchive RecordIntake failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to insert intake for %s: %w", rec.UserID, err)
	}
	slog.Debug("SQLiteArchive RecordIntake succeeded", "userID", rec.UserID)
	return nil
}

// MarkFollowUpSent stamps the user's most recent archived intake.
func (a *SQLiteArchive) MarkFollowUpSent(userID string, at time.Time) error {
	_, err := a.db.Exec(`
		UPDATE intakes SET follow_up_sent_at = ?
		WHERE id = (SELECT id FROM intakes WHERE user_id = ? ORDER BY finished_at DESC LIMIT 1)`,
		at, userID)
	if err != nil {
		slog.Error("SQLiteArchive MarkFollowUpSent failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to mark follow-up for %s: %w", userID, err)
	}
	slog.Debug("SQLiteArchive MarkFollowUpSent succeeded", "userID", userID)
	return nil
}

// ListIntakes returns all archived intakes, newest first.
func (a *SQLiteArchive) ListIntakes() ([]models.IntakeRecord, error) {
	rows, err := a.db.Query(`SELECT id, user_id, summary_text, finished_at, follow_up_sent_at FROM intakes ORDER BY finished_at DESC`)
	if err != nil {
		slog.Error("SQLiteArchive ListIntakes query failed", "error", err)
		return nil, fmt.Errorf("failed to query intakes: %w", err)
	}
	defer rows.Close()

	var intakes []models.IntakeRecord
	for rows.Next() {
		rec, err := scanIntake(rows)
		if err != nil {
			slog.Error("SQLiteArchive ListIntakes scan failed", "error", err)
			return nil, err
		}
		intakes = append(intakes, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteArchive ListIntakes rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate intake rows: %w", err)
	}
	slog.Debug("SQLiteArchive ListIntakes succeeded", "count", len(intakes))
	return intakes, nil
}

// Close closes the SQLite database connection.
func (a *SQLiteArchive) Close() error {
	slog.Debug("Closing SQLite archive connection")
	return a.db.Close()
}
