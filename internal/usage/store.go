// Package usage records per-exchange LLM token consumption in a local
// SQLite database for cost accounting.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one generation's token accounting.
type Record struct {
	ID               string
	Timestamp        time.Time
	UserID           uuid.UUID
	CharacterID      uuid.UUID
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Summary aggregates token counts over a set of records.
type Summary struct {
	Requests         int
	PromptTokens     int
	CompletionTokens int
}

// Store is an append-only usage ledger backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS usage (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	character_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_user ON usage(user_id);
CREATE INDEX IF NOT EXISTS idx_usage_character ON usage(character_id);
`

// Open creates or opens the usage database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "usage")}, nil
}

// Record appends one usage row. A zero ID gets a generated UUID and a
// zero timestamp gets the current time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage (id, ts, user_id, character_id, provider, model, prompt_tokens, completion_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.Unix(), rec.UserID.String(), rec.CharacterID.String(),
		rec.Provider, rec.Model, rec.PromptTokens, rec.CompletionTokens)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summarize totals all recorded usage.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0) FROM usage`)
	var sum Summary
	if err := row.Scan(&sum.Requests, &sum.PromptTokens, &sum.CompletionTokens); err != nil {
		return Summary{}, fmt.Errorf("summarize usage: %w", err)
	}
	return sum, nil
}

// SummarizeUser totals recorded usage for one user.
func (s *Store) SummarizeUser(ctx context.Context, userID uuid.UUID) (Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		 FROM usage WHERE user_id = ?`, userID.String())
	var sum Summary
	if err := row.Scan(&sum.Requests, &sum.PromptTokens, &sum.CompletionTokens); err != nil {
		return Summary{}, fmt.Errorf("summarize usage for %s: %w", userID, err)
	}
	return sum, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
