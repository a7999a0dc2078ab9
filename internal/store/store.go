// Package store persists finished-call summaries to SQLite so operators can
// review recent calls without scraping logs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/outdial/internal/config"
	"github.com/haasonsaas/outdial/internal/session"
)

// Record is one persisted call summary row.
type Record struct {
	ID               string    `json:"id"`
	Room             string    `json:"room"`
	Destination      string    `json:"destination,omitempty"`
	ParticipantID    string    `json:"participant_id,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	EndedAt          time.Time `json:"ended_at"`
	DurationSeconds  float64   `json:"duration_seconds"`
	UserTurnCount    int       `json:"user_turn_count"`
	IntroductionDone bool      `json:"introduction_done"`
	EscalationLevel  int       `json:"escalation_level"`
	Topics           []string  `json:"topics,omitempty"`
	EndReason        string    `json:"end_reason"`
}

// Store wraps the summaries database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at cfg.Path and migrates the schema.
// An empty path opens an in-memory database.
func Open(cfg config.StoreConfig) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// sqlite has a single writer, and a :memory: database exists per
	// connection, so the pool must stay at one.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS call_summaries (
			id TEXT PRIMARY KEY,
			room TEXT NOT NULL,
			destination TEXT,
			participant_id TEXT,
			started_at DATETIME,
			ended_at DATETIME NOT NULL,
			duration_seconds REAL NOT NULL,
			user_turn_count INTEGER NOT NULL,
			introduction_done INTEGER NOT NULL,
			escalation_level INTEGER NOT NULL,
			topics TEXT,
			end_reason TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("store: create call_summaries table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_call_summaries_ended ON call_summaries(ended_at)",
		"CREATE INDEX IF NOT EXISTS idx_call_summaries_room ON call_summaries(room)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("store: create index: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes one finished-call summary and returns its id.
func (s *Store) Save(ctx context.Context, sum session.Summary, endedAt time.Time) (string, error) {
	id := uuid.NewString()

	topics, err := json.Marshal(sum.Topics)
	if err != nil {
		return "", fmt.Errorf("store: marshal topics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO call_summaries (
			id, room, destination, participant_id, started_at, ended_at,
			duration_seconds, user_turn_count, introduction_done,
			escalation_level, topics, end_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		sum.Room,
		nullString(sum.Destination),
		nullString(sum.ParticipantID),
		nullTime(sum.StartedAt),
		endedAt.UTC(),
		sum.Duration,
		sum.UserTurnCount,
		sum.IntroductionDone,
		sum.EscalationLevel,
		string(topics),
		string(sum.EndReason),
	)
	if err != nil {
		return "", fmt.Errorf("store: insert summary for %s: %w", sum.Room, err)
	}
	return id, nil
}

// ListRecent returns the most recently ended calls, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room, destination, participant_id, started_at, ended_at,
		       duration_seconds, user_turn_count, introduction_done,
		       escalation_level, topics, end_reason
		FROM call_summaries
		ORDER BY ended_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query summaries: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate summaries: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var destination, participantID sql.NullString
	var startedAt sql.NullTime
	var topicsJSON string

	err := rows.Scan(
		&rec.ID,
		&rec.Room,
		&destination,
		&participantID,
		&startedAt,
		&rec.EndedAt,
		&rec.DurationSeconds,
		&rec.UserTurnCount,
		&rec.IntroductionDone,
		&rec.EscalationLevel,
		&topicsJSON,
		&rec.EndReason,
	)
	if err != nil {
		return Record{}, fmt.Errorf("store: scan summary row: %w", err)
	}

	rec.Destination = destination.String
	rec.ParticipantID = participantID.String
	if startedAt.Valid {
		rec.StartedAt = startedAt.Time
	}
	if topicsJSON != "" {
		if err := json.Unmarshal([]byte(topicsJSON), &rec.Topics); err != nil {
			return Record{}, fmt.Errorf("store: unmarshal topics: %w", err)
		}
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
