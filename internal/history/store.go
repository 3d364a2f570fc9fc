package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// timestampLayout sorts lexically in UTC.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// ErrAddressRequired is returned when a call is missing the device address.
var ErrAddressRequired = errors.New("history: device address is required")

// Entry is one recorded property change.
type Entry struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	Kind      string    `json:"kind"`
	Property  string    `json:"property"`
	Value     any       `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Store implements the bridge's change recorder on top of the
// state_history table.
type Store struct {
	db  *sql.DB
	now func() time.Time
	log Logger
}

// NewStore creates a store over an open database whose migrations have run.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetLogger sets the logger used by RunPruner.
func (s *Store) SetLogger(l Logger) { s.log = l }

// RecordChange inserts one property change. value is stored as JSON.
func (s *Store) RecordChange(ctx context.Context, address, kind, name string, value any, at time.Time) error {
	if address == "" {
		return ErrAddressRequired
	}
	if name == "" {
		return fmt.Errorf("history: property name is required")
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}
	if at.IsZero() {
		at = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO state_history (address, kind, property, value, created_at) VALUES (?, ?, ?, ?, ?)",
		address,
		kind,
		name,
		string(encoded),
		at.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns the newest changes for a device, newest first. A
// non-empty property narrows the result to that property. limit defaults
// to 50 and is capped at 500.
func (s *Store) History(ctx context.Context, address, property string, limit int) ([]Entry, error) {
	if address == "" {
		return nil, ErrAddressRequired
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `SELECT id, address, kind, property, value, created_at
		 FROM state_history
		 WHERE address = ?`
	args := []any{address}
	if property != "" {
		query += " AND property = ?"
		args = append(args, property)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var value, createdAt string
		if err := rows.Scan(&e.ID, &e.Address, &e.Kind, &e.Property, &value, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes changes older than olderThan and returns how many rows
// went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := s.now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := s.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// RunPruner prunes once immediately and then every interval until ctx is
// done.
func (s *Store) RunPruner(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.pruneOnce(ctx, retention)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Store) pruneOnce(ctx context.Context, retention time.Duration) {
	n, err := s.Prune(ctx, retention)
	if s.log == nil {
		return
	}
	if err != nil {
		s.log.Error("pruning state history failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("pruned state history", "rows", n, "retention", retention.String())
	}
}
