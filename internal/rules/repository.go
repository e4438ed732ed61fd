package rules

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StateStore persists whether each rule should be running.
type StateStore interface {
	Load(ctx context.Context) (map[string]bool, error)
	Save(ctx context.Context, id string, active bool) error
}

// SQLiteStateStore keeps rule states in the rule_states table.
type SQLiteStateStore struct {
	db *sql.DB
}

// NewSQLiteStateStore creates a store on an open, migrated database.
func NewSQLiteStateStore(db *sql.DB) *SQLiteStateStore {
	return &SQLiteStateStore{db: db}
}

// Load returns the saved state of every rule that has one.
func (s *SQLiteStateStore) Load(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT rule_id, active FROM rule_states")
	if err != nil {
		return nil, fmt.Errorf("querying rule states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]bool)
	for rows.Next() {
		var id string
		var active int
		if err := rows.Scan(&id, &active); err != nil {
			return nil, fmt.Errorf("scanning rule state: %w", err)
		}
		states[id] = active == 1
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rule states: %w", err)
	}
	return states, nil
}

// Save upserts the state of one rule.
func (s *SQLiteStateStore) Save(ctx context.Context, id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_states (rule_id, active, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(rule_id) DO UPDATE SET active = excluded.active, updated_at = excluded.updated_at`,
		id, v, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving rule state %s: %w", id, err)
	}
	return nil
}
