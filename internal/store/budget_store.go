package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/overseer/internal/budget"
)

// BudgetStore persists budget guard state as a single msgpack blob.
type BudgetStore struct {
	db *DB
}

// NewBudgetStore creates a budget store on the given database.
func NewBudgetStore(db *DB) *BudgetStore {
	return &BudgetStore{db: db}
}

// Save overwrites the persisted budget state.
func (s *BudgetStore) Save(state *budget.State) error {
	body, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode budget state: %w", err)
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO budget_state (id, body, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		body, time.Now().UnixMilli(),
	)
	return err
}

// Load returns the persisted budget state, or nil when none exists.
func (s *BudgetStore) Load() (*budget.State, error) {
	var body []byte
	err := s.db.conn.QueryRow(`SELECT body FROM budget_state WHERE id = 1`).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load budget state: %w", err)
	}

	var state budget.State
	if err := msgpack.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decode budget state: %w", err)
	}
	return &state, nil
}
