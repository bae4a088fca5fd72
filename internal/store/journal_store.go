package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/overseer/internal/journal"
)

// eventBody is the msgpack-encoded portion of a persisted event.
type eventBody struct {
	Summary string `msgpack:"summary"`
	Payload any    `msgpack:"payload,omitempty"`
}

// JournalStore persists journal state in SQLite.
type JournalStore struct {
	db *DB
}

// NewJournalStore creates a journal store on the given database.
func NewJournalStore(db *DB) *JournalStore {
	return &JournalStore{db: db}
}

// Append writes an event, its domain version, and the global sequence
// in a single transaction.
func (s *JournalStore) Append(ev *journal.ChangeEvent) error {
	body, err := msgpack.Marshal(eventBody{Summary: ev.Summary, Payload: ev.Payload})
	if err != nil {
		return fmt.Errorf("encode event body: %w", err)
	}

	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO journal_events (seq, id, ts, domain, type, version, source, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Seq, ev.ID, ev.Timestamp.UnixMilli(), ev.Domain, ev.Type, ev.Version, ev.Source, body,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO journal_versions (domain, version) VALUES (?, ?)
		 ON CONFLICT(domain) DO UPDATE SET version = excluded.version`,
		ev.Domain, ev.Version,
	); err != nil {
		return fmt.Errorf("upsert version: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO journal_meta (key, value) VALUES ('seq', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		ev.Seq,
	); err != nil {
		return fmt.Errorf("upsert seq: %w", err)
	}

	return tx.Commit()
}

// Trim deletes persisted events older than minSeq.
func (s *JournalStore) Trim(minSeq int64) error {
	_, err := s.db.conn.Exec(`DELETE FROM journal_events WHERE seq < ?`, minSeq)
	return err
}

// Load hydrates the persisted journal state. Returns nil when no state
// has ever been written.
func (s *JournalStore) Load(maxEvents int) (*journal.PersistedState, error) {
	var seq int64
	err := s.db.conn.QueryRow(`SELECT value FROM journal_meta WHERE key = 'seq'`).Scan(&seq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load seq: %w", err)
	}

	state := &journal.PersistedState{
		Versions: make(map[string]int64),
		Seq:      seq,
	}

	rows, err := s.db.conn.Query(`SELECT domain, version FROM journal_versions`)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var domain string
		var version int64
		if err := rows.Scan(&domain, &version); err != nil {
			return nil, err
		}
		state.Versions[domain] = version
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	evRows, err := s.db.conn.Query(
		`SELECT seq, id, ts, domain, type, version, source, body
		 FROM journal_events ORDER BY seq DESC LIMIT ?`, maxEvents)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer evRows.Close()

	var events []*journal.ChangeEvent
	for evRows.Next() {
		var ev journal.ChangeEvent
		var ts int64
		var body []byte
		if err := evRows.Scan(&ev.Seq, &ev.ID, &ts, &ev.Domain, &ev.Type, &ev.Version, &ev.Source, &body); err != nil {
			return nil, err
		}
		ev.Timestamp = time.UnixMilli(ts).UTC()
		if len(body) > 0 {
			var b eventBody
			if err := msgpack.Unmarshal(body, &b); err == nil {
				ev.Summary = b.Summary
				ev.Payload = b.Payload
			}
		}
		events = append(events, &ev)
	}
	if err := evRows.Err(); err != nil {
		return nil, err
	}

	// Rows come newest-first, the journal wants oldest-first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	state.Events = events

	return state, nil
}
