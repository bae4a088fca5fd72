package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/overseer/internal/budget"
	"github.com/aristath/overseer/internal/journal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"journal_events", "journal_versions", "journal_meta", "budget_state"} {
		var name string
		err := db.Conn().QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestJournalStore_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	s := NewJournalStore(db)

	// Nothing persisted yet.
	state, err := s.Load(100)
	require.NoError(t, err)
	assert.Nil(t, state)

	now := time.Now().UTC().Truncate(time.Millisecond)
	events := []*journal.ChangeEvent{
		{ID: "a", Seq: 1, Timestamp: now, Domain: "market", Type: "price_update", Version: 1, Summary: `{"symbol":"AAPL"}`, Source: "feed"},
		{ID: "b", Seq: 2, Timestamp: now, Domain: "market", Type: "price_update", Version: 2},
		{ID: "c", Seq: 3, Timestamp: now, Domain: "health", Type: "cpu_high", Version: 1, Payload: map[string]any{"percent": 93.5}},
	}
	for _, ev := range events {
		require.NoError(t, s.Append(ev))
	}

	state, err = s.Load(100)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(3), state.Seq)
	assert.Equal(t, int64(2), state.Versions["market"])
	assert.Equal(t, int64(1), state.Versions["health"])

	require.Len(t, state.Events, 3)
	// Oldest first.
	assert.Equal(t, int64(1), state.Events[0].Seq)
	assert.Equal(t, "a", state.Events[0].ID)
	assert.Equal(t, now, state.Events[0].Timestamp)
	assert.Equal(t, `{"symbol":"AAPL"}`, state.Events[0].Summary)
	assert.Equal(t, "feed", state.Events[0].Source)
	assert.NotNil(t, state.Events[2].Payload)
}

func TestJournalStore_LoadRespectsMaxEvents(t *testing.T) {
	db := openTestDB(t)
	s := NewJournalStore(db)

	now := time.Now().UTC()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Append(&journal.ChangeEvent{
			ID: "id", Seq: i, Timestamp: now, Domain: "market", Type: "tick", Version: i,
		}))
	}

	state, err := s.Load(2)
	require.NoError(t, err)
	require.Len(t, state.Events, 2)
	// The newest two survive the cap, oldest first.
	assert.Equal(t, int64(4), state.Events[0].Seq)
	assert.Equal(t, int64(5), state.Events[1].Seq)
	assert.Equal(t, int64(5), state.Seq)
}

func TestJournalStore_Trim(t *testing.T) {
	db := openTestDB(t)
	s := NewJournalStore(db)

	now := time.Now().UTC()
	for i := int64(1); i <= 4; i++ {
		require.NoError(t, s.Append(&journal.ChangeEvent{
			ID: "id", Seq: i, Timestamp: now, Domain: "market", Type: "tick", Version: i,
		}))
	}
	require.NoError(t, s.Trim(3))

	state, err := s.Load(100)
	require.NoError(t, err)
	require.Len(t, state.Events, 2)
	assert.Equal(t, int64(3), state.Events[0].Seq)
}

func TestJournal_PersistsThroughStore(t *testing.T) {
	db := openTestDB(t)
	s := NewJournalStore(db)

	j := journal.New(journal.Config{MaxEvents: 50}, s, zerolog.Nop())
	_, err := j.Emit("market", "price_update", map[string]any{"symbol": "AAPL"}, journal.EmitOptions{Source: "feed"})
	require.NoError(t, err)
	_, err = j.Emit("goals", "edited", nil, journal.EmitOptions{})
	require.NoError(t, err)

	// A fresh journal on the same store sees the same state.
	restarted := journal.New(journal.Config{MaxEvents: 50}, s, zerolog.Nop())
	require.NoError(t, restarted.Load())
	assert.Equal(t, int64(2), restarted.Seq())
	assert.Equal(t, int64(1), restarted.Versions()["market"])
	assert.Equal(t, int64(1), restarted.Versions()["goals"])

	events := restarted.RecentEvents(0)
	require.Len(t, events, 2)
	assert.Equal(t, "edited", events[0].Type)
	assert.Contains(t, events[1].Summary, "AAPL")
}

func TestBudgetStore_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	s := NewBudgetStore(db)

	// Nothing persisted yet.
	state, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, state)

	in := &budget.State{
		Limits:  budget.Limits{BackgroundHourlyTokens: 12000, BackgroundDailyTokens: 100000},
		HourKey: "2026-03-01T10",
		DayKey:  "2026-03-01",
		Background: budget.ClassUsage{
			HourlyTokens: 8000, DailyTokens: 25000, LaunchesHour: 3, LaunchesDay: 11,
		},
		Reservations: map[string]budget.Reservation{
			"job-1": {
				JobClass:        budget.ClassBackground,
				EstimatedTokens: 3000,
				ReservedAt:      time.Now().UTC().Truncate(time.Second),
				HourKey:         "2026-03-01T10",
				DayKey:          "2026-03-01",
			},
		},
		LastUpdated: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.Save(in))

	out, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Limits, out.Limits)
	assert.Equal(t, in.HourKey, out.HourKey)
	assert.Equal(t, in.Background, out.Background)
	require.Contains(t, out.Reservations, "job-1")
	assert.Equal(t, 3000, out.Reservations["job-1"].EstimatedTokens)

	// Save overwrites in place; there is only ever one row.
	in.Background.HourlyTokens = 9000
	require.NoError(t, s.Save(in))
	out, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, out.Background.HourlyTokens)
}

func TestSnapshotTo(t *testing.T) {
	db := openTestDB(t)
	s := NewJournalStore(db)
	require.NoError(t, s.Append(&journal.ChangeEvent{
		ID: "a", Seq: 1, Timestamp: time.Now().UTC(), Domain: "market", Type: "tick", Version: 1,
	}))

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, db.SnapshotTo(context.Background(), dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// The snapshot is a complete, openable database.
	snap, err := Open(Config{Path: dest})
	require.NoError(t, err)
	defer snap.Close()
	state, err := NewJournalStore(snap).Load(10)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(1), state.Seq)
}

func TestVacuum(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Vacuum(context.Background()))
}
