package journal

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(maxEvents int) *Journal {
	return New(Config{MaxEvents: maxEvents}, nil, zerolog.Nop())
}

func TestEmit_RequiresDomain(t *testing.T) {
	j := newTestJournal(10)

	_, err := j.Emit("", "changed", nil, EmitOptions{})
	assert.Error(t, err)
	assert.Equal(t, int64(0), j.Seq())
}

func TestEmit_BumpsVersionAndSeq(t *testing.T) {
	j := newTestJournal(10)

	ev1, err := j.Emit("market", "price_update", map[string]any{"symbol": "AAPL"}, EmitOptions{})
	require.NoError(t, err)
	ev2, err := j.Emit("market", "price_update", nil, EmitOptions{})
	require.NoError(t, err)
	ev3, err := j.Emit("health", "cpu_high", nil, EmitOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), ev1.Version)
	assert.Equal(t, int64(2), ev2.Version)
	assert.Equal(t, int64(1), ev3.Version)
	assert.Equal(t, int64(3), ev3.Seq)
	assert.Equal(t, int64(3), j.Seq())
}

func TestEmit_PayloadSummaryNotRaw(t *testing.T) {
	j := newTestJournal(10)

	ev, err := j.Emit("market", "refresh", map[string]any{"symbol": "AAPL"}, EmitOptions{})
	require.NoError(t, err)
	assert.Nil(t, ev.Payload)
	assert.Contains(t, ev.Summary, "AAPL")

	stored, err := j.Emit("market", "refresh", map[string]any{"symbol": "MSFT"}, EmitOptions{StorePayload: true})
	require.NoError(t, err)
	assert.NotNil(t, stored.Payload)
}

func TestEmit_SummaryCapped(t *testing.T) {
	j := New(Config{MaxEvents: 10, SummaryCap: 16}, nil, zerolog.Nop())

	big := make(map[string]any)
	big["data"] = string(make([]byte, 1024))
	ev, err := j.Emit("market", "bulk", big, EmitOptions{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ev.Summary), 16+len("…"))
}

func TestEmit_RingEviction(t *testing.T) {
	j := newTestJournal(3)

	for i := 0; i < 5; i++ {
		_, err := j.Emit("goals", "edited", nil, EmitOptions{})
		require.NoError(t, err)
	}

	events := j.RecentEvents(0)
	require.Len(t, events, 3)
	// Newest first; oldest surviving event is seq 3.
	assert.Equal(t, int64(5), events[0].Seq)
	assert.Equal(t, int64(3), events[2].Seq)
	// Versions are unaffected by eviction.
	assert.Equal(t, int64(5), j.Versions()["goals"])
}

func TestDiffVersions(t *testing.T) {
	j := newTestJournal(50)

	before := j.Versions()
	domains := []string{"market", "health", "market", "news", "market", "health"}
	for _, d := range domains {
		_, err := j.Emit(d, "changed", nil, EmitOptions{})
		require.NoError(t, err)
	}

	// Deduplicated set of touched domains, independent of call counts.
	assert.Equal(t, []string{"health", "market", "news"}, j.DiffVersions(before))

	// Missing entries are treated as version zero.
	assert.Equal(t, []string{"health", "market", "news"}, j.DiffVersions(map[string]int64{}))

	// A fully caught-up vector diffs to nothing.
	assert.Empty(t, j.DiffVersions(j.Versions()))
}

func TestEventsSinceSeq(t *testing.T) {
	j := newTestJournal(50)
	for i := 0; i < 6; i++ {
		_, err := j.Emit("market", "tick", nil, EmitOptions{})
		require.NoError(t, err)
	}

	events := j.EventsSinceSeq(3, 0)
	require.Len(t, events, 3)
	assert.Equal(t, int64(6), events[0].Seq)
	assert.Equal(t, int64(4), events[2].Seq)

	limited := j.EventsSinceSeq(0, 2)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(6), limited[0].Seq)
	assert.Equal(t, int64(5), limited[1].Seq)

	assert.Empty(t, j.EventsSinceSeq(6, 0))
}

func TestSubscribe_DomainScopedAndGlobal(t *testing.T) {
	j := newTestJournal(50)

	var mu sync.Mutex
	var domainSeen, globalSeen []string

	j.Subscribe("market", ObserverFunc(func(ev *ChangeEvent) {
		mu.Lock()
		domainSeen = append(domainSeen, ev.Type)
		mu.Unlock()
	}))
	j.SubscribeAll(ObserverFunc(func(ev *ChangeEvent) {
		mu.Lock()
		globalSeen = append(globalSeen, ev.Domain)
		mu.Unlock()
	}))

	_, err := j.Emit("market", "a", nil, EmitOptions{})
	require.NoError(t, err)
	_, err = j.Emit("health", "b", nil, EmitOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, domainSeen)
	assert.Equal(t, []string{"market", "health"}, globalSeen)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	j := newTestJournal(50)

	count := 0
	cancel := j.SubscribeAll(ObserverFunc(func(ev *ChangeEvent) { count++ }))

	_, err := j.Emit("market", "a", nil, EmitOptions{})
	require.NoError(t, err)
	cancel()
	_, err = j.Emit("market", "b", nil, EmitOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, count)
}

// failingStore always errors; emits must still succeed in memory.
type failingStore struct{}

func (failingStore) Append(ev *ChangeEvent) error               { return errors.New("disk full") }
func (failingStore) Trim(minSeq int64) error                    { return errors.New("disk full") }
func (failingStore) Load(maxEvents int) (*PersistedState, error) { return nil, nil }

func TestEmit_PersistenceFailureSwallowed(t *testing.T) {
	j := New(Config{MaxEvents: 10}, failingStore{}, zerolog.Nop())

	ev, err := j.Emit("market", "tick", nil, EmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, int64(1), j.Versions()["market"])
}

func TestGetSnapshot(t *testing.T) {
	j := newTestJournal(10)
	_, err := j.Emit("market", "tick", nil, EmitOptions{})
	require.NoError(t, err)

	snap := j.GetSnapshot()
	assert.Equal(t, int64(1), snap.Seq)
	assert.Equal(t, 1, snap.EventCount)
	assert.Equal(t, int64(1), snap.Versions["market"])
	assert.False(t, snap.LastUpdated.IsZero())

	// Snapshot versions are a copy, not a live reference.
	snap.Versions["market"] = 99
	assert.Equal(t, int64(1), j.Versions()["market"])
}
