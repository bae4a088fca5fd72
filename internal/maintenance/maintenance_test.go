package maintenance

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/overseer/internal/budget"
	"github.com/aristath/overseer/internal/dispatch"
	"github.com/aristath/overseer/internal/journal"
	"github.com/aristath/overseer/internal/store"
)

func newTestDispatcher(t *testing.T) (*dispatch.Dispatcher, *dispatch.Registry) {
	t.Helper()
	reg := dispatch.NewRegistry()
	guard := budget.New(budget.Limits{}, nil, zerolog.Nop())
	j := journal.New(journal.Config{MaxEvents: 50}, nil, zerolog.Nop())
	d := dispatch.New(dispatch.Config{Registry: reg, Budget: guard, Journal: j, Log: zerolog.Nop()})
	return d, reg
}

func TestRegisterHandlers(t *testing.T) {
	db, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	defer db.Close()

	_, reg := newTestDispatcher(t)
	RegisterHandlers(reg, db, nil)

	assert.True(t, reg.Has(KindStoreMaintenance))
	// Backup kind is only offered when a backup service exists.
	assert.False(t, reg.Has(KindStoreBackup))
}

func TestStoreMaintenanceHandler(t *testing.T) {
	db, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	defer db.Close()

	d, reg := newTestDispatcher(t)
	RegisterHandlers(reg, db, nil)

	res := d.Enqueue(&dispatch.Job{Kind: KindStoreMaintenance, DedupeKey: KindStoreMaintenance})
	require.True(t, res.Accepted)

	require.Eventually(t, func() bool {
		s := d.GetStatus()
		return s.BackgroundQueue == 0 && s.BackgroundRunning == ""
	}, 2*time.Second, 5*time.Millisecond)
	d.Wait()
}

func TestServiceStartStop(t *testing.T) {
	d, _ := newTestDispatcher(t)
	svc := New(d, zerolog.Nop())

	// Both schedule constants must parse; backup entry included.
	require.NoError(t, svc.Start(true))
	svc.Stop()
}
