package commands

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenops/greenops/internal/server/models"
	"github.com/greenops/greenops/internal/server/settings"
	"github.com/greenops/greenops/internal/server/storage"
)

func newTestQueue(t *testing.T) (*Queue, *storage.Store) {
	t.Helper()
	store, err := storage.OpenInMemory(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	settingsStore := settings.NewStore(store, time.Minute, zerolog.Nop())
	return NewQueue(store, settingsStore, zerolog.Nop()), store
}

func seedMachine(t *testing.T, store *storage.Store, lastSeen *time.Time) *models.Machine {
	t.Helper()
	m := &models.Machine{
		ID:              uuid.NewString(),
		MACAddress:      "mac-" + uuid.NewString(),
		Hostname:        "host",
		OSType:          "linux",
		LastSeen:        lastSeen,
		Status:          models.StatusOnline,
		EnergyWastedKWH: "0",
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.InsertMachine(m))
	return m
}

func TestEnqueuePollReport(t *testing.T) {
	q, store := newTestQueue(t)
	now := time.Now().UTC()
	m := seedMachine(t, store, &now)

	id, err := q.Enqueue(m.ID, models.CommandSleep, "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	pending, err := q.Poll(m.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, models.CommandSleep, pending[0].Kind)

	// Polling does not consume; a retried poll sees the same command.
	again, err := q.Poll(m.ID)
	require.NoError(t, err)
	assert.Len(t, again, 1)

	require.NoError(t, q.ReportResult(id, m.ID, models.CommandExecuted, "suspended"))

	done, err := store.GetCommand(id)
	require.NoError(t, err)
	require.NotNil(t, done.ExecutedAt)
	assert.Equal(t, time.UTC, done.ExecutedAt.Location())

	empty, err := q.Poll(m.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEnqueue_UnknownKind(t *testing.T) {
	q, store := newTestQueue(t)
	now := time.Now().UTC()
	m := seedMachine(t, store, &now)

	_, err := q.Enqueue(m.ID, models.CommandKind("reboot"), "admin")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestEnqueue_UnknownMachine(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue("no-such-machine", models.CommandSleep, "admin")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEnqueue_OfflineMachineRefused(t *testing.T) {
	q, store := newTestQueue(t)
	stale := time.Now().UTC().Add(-time.Hour)
	m := seedMachine(t, store, &stale)

	_, err := q.Enqueue(m.ID, models.CommandShutdown, "admin")
	assert.ErrorIs(t, err, models.ErrConflict)

	never := seedMachine(t, store, nil)
	_, err = q.Enqueue(never.ID, models.CommandSleep, "admin")
	assert.ErrorIs(t, err, models.ErrConflict)
}

// An idle machine still has a live agent, so commands are accepted.
func TestEnqueue_IdleMachineAccepted(t *testing.T) {
	q, store := newTestQueue(t)
	now := time.Now().UTC()
	m := seedMachine(t, store, &now)
	_, err := store.UpdateMachine(m.ID, func(stored *models.Machine) error {
		stored.IdleSeconds = 7200
		return nil
	})
	require.NoError(t, err)

	_, err = q.Enqueue(m.ID, models.CommandSleep, "admin")
	assert.NoError(t, err)
}

func TestEnqueue_SecondCommandDisplacesFirst(t *testing.T) {
	q, store := newTestQueue(t)
	now := time.Now().UTC()
	m := seedMachine(t, store, &now)

	first, err := q.Enqueue(m.ID, models.CommandSleep, "admin")
	require.NoError(t, err)
	second, err := q.Enqueue(m.ID, models.CommandShutdown, "admin")
	require.NoError(t, err)

	pending, err := q.Poll(m.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)

	displaced, err := store.GetCommand(first)
	require.NoError(t, err)
	assert.Equal(t, models.CommandExpired, displaced.Status)
}

func TestReportResult_Validation(t *testing.T) {
	q, store := newTestQueue(t)
	now := time.Now().UTC()
	m := seedMachine(t, store, &now)

	id, err := q.Enqueue(m.ID, models.CommandSleep, "admin")
	require.NoError(t, err)

	err = q.ReportResult(id, m.ID, models.CommandPending, "")
	assert.ErrorIs(t, err, models.ErrValidation)
	err = q.ReportResult(id, m.ID, models.CommandExpired, "")
	assert.ErrorIs(t, err, models.ErrValidation)

	// Double report: the second is a clean not-found, not a state change.
	require.NoError(t, q.ReportResult(id, m.ID, models.CommandFailed, "no permission"))
	err = q.ReportResult(id, m.ID, models.CommandExecuted, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestExpireStale(t *testing.T) {
	q, store := newTestQueue(t)
	now := time.Now().UTC()
	m := seedMachine(t, store, &now)

	// Insert a pending command older than the 300s TTL directly.
	old := &models.Command{
		ID:        uuid.NewString(),
		MachineID: m.ID,
		Kind:      models.CommandSleep,
		Status:    models.CommandPending,
		CreatedBy: "admin",
		CreatedAt: now.Add(-time.Hour),
	}
	_, err := store.EnqueueCommand(old)
	require.NoError(t, err)

	expired, err := q.ExpireStale()
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := store.GetCommand(old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandExpired, got.Status)

	// Nothing left to expire.
	expired, err = q.ExpireStale()
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}
