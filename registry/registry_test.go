package registry

import (
	"log/slog"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

func newTestRegistry() *Registry {
	return New(slog.Default())
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry()

	err := r.Create("inst-1", "alice", interfaces.StatusCreating, uint256.NewInt(500))
	require.NoError(t, err)

	entry, err := r.Get("inst-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.InstanceID("inst-1"), entry.InstanceID)
	assert.Equal(t, interfaces.OwnerID("alice"), entry.Owner)
	assert.Equal(t, interfaces.StatusCreating, entry.Status)
	assert.Equal(t, uint256.NewInt(500), entry.ResourceCost)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestCreateDuplicateFails(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Create("inst-1", "alice", interfaces.StatusCreating, uint256.NewInt(1)))

	err := r.Create("inst-1", "bob", interfaces.StatusCreating, uint256.NewInt(1))
	assert.ErrorIs(t, err, interfaces.ErrConflict)
}

func TestCreateValidatesInput(t *testing.T) {
	r := newTestRegistry()
	assert.Error(t, r.Create("", "alice", interfaces.StatusCreating, uint256.NewInt(1)))
	assert.ErrorIs(t, r.Create("inst-1", "", interfaces.StatusCreating, uint256.NewInt(1)), interfaces.ErrUnauthorized)
	assert.ErrorIs(t, r.Create("inst-1", "alice", interfaces.StatusCreating, nil), interfaces.ErrInvalidArgument)
}

func TestUpdateStatus(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Create("inst-1", "alice", interfaces.StatusCreating, uint256.NewInt(1)))

	require.NoError(t, r.UpdateStatus("inst-1", interfaces.StatusInstalling))

	entry, err := r.Get("inst-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusInstalling, entry.Status)

	assert.ErrorIs(t, r.UpdateStatus("missing", interfaces.StatusFailed), interfaces.ErrNotFound)
}

func TestListByOwnerAndStatus(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Create("inst-1", "alice", interfaces.StatusCreating, uint256.NewInt(1)))
	require.NoError(t, r.Create("inst-2", "alice", interfaces.StatusCompleted, uint256.NewInt(2)))
	require.NoError(t, r.Create("inst-3", "bob", interfaces.StatusCompleted, uint256.NewInt(3)))

	assert.Len(t, r.ListByOwner("alice"), 2)
	assert.Len(t, r.ListByOwner("bob"), 1)
	assert.Empty(t, r.ListByOwner("carol"))

	assert.Len(t, r.ListByStatus(interfaces.StatusCompleted), 2)
	assert.Len(t, r.ListByStatus(interfaces.StatusCreating), 1)
	assert.Empty(t, r.ListByStatus(interfaces.StatusFailed))
}

func TestRemove(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Create("inst-1", "alice", interfaces.StatusFailed, uint256.NewInt(1)))

	require.NoError(t, r.Remove("inst-1"))

	_, err := r.Get("inst-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.ErrorIs(t, r.Remove("inst-1"), interfaces.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Create("inst-1", "alice", interfaces.StatusCreating, uint256.NewInt(5)))

	entry, err := r.Get("inst-1")
	require.NoError(t, err)
	entry.Status = interfaces.StatusFailed
	entry.ResourceCost.SetUint64(999)

	fresh, err := r.Get("inst-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCreating, fresh.Status)
	assert.Equal(t, uint256.NewInt(5), fresh.ResourceCost)
}

func TestSnapshotRestore(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Create("inst-1", "alice", interfaces.StatusCompleted, uint256.NewInt(10)))
	require.NoError(t, r.Create("inst-2", "bob", interfaces.StatusFailed, uint256.NewInt(20)))

	snap := r.Snapshot()
	require.Len(t, snap, 2)

	restored := newTestRegistry()
	restored.Restore(snap)

	entry, err := restored.Get("inst-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.OwnerID("alice"), entry.Owner)
	assert.Len(t, restored.ListByStatus(interfaces.StatusFailed), 1)
}
