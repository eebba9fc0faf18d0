package adminhandler

import (
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-cloud/tenant-split-backend/auth"
	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/importer"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
	"github.com/arcadia-cloud/tenant-split-backend/ledger"
	"github.com/arcadia-cloud/tenant-split-backend/registry"
)

func testServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	log := slog.Default()
	hasher, err := checksum.New(checksum.AlgoSHA256)
	require.NoError(t, err)

	reg := registry.New(log)
	handler := NewHandler(
		ledger.New(uint256.NewInt(1000), uint256.NewInt(100), log),
		reg,
		importer.NewManager(importer.DefaultConfig(), hasher, log),
		auth.NewStaticAuthorizer([]interfaces.OwnerID{"root"}),
		nil,
		log,
	)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, reg
}

func TestLedgerStatusEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	client := &Client{ServerAddr: srv.URL, Admin: "root"}

	status, err := client.LedgerStatus()
	require.NoError(t, err)
	assert.Equal(t, "1000", status.Reserve)
	assert.Equal(t, "100", status.MinThreshold)
	assert.Equal(t, "normal", status.Alert)
}

func TestNonAdminRejected(t *testing.T) {
	srv, _ := testServer(t)
	client := &Client{ServerAddr: srv.URL, Admin: "alice"}

	_, err := client.LedgerStatus()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestLedgerMutations(t *testing.T) {
	srv, _ := testServer(t)
	client := &Client{ServerAddr: srv.URL, Admin: "root"}

	status, err := client.AddReserve("500")
	require.NoError(t, err)
	assert.Equal(t, "1500", status.Reserve)

	status, err = client.SetThreshold("2000")
	require.NoError(t, err)
	assert.Equal(t, "2000", status.MinThreshold)
	assert.Equal(t, "warning", status.Alert)

	status, err = client.SetThreshold("4000")
	require.NoError(t, err)
	assert.Equal(t, "critical", status.Alert)

	_, err = client.AddReserve("not a number")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestRegistryEndpoints(t *testing.T) {
	srv, reg := testServer(t)
	require.NoError(t, reg.Create("inst-1", "alice", interfaces.StatusCompleted, uint256.NewInt(500)))
	require.NoError(t, reg.Create("inst-2", "bob", interfaces.StatusFailed, uint256.NewInt(500)))

	client := &Client{ServerAddr: srv.URL, Admin: "root"}

	byOwner, err := client.ListByOwner("alice")
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	assert.Equal(t, "inst-1", byOwner[0].InstanceID)
	assert.Equal(t, "500", byOwner[0].ResourceCost)

	byStatus, err := client.ListByStatus("failed")
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "inst-2", byStatus[0].InstanceID)

	entry, err := client.GetEntry("inst-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", entry.Owner)

	require.NoError(t, client.RemoveEntry("inst-2"))
	_, err = client.GetEntry("inst-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSweepSessionsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	client := &Client{ServerAddr: srv.URL, Admin: "root"}

	evicted, err := client.SweepSessions()
	require.NoError(t, err)
	assert.Equal(t, 0, evicted)
}
