package migrationhandler

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-cloud/tenant-split-backend/api"
	"github.com/arcadia-cloud/tenant-split-backend/auth"
	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/datastore"
	"github.com/arcadia-cloud/tenant-split-backend/export"
	"github.com/arcadia-cloud/tenant-split-backend/importer"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
	"github.com/arcadia-cloud/tenant-split-backend/ledger"
	"github.com/arcadia-cloud/tenant-split-backend/orchestrator"
	"github.com/arcadia-cloud/tenant-split-backend/platform"
	"github.com/arcadia-cloud/tenant-split-backend/registry"
)

func testServer(t *testing.T) (*httptest.Server, *platform.MockPlatformAPI, checksum.Hasher) {
	t.Helper()

	log := slog.Default()
	hasher, err := checksum.New(checksum.AlgoSHA256)
	require.NoError(t, err)

	store := datastore.NewMemory(log)
	now := time.Now().UTC()
	require.NoError(t, store.Put("alice", &interfaces.OwnerRecord{
		Record: interfaces.Record{
			ID: "rec-1", Name: "alice's record", Subject: "alice", Holder: "alice",
			SchemaVersion: 1, CreatedAt: now, UpdatedAt: now,
		},
		Objects: []interfaces.DataObject{
			{ID: "obj-1", Name: "notes.txt", ContentType: "text/plain", CreatedAt: now, UpdatedAt: now, Data: make([]byte, 2048), DeclaredSize: 2048},
		},
	}))

	mockPlatform := &platform.MockPlatformAPI{}
	imp := importer.NewManager(importer.DefaultConfig(), hasher, log)

	orch, err := orchestrator.New(
		orchestrator.Config{
			ServiceIdentity: "service",
			FundingAmount:   uint256.NewInt(500),
			Image:           []byte("image"),
		},
		ledger.New(uint256.NewInt(10_000), uint256.NewInt(100), log),
		registry.New(log),
		export.NewExporter(store, hasher, "shared-1", log),
		imp,
		mockPlatform,
		auth.NewStaticAuthorizer(nil),
		hasher,
		nil,
		nil,
		nil,
		log,
	)
	require.NoError(t, err)

	router := chi.NewRouter()
	NewHandler(orch, imp, log).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, mockPlatform, hasher
}

func TestRunMigrationEndpoint(t *testing.T) {
	srv, mockPlatform, _ := testServer(t)
	mockPlatform.On("CreateInstance", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.InstanceID("inst-1"), nil).Once()
	mockPlatform.On("InstallImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Once()
	mockPlatform.On("UpdateControllers", mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Once()

	client := &Client{ServerAddr: srv.URL, Caller: "alice"}

	result, err := client.RunMigration()
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, "inst-1", result.InstanceID)

	status, err := client.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
}

func TestRunMigrationAnonymousRejected(t *testing.T) {
	srv, _, _ := testServer(t)
	client := &Client{ServerAddr: srv.URL}

	_, err := client.RunMigration()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestImportSessionEndpoints(t *testing.T) {
	srv, _, hasher := testServer(t)
	client := &Client{ServerAddr: srv.URL, Caller: "bob"}

	sessionID, err := client.BeginImport()
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	chunk0 := []byte("hello, ")
	chunk1 := []byte("world")
	require.NoError(t, client.PutChunk(sessionID, api.PutChunkRequest{
		ObjectID: "obj-1", Index: 0, Data: chunk0, Checksum: hasher.Sum(chunk0).String(),
	}))
	require.NoError(t, client.PutChunk(sessionID, api.PutChunkRequest{
		ObjectID: "obj-1", Index: 1, Data: chunk1, Checksum: hasher.Sum(chunk1).String(),
	}))

	// Duplicate chunk maps to 409.
	err = client.PutChunk(sessionID, api.PutChunkRequest{
		ObjectID: "obj-1", Index: 0, Data: chunk0, Checksum: hasher.Sum(chunk0).String(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	require.NoError(t, client.CommitObject(sessionID, api.CommitObjectRequest{
		ObjectID:       "obj-1",
		TotalChunks:    2,
		TotalSize:      12,
		ChunkChecksums: []string{hasher.Sum(chunk0).String(), hasher.Sum(chunk1).String()},
		ObjectChecksum: hasher.Sum([]byte("hello, world")).String(),
	}))

	result, err := client.FinalizeImport(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ObjectCount)
	assert.Equal(t, int64(12), result.TotalBytes)
}
