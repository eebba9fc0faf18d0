package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-cloud/tenant-split-backend/auth"
	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/datastore"
	"github.com/arcadia-cloud/tenant-split-backend/export"
	"github.com/arcadia-cloud/tenant-split-backend/importer"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
	"github.com/arcadia-cloud/tenant-split-backend/ledger"
	"github.com/arcadia-cloud/tenant-split-backend/platform"
	"github.com/arcadia-cloud/tenant-split-backend/registry"
)

type fixture struct {
	orch     *Orchestrator
	ledger   *ledger.Ledger
	registry *registry.Registry
	importer *importer.Manager
	platform *platform.MockPlatformAPI
	persists int
}

// newFixture wires an orchestrator around a seeded data store for owner
// "alice" (two objects of 4 KB and 1 KB plus one relation), a mocked
// platform, and the given ledger amounts.
func newFixture(t *testing.T, reserve, threshold, funding uint64) *fixture {
	t.Helper()
	return newFixtureWithImportLimits(t, reserve, threshold, funding, importer.DefaultConfig())
}

func newFixtureWithImportLimits(t *testing.T, reserve, threshold, funding uint64, impCfg importer.Config) *fixture {
	t.Helper()

	log := slog.Default()
	hasher, err := checksum.New(checksum.AlgoSHA256)
	require.NoError(t, err)

	store := datastore.NewMemory(log)
	now := time.Now().UTC()
	require.NoError(t, store.Put("alice", &interfaces.OwnerRecord{
		Record: interfaces.Record{
			ID:            "rec-1",
			Name:          "alice's record",
			Subject:       "alice",
			Holder:        "alice",
			SchemaVersion: 1,
			CreatedAt:     now.Add(-time.Hour),
			UpdatedAt:     now,
		},
		Objects: []interfaces.DataObject{
			{ID: "obj-1", Name: "notes.txt", ContentType: "text/plain", CreatedAt: now, UpdatedAt: now, Data: make([]byte, 4096), DeclaredSize: 4096},
			{ID: "obj-2", Name: "avatar.png", ContentType: "image/png", CreatedAt: now, UpdatedAt: now, Data: make([]byte, 1024), DeclaredSize: 1024},
		},
		Relations: []interfaces.Relation{{Peer: "bob", Kind: "shared_with"}},
	}))

	f := &fixture{
		ledger:   ledger.New(uint256.NewInt(reserve), uint256.NewInt(threshold), log),
		registry: registry.New(log),
		importer: importer.NewManager(impCfg, hasher, log),
		platform: &platform.MockPlatformAPI{},
	}

	orch, err := New(
		Config{
			ServiceIdentity: "service",
			FundingAmount:   uint256.NewInt(funding),
			Image:           []byte("program image"),
			ImportChunkSize: 512,
		},
		f.ledger,
		f.registry,
		export.NewExporter(store, hasher, "shared-1", log),
		f.importer,
		f.platform,
		auth.NewStaticAuthorizer(nil),
		hasher,
		nil,
		func() error { f.persists++; return nil },
		nil,
		log,
	)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) expectHappyPlatform(instanceID interfaces.InstanceID) {
	f.platform.On("CreateInstance", mock.Anything, []interfaces.OwnerID{"service", "alice"}, mock.Anything).
		Return(instanceID, nil).Once()
	f.platform.On("InstallImage", mock.Anything, instanceID, []byte("program image"), mock.Anything).
		Return(nil).Once()
	f.platform.On("UpdateControllers", mock.Anything, instanceID, []interfaces.OwnerID{"alice"}).
		Return(nil).Once()
}

func TestRunMigrationCompletes(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)
	f.expectHappyPlatform("inst-1")

	result, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, interfaces.StatusCompleted, result.Status)
	assert.Equal(t, interfaces.InstanceID("inst-1"), result.InstanceID)
	assert.Equal(t, 1, result.Attempts)

	entry, err := f.registry.Get("inst-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.OwnerID("alice"), entry.Owner)
	assert.Equal(t, interfaces.StatusCompleted, entry.Status)
	assert.Equal(t, uint256.NewInt(500_000_000_000), entry.ResourceCost)

	status := f.ledger.Status()
	assert.Equal(t, uint256.NewInt(500_000_000_000), status.Reserve)
	assert.Equal(t, uint256.NewInt(500_000_000_000), status.TotalConsumed)

	assert.Positive(t, f.persists)
	f.platform.AssertExpectations(t)
}

func TestRunMigrationReserveBelowThreshold(t *testing.T) {
	f := newFixture(t, 50_000_000_000, 100_000_000_000, 500_000_000_000)

	result, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, interfaces.StatusFailed, result.Status)
	assert.Contains(t, result.Message, "creating")
	assert.Contains(t, result.Message, "below minimum threshold")

	// No instance, no registry entry, no consumption.
	f.platform.AssertNotCalled(t, "CreateInstance", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.registry.ListByOwner("alice"))
	assert.Equal(t, uint256.NewInt(50_000_000_000), f.ledger.Status().Reserve)
}

func TestRunMigrationIdempotentCompletion(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)
	f.expectHappyPlatform("inst-1")

	first, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Equal(t, first.InstanceID, second.InstanceID)
	// Expectations were Once(); a second platform call would fail here.
	f.platform.AssertExpectations(t)
	// No additional consumption either.
	assert.Equal(t, uint256.NewInt(500_000_000_000), f.ledger.Status().Reserve)
}

func TestRunMigrationCreateInstanceFails(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)
	f.platform.On("CreateInstance", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.InstanceID(""), errors.New("platform outage")).Once()

	result, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "platform outage")
	assert.Empty(t, f.registry.ListByOwner("alice"))
	assert.Equal(t, uint256.NewInt(1_000_000_000_000), f.ledger.Status().Reserve)
}

func TestRunMigrationInstallFails(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)
	f.platform.On("CreateInstance", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.InstanceID("inst-1"), nil).Once()
	f.platform.On("InstallImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("image rejected")).Once()

	result, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, interfaces.StatusFailed, result.Status)
	assert.Equal(t, interfaces.InstanceID("inst-1"), result.InstanceID)

	// The instance stays recorded for manual inspection, marked Failed, and
	// the funding stays consumed.
	entry, err := f.registry.Get("inst-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFailed, entry.Status)
	assert.Equal(t, uint256.NewInt(500_000_000_000), f.ledger.Status().Reserve)
}

func TestRunMigrationHandoffFails(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)
	f.platform.On("CreateInstance", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.InstanceID("inst-1"), nil).Once()
	f.platform.On("InstallImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.platform.On("UpdateControllers", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("controller update rejected")).Once()

	result, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "verifying")
	assert.Contains(t, result.Message, "controller update rejected")

	entry, err := f.registry.Get("inst-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFailed, entry.Status)
}

func TestRunMigrationRetryAfterFailure(t *testing.T) {
	f := newFixture(t, 2_000_000_000_000, 100_000_000_000, 500_000_000_000)
	f.platform.On("CreateInstance", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.InstanceID("inst-1"), nil).Once()
	f.platform.On("InstallImage", mock.Anything, interfaces.InstanceID("inst-1"), mock.Anything, mock.Anything).
		Return(errors.New("transient failure")).Once()

	first, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusFailed, first.Status)

	f.platform.On("CreateInstance", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.InstanceID("inst-2"), nil).Once()
	f.platform.On("InstallImage", mock.Anything, interfaces.InstanceID("inst-2"), mock.Anything, mock.Anything).
		Return(nil).Once()
	f.platform.On("UpdateControllers", mock.Anything, interfaces.InstanceID("inst-2"), mock.Anything).
		Return(nil).Once()

	second, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Equal(t, interfaces.InstanceID("inst-2"), second.InstanceID)
	assert.Equal(t, 2, second.Attempts)

	// Both instances are on record: the abandoned one Failed, the new one
	// Completed, and both fundings consumed.
	failed, err := f.registry.Get("inst-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFailed, failed.Status)
	completed, err := f.registry.Get("inst-2")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCompleted, completed.Status)
	assert.Equal(t, uint256.NewInt(1_000_000_000_000), f.ledger.Status().Reserve)
}

func TestRunMigrationRetryAfterImportFailure(t *testing.T) {
	impCfg := importer.DefaultConfig()
	impCfg.MaxSessionBytes = 100
	f := newFixtureWithImportLimits(t, 2_000_000_000_000, 100_000_000_000, 500_000_000_000, impCfg)

	f.platform.On("CreateInstance", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.InstanceID("inst-1"), nil).Once()
	f.platform.On("CreateInstance", mock.Anything, mock.Anything, mock.Anything).
		Return(interfaces.InstanceID("inst-2"), nil).Once()
	f.platform.On("InstallImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Twice()

	first, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusFailed, first.Status)
	assert.Contains(t, first.Message, "session byte limit")

	// The failed run must not leave its session behind.
	_, active := f.importer.ActiveSession("alice")
	assert.False(t, active)

	// The retry fails for the same cause, not on a stranded session.
	second, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFailed, second.Status)
	assert.Contains(t, second.Message, "session byte limit")
	assert.NotContains(t, second.Message, "active import session")
	assert.Equal(t, 2, second.Attempts)
	f.platform.AssertExpectations(t)
}

func TestRunMigrationBlocksConcurrentEntry(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)

	record, proceed := f.orch.admitRun("alice")
	require.True(t, proceed)
	require.Equal(t, 1, record.Attempts)

	// A second admission before the first run reaches its first stage
	// transition must not proceed, and must not reset the record again.
	record, proceed = f.orch.admitRun("alice")
	assert.False(t, proceed)
	assert.Equal(t, interfaces.StatusNotStarted, record.Status)
	assert.Equal(t, 1, record.Attempts)

	f.orch.finishRun("alice")

	record, proceed = f.orch.admitRun("alice")
	assert.True(t, proceed)
	assert.Equal(t, 2, record.Attempts)
}

func TestRunMigrationUnknownOwnerFailsAtExport(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)

	result, err := f.orch.RunMigration(context.Background(), "bob")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, interfaces.StatusFailed, result.Status)
	assert.Contains(t, result.Message, "exporting")
	// Export failures consume nothing and create nothing.
	assert.Equal(t, uint256.NewInt(1_000_000_000_000), f.ledger.Status().Reserve)
	f.platform.AssertNotCalled(t, "CreateInstance", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunMigrationAnonymousCaller(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)

	_, err := f.orch.RunMigration(context.Background(), "")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)

	status, err := f.orch.GetStatus("alice")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusNotStarted, status.Status)
	assert.False(t, status.Success)

	f.expectHappyPlatform("inst-1")
	_, err = f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)

	status, err = f.orch.GetStatus("alice")
	require.NoError(t, err)
	assert.True(t, status.Success)
	assert.Equal(t, interfaces.StatusCompleted, status.Status)
	assert.Equal(t, interfaces.InstanceID("inst-1"), status.InstanceID)

	_, err = f.orch.GetStatus("")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestRecordsAndRestore(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)
	f.expectHappyPlatform("inst-1")

	_, err := f.orch.RunMigration(context.Background(), "alice")
	require.NoError(t, err)

	records := f.orch.Records()
	require.Contains(t, records, interfaces.OwnerID("alice"))

	// A record interrupted mid-stage comes back Failed after restore.
	records["bob"] = &interfaces.MigrationRecord{
		Owner:    "bob",
		Status:   interfaces.StatusInstalling,
		Attempts: 1,
	}

	restored := newFixture(t, 1_000_000_000_000, 100_000_000_000, 500_000_000_000)
	restored.orch.Restore(records)

	aliceStatus, err := restored.orch.GetStatus("alice")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCompleted, aliceStatus.Status)

	bobStatus, err := restored.orch.GetStatus("bob")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFailed, bobStatus.Status)
	assert.Contains(t, bobStatus.Message, "interrupted by service restart")
}
