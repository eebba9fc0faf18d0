package export

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/datastore"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

func testExporter(t *testing.T, store interfaces.DataStore) *Exporter {
	t.Helper()
	hasher, err := checksum.New(checksum.AlgoSHA256)
	require.NoError(t, err)
	return NewExporter(store, hasher, "shared-1", slog.Default())
}

func seededStore(t *testing.T, owner interfaces.OwnerID) *datastore.Memory {
	t.Helper()
	store := datastore.NewMemory(slog.Default())
	now := time.Now().UTC()
	err := store.Put(owner, &interfaces.OwnerRecord{
		Record: interfaces.Record{
			ID:            "rec-1",
			Name:          "alice's record",
			Subject:       owner,
			Holder:        owner,
			SchemaVersion: 1,
			CreatedAt:     now.Add(-time.Hour),
			UpdatedAt:     now,
		},
		Objects: []interfaces.DataObject{
			{
				ID:           "obj-1",
				Name:         "notes.txt",
				ContentType:  "text/plain",
				CreatedAt:    now.Add(-time.Hour),
				UpdatedAt:    now,
				Data:         make([]byte, 4096),
				DeclaredSize: 4096,
			},
			{
				ID:           "obj-2",
				Name:         "avatar.png",
				ContentType:  "image/png",
				CreatedAt:    now.Add(-time.Hour),
				UpdatedAt:    now,
				Data:         make([]byte, 1024),
				DeclaredSize: 1024,
			},
		},
		Relations: []interfaces.Relation{
			{Peer: "bob", Kind: "shared_with"},
		},
	})
	require.NoError(t, err)
	return store
}

func TestExport(t *testing.T) {
	store := seededStore(t, "alice")
	e := testExporter(t, store)

	snap, err := e.Export(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "rec-1", snap.Record.ID)
	assert.Len(t, snap.Objects, 2)
	assert.Len(t, snap.Relations, 1)
	assert.Equal(t, "shared-1", snap.Metadata.SourceInstance)
	// 1024 overhead + 4096 + 1024 objects + 256 relation estimate.
	assert.Equal(t, int64(1024+4096+1024+256), snap.Metadata.TotalBytes)
	require.NoError(t, e.Validate(snap))
}

func TestExportUnknownOwner(t *testing.T) {
	e := testExporter(t, datastore.NewMemory(slog.Default()))
	_, err := e.Export(context.Background(), "nobody")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestExportAnonymousOwner(t *testing.T) {
	e := testExporter(t, datastore.NewMemory(slog.Default()))
	_, err := e.Export(context.Background(), "")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestExportDeepCopiesObjects(t *testing.T) {
	store := seededStore(t, "alice")
	e := testExporter(t, store)

	snap, err := e.Export(context.Background(), "alice")
	require.NoError(t, err)

	snap.Objects[0].Data[0] = 0xFF

	fresh, err := store.FindOwnerRecord(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, byte(0), fresh.Objects[0].Data[0])
}

func TestValidateRejections(t *testing.T) {
	store := seededStore(t, "alice")
	e := testExporter(t, store)

	base, err := e.Export(context.Background(), "alice")
	require.NoError(t, err)

	t.Run("empty record id", func(t *testing.T) {
		snap := *base
		snap.Record.ID = ""
		assert.ErrorIs(t, e.Validate(&snap), interfaces.ErrInvalidArgument)
	})

	t.Run("empty owner set", func(t *testing.T) {
		snap := *base
		snap.Record.Holder = ""
		assert.ErrorIs(t, e.Validate(&snap), interfaces.ErrInvalidArgument)
	})

	t.Run("zero record timestamp", func(t *testing.T) {
		snap := *base
		snap.Record.UpdatedAt = time.Time{}
		assert.ErrorIs(t, e.Validate(&snap), interfaces.ErrInvalidArgument)
	})

	t.Run("zero export time", func(t *testing.T) {
		snap := *base
		snap.Metadata.ExportTime = time.Time{}
		assert.ErrorIs(t, e.Validate(&snap), interfaces.ErrInvalidArgument)
	})

	t.Run("size estimate deviation", func(t *testing.T) {
		snap := *base
		snap.Metadata.TotalBytes = snap.Metadata.TotalBytes * 2
		err := e.Validate(&snap)
		require.ErrorIs(t, err, interfaces.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "deviates")
	})

	t.Run("deviation within tolerance accepted", func(t *testing.T) {
		snap := *base
		snap.Metadata.TotalBytes = snap.Metadata.TotalBytes + snap.Metadata.TotalBytes/20
		assert.NoError(t, e.Validate(&snap))
	})
}

func TestManifestRoundTrip(t *testing.T) {
	store := seededStore(t, "alice")
	e := testExporter(t, store)

	snap, err := e.Export(context.Background(), "alice")
	require.NoError(t, err)

	manifest, err := e.BuildManifest(snap)
	require.NoError(t, err)
	assert.Equal(t, ManifestVersion, manifest.ManifestVersion)
	assert.Equal(t, 2, manifest.ObjectCount)
	assert.Equal(t, 1, manifest.RelationCount)

	require.NoError(t, e.Verify(snap, manifest))

	// Deterministic: building twice yields an identical manifest.
	again, err := e.BuildManifest(snap)
	require.NoError(t, err)
	assert.Equal(t, manifest, again)
}

func TestVerifyNamesTheMismatchedObject(t *testing.T) {
	store := seededStore(t, "alice")
	e := testExporter(t, store)

	snap, err := e.Export(context.Background(), "alice")
	require.NoError(t, err)
	manifest, err := e.BuildManifest(snap)
	require.NoError(t, err)

	t.Run("mutated name", func(t *testing.T) {
		mutated := *snap
		mutated.Objects = append([]interfaces.DataObject(nil), snap.Objects...)
		mutated.Objects[1].Name = "tampered"
		err := e.Verify(&mutated, manifest)
		require.ErrorIs(t, err, interfaces.ErrInternal)
		assert.Contains(t, err.Error(), "obj-2")
		assert.Contains(t, err.Error(), "checksum mismatch")
	})

	t.Run("mutated timestamp", func(t *testing.T) {
		mutated := *snap
		mutated.Objects = append([]interfaces.DataObject(nil), snap.Objects...)
		mutated.Objects[0].UpdatedAt = mutated.Objects[0].UpdatedAt.Add(time.Second)
		err := e.Verify(&mutated, manifest)
		require.ErrorIs(t, err, interfaces.ErrInternal)
		assert.Contains(t, err.Error(), "obj-1")
	})

	t.Run("mutated record", func(t *testing.T) {
		mutated := *snap
		mutated.Record.Name = "tampered"
		err := e.Verify(&mutated, manifest)
		require.ErrorIs(t, err, interfaces.ErrInternal)
		assert.Contains(t, err.Error(), "rec-1")
	})

	t.Run("dropped object", func(t *testing.T) {
		mutated := *snap
		mutated.Objects = snap.Objects[:1]
		err := e.Verify(&mutated, manifest)
		require.ErrorIs(t, err, interfaces.ErrInternal)
		assert.Contains(t, err.Error(), "count mismatch")
	})

	t.Run("mutated relation", func(t *testing.T) {
		mutated := *snap
		mutated.Relations = []interfaces.Relation{{Peer: "mallory", Kind: "shared_with"}}
		err := e.Verify(&mutated, manifest)
		require.ErrorIs(t, err, interfaces.ErrInternal)
		assert.Contains(t, err.Error(), "mallory")
	})
}

func TestEncodeDecodeObject(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	obj := interfaces.DataObject{
		ID:           "obj-1",
		Name:         "notes.txt",
		ContentType:  "text/plain",
		CreatedAt:    now,
		UpdatedAt:    now,
		Data:         []byte("hello"),
		DeclaredSize: 5,
	}

	data, err := EncodeObject(obj)
	require.NoError(t, err)

	decoded, err := DecodeObject(data)
	require.NoError(t, err)
	assert.Equal(t, obj, decoded)

	_, err = DecodeObject([]byte("not json"))
	assert.ErrorIs(t, err, interfaces.ErrInternal)
}
