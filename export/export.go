// Package export reads a user's full record out of the shared multi-tenant
// store and produces a snapshot plus a checksummed manifest. The manifest is
// derived deterministically from the snapshot and is used both to validate a
// snapshot before transfer and to validate re-assembled data after transfer.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// Size-estimate constants. The snapshot's total byte count is an estimate
// built from declared sizes, not an exact measurement.
const (
	// recordOverheadBytes is the fixed per-record overhead added to the
	// size estimate.
	recordOverheadBytes = 1024

	// relationEntryBytes is the estimated size of one relation entry.
	relationEntryBytes = 256

	// sizeTolerancePercent is the allowed deviation between a snapshot's
	// declared total and the recomputed estimate.
	sizeTolerancePercent = 10
)

// Metadata describes the circumstances of an export.
type Metadata struct {
	ExportTime     time.Time `json:"export_time"`
	SourceInstance string    `json:"source_instance"`
	SchemaVersion  int       `json:"schema_version"`
	TotalBytes     int64     `json:"total_bytes"`
}

// Snapshot is an owner's complete exported state. It is immutable once built
// and consumed exactly once by the import path or verification.
type Snapshot struct {
	Record    interfaces.Record       `json:"record"`
	Objects   []interfaces.DataObject `json:"objects"`
	Relations []interfaces.Relation   `json:"relations"`
	Metadata  Metadata                `json:"metadata"`
}

// Exporter builds snapshots and manifests for one source instance.
type Exporter struct {
	store          interfaces.DataStore
	hasher         checksum.Hasher
	sourceInstance string
	log            *slog.Logger
}

// NewExporter creates an exporter reading from the given data store.
func NewExporter(store interfaces.DataStore, hasher checksum.Hasher, sourceInstance string, log *slog.Logger) *Exporter {
	return &Exporter{
		store:          store,
		hasher:         hasher,
		sourceInstance: sourceInstance,
		log:            log,
	}
}

// Export locates the owner's primary record and deep-copies it into a
// snapshot. Fails with ErrNotFound if the owner has no record where they are
// both subject and holder.
func (e *Exporter) Export(ctx context.Context, owner interfaces.OwnerID) (*Snapshot, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	ownerRecord, err := e.store.FindOwnerRecord(ctx, owner)
	if err != nil {
		return nil, err
	}
	if ownerRecord == nil {
		return nil, fmt.Errorf("%w: no record for owner %s", interfaces.ErrNotFound, owner)
	}

	objects := make([]interfaces.DataObject, len(ownerRecord.Objects))
	for i, obj := range ownerRecord.Objects {
		objects[i] = obj
		objects[i].Data = append([]byte(nil), obj.Data...)
	}
	relations := append([]interfaces.Relation(nil), ownerRecord.Relations...)

	snap := &Snapshot{
		Record:    ownerRecord.Record,
		Objects:   objects,
		Relations: relations,
		Metadata: Metadata{
			ExportTime:     time.Now().UTC(),
			SourceInstance: e.sourceInstance,
			SchemaVersion:  ownerRecord.Record.SchemaVersion,
			TotalBytes:     estimateSize(ownerRecord.Objects, ownerRecord.Relations),
		},
	}

	e.log.Info("Exported owner record",
		slog.String("owner", owner.String()),
		slog.Int("objects", len(objects)),
		slog.Int("relations", len(relations)),
		slog.Int64("totalBytes", snap.Metadata.TotalBytes))
	return snap, nil
}

// Validate rejects malformed snapshots: empty identifiers, empty owner sets,
// zero timestamps, and size estimates deviating from the declared total by
// more than the tolerance.
func (e *Exporter) Validate(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", interfaces.ErrInvalidArgument)
	}
	if snap.Record.ID == "" {
		return fmt.Errorf("%w: snapshot record has empty identifier", interfaces.ErrInvalidArgument)
	}
	if snap.Record.Subject == "" || snap.Record.Holder == "" {
		return fmt.Errorf("%w: snapshot record has empty owner set", interfaces.ErrInvalidArgument)
	}
	if snap.Record.CreatedAt.IsZero() || snap.Record.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: snapshot record has zero timestamps", interfaces.ErrInvalidArgument)
	}
	if snap.Metadata.ExportTime.IsZero() {
		return fmt.Errorf("%w: snapshot has zero export time", interfaces.ErrInvalidArgument)
	}

	for _, obj := range snap.Objects {
		if obj.ID == "" {
			return fmt.Errorf("%w: snapshot object has empty identifier", interfaces.ErrInvalidArgument)
		}
		if obj.CreatedAt.IsZero() || obj.UpdatedAt.IsZero() {
			return fmt.Errorf("%w: object %s has zero timestamps", interfaces.ErrInvalidArgument, obj.ID)
		}
	}

	estimate := estimateSize(snap.Objects, snap.Relations)
	if deviationExceeds(snap.Metadata.TotalBytes, estimate, sizeTolerancePercent) {
		return fmt.Errorf("%w: declared total %d deviates more than %d%% from size estimate %d",
			interfaces.ErrInvalidArgument, snap.Metadata.TotalBytes, sizeTolerancePercent, estimate)
	}
	return nil
}

func estimateSize(objects []interfaces.DataObject, relations []interfaces.Relation) int64 {
	total := int64(recordOverheadBytes)
	for _, obj := range objects {
		total += obj.DeclaredSize
	}
	total += int64(len(relations)) * relationEntryBytes
	return total
}

func deviationExceeds(declared, estimate int64, tolerancePercent int64) bool {
	diff := declared - estimate
	if diff < 0 {
		diff = -diff
	}
	return diff*100 > estimate*tolerancePercent
}

// EncodeObject produces the canonical wire form of a data object. Imported
// blobs are exactly this encoding, so the import side can decode them and
// cross-check stable-field checksums against the manifest.
func EncodeObject(obj interfaces.DataObject) ([]byte, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding object %s: %v", interfaces.ErrInternal, obj.ID, err)
	}
	return data, nil
}

// DecodeObject parses the canonical wire form back into a data object.
func DecodeObject(data []byte) (interfaces.DataObject, error) {
	var obj interfaces.DataObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return interfaces.DataObject{}, fmt.Errorf("%w: decoding object blob: %v", interfaces.ErrInternal, err)
	}
	return obj, nil
}
