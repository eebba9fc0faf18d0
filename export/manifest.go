package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// ManifestVersion tags the manifest layout so future changes stay explicit.
const ManifestVersion = 1

// ObjectChecksumEntry pairs an object ID with its stable-field checksum.
type ObjectChecksumEntry struct {
	ID       string            `json:"id"`
	Checksum checksum.Checksum `json:"checksum"`
}

// RelationChecksumEntry pairs a relation key with its checksum.
type RelationChecksumEntry struct {
	Key      string            `json:"key"`
	Checksum checksum.Checksum `json:"checksum"`
}

// Manifest is a checksum-and-count summary of a snapshot. It is derived
// deterministically, so two manifests built from the same snapshot are equal.
type Manifest struct {
	ManifestVersion   int                     `json:"manifest_version"`
	RecordChecksum    checksum.Checksum       `json:"record_checksum"`
	ObjectCount       int                     `json:"object_count"`
	ObjectChecksums   []ObjectChecksumEntry   `json:"object_checksums"`
	RelationCount     int                     `json:"relation_count"`
	RelationChecksums []RelationChecksumEntry `json:"relation_checksums"`
	TotalBytes        int64                   `json:"total_bytes"`
}

// ObjectChecksum returns the object-checksum entry for an ID, or nil.
func (m *Manifest) ObjectChecksum(id string) *ObjectChecksumEntry {
	for i := range m.ObjectChecksums {
		if m.ObjectChecksums[i].ID == id {
			return &m.ObjectChecksums[i]
		}
	}
	return nil
}

// stable tuples are joined with a unit separator so field boundaries cannot
// collide with field contents.
const tupleSep = "\x1f"

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ObjectChecksum computes the checksum of an object's stable fields: id,
// name, content type, timestamps, primary-blob locator, and inline length.
// Raw bytes are deliberately excluded so manifest generation stays cheap even
// when large blobs live externally.
func ObjectChecksum(h checksum.Hasher, obj interfaces.DataObject) checksum.Checksum {
	tuple := strings.Join([]string{
		obj.ID,
		obj.Name,
		obj.ContentType,
		timestamp(obj.CreatedAt),
		timestamp(obj.UpdatedAt),
		obj.BlobRef,
		strconv.Itoa(len(obj.Data)),
	}, tupleSep)
	return h.Sum([]byte(tuple))
}

// RecordChecksum computes the checksum of a record's stable identifying
// fields.
func RecordChecksum(h checksum.Hasher, rec interfaces.Record) checksum.Checksum {
	tuple := strings.Join([]string{
		rec.ID,
		rec.Name,
		rec.Subject.String(),
		rec.Holder.String(),
		strconv.Itoa(rec.SchemaVersion),
		timestamp(rec.CreatedAt),
		timestamp(rec.UpdatedAt),
	}, tupleSep)
	return h.Sum([]byte(tuple))
}

// RelationChecksum computes the checksum of one relation entry.
func RelationChecksum(h checksum.Hasher, rel interfaces.Relation) checksum.Checksum {
	tuple := strings.Join([]string{rel.Peer.String(), rel.Kind}, tupleSep)
	return h.Sum([]byte(tuple))
}

// BuildManifest derives a manifest from a snapshot.
func (e *Exporter) BuildManifest(snap *Snapshot) (*Manifest, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", interfaces.ErrInvalidArgument)
	}

	objectChecksums := make([]ObjectChecksumEntry, len(snap.Objects))
	for i, obj := range snap.Objects {
		objectChecksums[i] = ObjectChecksumEntry{
			ID:       obj.ID,
			Checksum: ObjectChecksum(e.hasher, obj),
		}
	}

	relationChecksums := make([]RelationChecksumEntry, len(snap.Relations))
	for i, rel := range snap.Relations {
		relationChecksums[i] = RelationChecksumEntry{
			Key:      rel.Key(),
			Checksum: RelationChecksum(e.hasher, rel),
		}
	}

	return &Manifest{
		ManifestVersion:   ManifestVersion,
		RecordChecksum:    RecordChecksum(e.hasher, snap.Record),
		ObjectCount:       len(snap.Objects),
		ObjectChecksums:   objectChecksums,
		RelationCount:     len(snap.Relations),
		RelationChecksums: relationChecksums,
		TotalBytes:        snap.Metadata.TotalBytes,
	}, nil
}

// Verify recomputes every checksum and both counts from the snapshot and
// compares them to the manifest field by field. Every mismatch is a named,
// specific error: which object or relation, which field, expected versus
// actual.
func (e *Exporter) Verify(snap *Snapshot, manifest *Manifest) error {
	if snap == nil || manifest == nil {
		return fmt.Errorf("%w: nil snapshot or manifest", interfaces.ErrInvalidArgument)
	}

	if manifest.ManifestVersion != ManifestVersion {
		return fmt.Errorf("%w: manifest version mismatch: expected %d, actual %d",
			interfaces.ErrInternal, ManifestVersion, manifest.ManifestVersion)
	}

	if got := RecordChecksum(e.hasher, snap.Record); got != manifest.RecordChecksum {
		return fmt.Errorf("%w: record %s: checksum mismatch: expected %s, actual %s",
			interfaces.ErrInternal, snap.Record.ID, manifest.RecordChecksum, got)
	}

	if manifest.ObjectCount != len(snap.Objects) {
		return fmt.Errorf("%w: object count mismatch: manifest declares %d, snapshot has %d",
			interfaces.ErrInternal, manifest.ObjectCount, len(snap.Objects))
	}

	declared := make(map[string]checksum.Checksum, len(manifest.ObjectChecksums))
	for _, entry := range manifest.ObjectChecksums {
		declared[entry.ID] = entry.Checksum
	}
	for _, obj := range snap.Objects {
		want, ok := declared[obj.ID]
		if !ok {
			return fmt.Errorf("%w: object %s: missing from manifest", interfaces.ErrInternal, obj.ID)
		}
		if got := ObjectChecksum(e.hasher, obj); got != want {
			return fmt.Errorf("%w: object %s: checksum mismatch: expected %s, actual %s",
				interfaces.ErrInternal, obj.ID, want, got)
		}
		delete(declared, obj.ID)
	}
	for id := range declared {
		return fmt.Errorf("%w: object %s: in manifest but missing from snapshot", interfaces.ErrInternal, id)
	}

	if manifest.RelationCount != len(snap.Relations) {
		return fmt.Errorf("%w: relation count mismatch: manifest declares %d, snapshot has %d",
			interfaces.ErrInternal, manifest.RelationCount, len(snap.Relations))
	}

	declaredRels := make(map[string]checksum.Checksum, len(manifest.RelationChecksums))
	for _, entry := range manifest.RelationChecksums {
		declaredRels[entry.Key] = entry.Checksum
	}
	for _, rel := range snap.Relations {
		want, ok := declaredRels[rel.Key()]
		if !ok {
			return fmt.Errorf("%w: relation %s: missing from manifest", interfaces.ErrInternal, rel.Key())
		}
		if got := RelationChecksum(e.hasher, rel); got != want {
			return fmt.Errorf("%w: relation %s: checksum mismatch: expected %s, actual %s",
				interfaces.ErrInternal, rel.Key(), want, got)
		}
		delete(declaredRels, rel.Key())
	}
	for key := range declaredRels {
		return fmt.Errorf("%w: relation %s: in manifest but missing from snapshot", interfaces.ErrInternal, key)
	}

	if manifest.TotalBytes != snap.Metadata.TotalBytes {
		return fmt.Errorf("%w: total bytes mismatch: manifest declares %d, snapshot declares %d",
			interfaces.ErrInternal, manifest.TotalBytes, snap.Metadata.TotalBytes)
	}
	return nil
}
