package interfaces

import (
	"context"
	"fmt"
	"time"
)

// Record is an owner's primary record in the shared multi-tenant store: the
// one record where the owner is both subject and holder. The core never
// mutates the store; it only reads for export.
type Record struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Subject       OwnerID   `json:"subject"`
	Holder        OwnerID   `json:"holder"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DataObject is one stored object belonging to a record. Large payloads live
// behind BlobRef in external blob storage; small ones are carried inline in
// Data.
type DataObject struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// BlobRef locates the primary blob when it is stored externally.
	BlobRef string `json:"blob_ref,omitempty"`

	// Data is the inline payload.
	Data []byte `json:"data,omitempty"`

	// DeclaredSize is the object's size as recorded by the store, which may
	// exceed len(Data) when the primary blob is external.
	DeclaredSize int64 `json:"declared_size"`
}

// Relation links a record to a peer identity, e.g. a sharing grant.
type Relation struct {
	Peer OwnerID `json:"peer"`
	Kind string  `json:"kind"`
}

// Key returns the stable identifier used for relation checksums.
func (r Relation) Key() string {
	return fmt.Sprintf("%s/%s", r.Peer, r.Kind)
}

// OwnerRecord bundles everything the data store holds for one owner.
type OwnerRecord struct {
	Record    Record       `json:"record"`
	Objects   []DataObject `json:"objects"`
	Relations []Relation   `json:"relations"`
}

// DataStore is the external multi-tenant store collaborator. It must return
// at most one record per owner where the owner is both subject and holder.
type DataStore interface {
	// FindOwnerRecord locates the owner's primary record, or ErrNotFound.
	FindOwnerRecord(ctx context.Context, owner OwnerID) (*OwnerRecord, error)
}
