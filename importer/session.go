// Package importer accepts an owner's exported data back into a freshly
// provisioned instance, piece by piece. Each session assembles chunked
// objects, verifies them at two independent layers (per-chunk checksums catch
// corruption immediately; whole-object checksums catch reassembly and
// transport bugs that preserve chunk checksums), and finalizes against the
// export manifest.
package importer

import (
	"time"

	"github.com/google/uuid"

	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/export"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// SessionID identifies one import session.
type SessionID string

// NewSessionID generates a fresh random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.Must(uuid.NewRandom()).String())
}

// String returns the session identifier as a string.
func (id SessionID) String() string {
	return string(id)
}

// SessionStatus is the lifecycle state of an import session.
type SessionStatus int

const (
	SessionActive SessionStatus = iota
	SessionFinalizing
	SessionCompleted
	SessionFailed
	SessionExpired
)

// String returns the lowercase status name.
func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionFinalizing:
		return "finalizing"
	case SessionCompleted:
		return "completed"
	case SessionFailed:
		return "failed"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// chunk is one received piece of an object. Chunks are write-once.
type chunk struct {
	bytes      []byte
	sum        checksum.Checksum
	receivedAt time.Time
}

// partialObject accumulates chunks until the object is committed. Discarded
// once the object moves to the completed map.
type partialObject struct {
	objectID      string
	chunks        map[int]chunk
	bytesReceived int64
}

// session is one owner's in-flight import. There is at most one active
// session per owner.
type session struct {
	id             SessionID
	owner          interfaces.OwnerID
	createdAt      time.Time
	lastActivityAt time.Time
	bytesReceived  int64
	inProgress     map[string]*partialObject
	completed      map[string][]byte
	status         SessionStatus

	// manifest is the optional reference manifest; when attached, finalize
	// re-validates every completed object against it.
	manifest *export.Manifest
}

// ObjectFragment is the manifest fragment a caller presents when committing
// one object: the declared chunk and byte counts plus both checksum layers.
type ObjectFragment struct {
	ObjectID       string              `json:"object_id"`
	TotalChunks    int                 `json:"total_chunks"`
	TotalSize      int64               `json:"total_size"`
	ChunkChecksums []checksum.Checksum `json:"chunk_checksums"`
	ObjectChecksum checksum.Checksum   `json:"object_checksum"`
}

// Result summarizes a finalized session.
type Result struct {
	ObjectCount int
	TotalBytes  int64

	// Objects maps object ID to the assembled canonical blob.
	Objects map[string][]byte
}

// SessionSnapshot is the persisted form of a session, part of the service
// state blob so in-flight imports survive restarts.
type SessionSnapshot struct {
	ID             SessionID               `json:"id"`
	Owner          interfaces.OwnerID      `json:"owner"`
	CreatedAt      time.Time               `json:"created_at"`
	LastActivityAt time.Time               `json:"last_activity_at"`
	BytesReceived  int64                   `json:"bytes_received"`
	Completed      map[string][]byte       `json:"completed,omitempty"`
	InProgress     []PartialObjectSnapshot `json:"in_progress,omitempty"`
	Manifest       *export.Manifest        `json:"manifest,omitempty"`
}

// PartialObjectSnapshot is the persisted form of an in-progress object.
type PartialObjectSnapshot struct {
	ObjectID string          `json:"object_id"`
	Chunks   []ChunkSnapshot `json:"chunks"`
}

// ChunkSnapshot is the persisted form of one received chunk.
type ChunkSnapshot struct {
	Index      int               `json:"index"`
	Bytes      []byte            `json:"bytes"`
	Checksum   checksum.Checksum `json:"checksum"`
	ReceivedAt time.Time         `json:"received_at"`
}
