package interfaces

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ContentID is a 32-byte SHA-256 hash uniquely identifying archived content.
type ContentID [32]byte

// NewContentIDFromHex parses a hex-encoded content ID.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	hashBytes, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var hash [32]byte
	copy(hash[:], hashBytes)
	return ContentID(hash), nil
}

// ComputeID calculates the content ID of data.
func ComputeID(data []byte) ContentID {
	hash := sha256.Sum256(data)
	return ContentID(hash)
}

// String returns hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns raw 32-byte hash.
func (id ContentID) Bytes() []byte {
	return id[:]
}

// Equal compares two content IDs.
func (id ContentID) Equal(other ContentID) bool {
	return bytes.Equal(id[:], other[:])
}

// ContentType indicates the archive namespace.
type ContentType int

const (
	// SnapshotType for exported data snapshots
	SnapshotType ContentType = iota
	// ManifestType for snapshot manifests
	ManifestType
)

// String returns type name.
func (ct ContentType) String() string {
	switch ct {
	case SnapshotType:
		return "snapshot"
	case ManifestType:
		return "manifest"
	default:
		return "unknown"
	}
}

// StorageBackendLocation is the URI of an archive backend, e.g.
// file:///var/lib/tenant-split/archive or s3://bucket/prefix?region=us-east-1.
type StorageBackendLocation string

// NewStorageBackendLocation validates a backend URI string.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3":
		// Valid scheme
	default:
		return "", fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StorageBackendLocation(uri), nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return string(loc)
}

var (
	// ErrContentNotFound is returned when requested content cannot be found in the archive backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when an archive backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend provides content-addressed archive storage for export
// snapshots and manifests.
type StorageBackend interface {
	// Fetch retrieves data by content ID and type.
	Fetch(ctx context.Context, id ContentID, contentType ContentType) ([]byte, error)

	// Store saves data and returns its content ID.
	Store(ctx context.Context, data []byte, contentType ContentType) (ContentID, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// StorageBackendFactory creates archive backends.
type StorageBackendFactory interface {
	// StorageBackendFor creates a backend from a URI.
	// Supports file:// and s3://.
	StorageBackendFor(locationURI StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend creates an aggregated backend that stores to every
	// member and fetches from the first that has the content.
	CreateMultiBackend(locationURIs []StorageBackendLocation) (StorageBackend, error)
}
