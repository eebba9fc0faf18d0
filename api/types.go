// Package api defines the request and response shapes of the HTTP surface
// plus the mapping from the service error taxonomy to HTTP status codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// Header constants used in HTTP requests and responses.
const (
	// CallerHeader carries the authenticated caller identity. Token
	// verification happens upstream; handlers trust this header.
	CallerHeader = "X-Caller-ID"

	// maxBodySize is the maximum allowed request body size (8MB), sized for
	// one import chunk plus encoding overhead.
	maxBodySize = 8 * 1024 * 1024
)

// MigrationResponse is the structured result of run and status requests.
type MigrationResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	InstanceID string `json:"instance_id,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Message    string `json:"message,omitempty"`
}

// BeginImportResponse returns the opened session.
type BeginImportResponse struct {
	SessionID string `json:"session_id"`
}

// PutChunkRequest carries one chunk. Bytes travel base64-encoded via the
// standard JSON []byte encoding.
type PutChunkRequest struct {
	ObjectID string `json:"object_id"`
	Index    int    `json:"index"`
	Data     []byte `json:"data"`
	Checksum string `json:"checksum"`
}

// CommitObjectRequest carries the manifest fragment for one object.
type CommitObjectRequest struct {
	ObjectID       string   `json:"object_id"`
	TotalChunks    int      `json:"total_chunks"`
	TotalSize      int64    `json:"total_size"`
	ChunkChecksums []string `json:"chunk_checksums"`
	ObjectChecksum string   `json:"object_checksum"`
}

// FinalizeImportResponse returns the totals of a completed session.
type FinalizeImportResponse struct {
	ObjectCount int   `json:"object_count"`
	TotalBytes  int64 `json:"total_bytes"`
}

// LedgerStatusResponse reports the ledger, amounts as decimal strings.
type LedgerStatusResponse struct {
	Reserve       string `json:"reserve"`
	MinThreshold  string `json:"min_threshold"`
	TotalConsumed string `json:"total_consumed"`
	Alert         string `json:"alert"`
}

// AmountRequest carries one decimal amount for reserve and threshold
// mutations.
type AmountRequest struct {
	Amount string `json:"amount"`
}

// RegistryEntryResponse is the wire form of one registry entry.
type RegistryEntryResponse struct {
	InstanceID   string `json:"instance_id"`
	Owner        string `json:"owner"`
	CreatedAt    string `json:"created_at"`
	Status       string `json:"status"`
	ResourceCost string `json:"resource_cost,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPStatus maps the service error taxonomy to HTTP status codes.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrResourceExhausted):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// WriteError writes the error as a JSON body with the taxonomy-mapped
// status.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, HTTPStatus(err), ErrorResponse{Error: err.Error()})
}

// Caller extracts the caller identity header. Validation happens in the
// components, which reject the anonymous caller.
func Caller(r *http.Request) interfaces.OwnerID {
	return interfaces.OwnerID(r.Header.Get(CallerHeader))
}

// LimitBody bounds the request body read.
func LimitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
}
