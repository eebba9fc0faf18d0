// Package migrationhandler exposes the migration and import surface over
// HTTP: running a migration, polling its status, and driving a chunked
// import session.
package migrationhandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arcadia-cloud/tenant-split-backend/api"
	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/importer"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
	"github.com/arcadia-cloud/tenant-split-backend/orchestrator"
)

// Handler processes migration and import requests. The caller identity comes
// from the api.CallerHeader header; import sessions are always scoped to that
// caller.
type Handler struct {
	orch     *orchestrator.Orchestrator
	importer *importer.Manager
	log      *slog.Logger
}

// NewHandler creates a migration handler.
func NewHandler(orch *orchestrator.Orchestrator, imp *importer.Manager, log *slog.Logger) *Handler {
	return &Handler{orch: orch, importer: imp, log: log}
}

// RegisterRoutes mounts the migration and import endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/migrations/run", h.HandleRunMigration)
	r.Get("/api/migrations/status", h.HandleMigrationStatus)
	r.Post("/api/import/sessions", h.HandleBeginImport)
	r.Post("/api/import/sessions/{session_id}/chunks", h.HandlePutChunk)
	r.Post("/api/import/sessions/{session_id}/objects", h.HandleCommitObject)
	r.Post("/api/import/sessions/{session_id}/finalize", h.HandleFinalize)
}

// HandleRunMigration runs the caller's migration synchronously and returns
// the structured result. Stage failures are 200s with success=false; only
// authorization failures map to error statuses.
//
// URL format: POST /api/migrations/run
func (h *Handler) HandleRunMigration(w http.ResponseWriter, r *http.Request) {
	caller := api.Caller(r)
	result, err := h.orch.RunMigration(r.Context(), caller)
	if err != nil {
		h.log.Error("Migration run rejected", slog.String("caller", caller.String()), "err", err)
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toResponse(result))
}

// HandleMigrationStatus reports the caller's migration record.
//
// URL format: GET /api/migrations/status
func (h *Handler) HandleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.orch.GetStatus(api.Caller(r))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toResponse(result))
}

// HandleBeginImport opens an import session for the caller.
//
// URL format: POST /api/import/sessions
func (h *Handler) HandleBeginImport(w http.ResponseWriter, r *http.Request) {
	caller := api.Caller(r)
	sessionID, err := h.importer.Begin(caller)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, api.BeginImportResponse{SessionID: sessionID.String()})
}

// HandlePutChunk stores one chunk in the caller's session.
//
// URL format: POST /api/import/sessions/{session_id}/chunks
//
// Request body: JSON, see api.PutChunkRequest
func (h *Handler) HandlePutChunk(w http.ResponseWriter, r *http.Request) {
	api.LimitBody(w, r)

	var req api.PutChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, fmt.Errorf("%w: invalid chunk request: %s", interfaces.ErrInvalidArgument, err))
		return
	}

	sessionID := importer.SessionID(chi.URLParam(r, "session_id"))
	err := h.importer.PutChunk(api.Caller(r), sessionID, req.ObjectID, req.Index, req.Data, checksum.Checksum(req.Checksum))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCommitObject closes one object in the caller's session.
//
// URL format: POST /api/import/sessions/{session_id}/objects
//
// Request body: JSON, see api.CommitObjectRequest
func (h *Handler) HandleCommitObject(w http.ResponseWriter, r *http.Request) {
	api.LimitBody(w, r)

	var req api.CommitObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, fmt.Errorf("%w: invalid commit request: %s", interfaces.ErrInvalidArgument, err))
		return
	}

	fragment := importer.ObjectFragment{
		ObjectID:       req.ObjectID,
		TotalChunks:    req.TotalChunks,
		TotalSize:      req.TotalSize,
		ObjectChecksum: checksum.Checksum(req.ObjectChecksum),
	}
	for _, sum := range req.ChunkChecksums {
		fragment.ChunkChecksums = append(fragment.ChunkChecksums, checksum.Checksum(sum))
	}

	sessionID := importer.SessionID(chi.URLParam(r, "session_id"))
	if err := h.importer.CommitObject(api.Caller(r), sessionID, fragment); err != nil {
		api.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFinalize closes the caller's session and returns its totals.
//
// URL format: POST /api/import/sessions/{session_id}/finalize
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	sessionID := importer.SessionID(chi.URLParam(r, "session_id"))
	result, err := h.importer.Finalize(api.Caller(r), sessionID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.FinalizeImportResponse{
		ObjectCount: result.ObjectCount,
		TotalBytes:  result.TotalBytes,
	})
}

func toResponse(result *orchestrator.Result) api.MigrationResponse {
	return api.MigrationResponse{
		Success:    result.Success,
		Status:     result.Status.String(),
		InstanceID: result.InstanceID.String(),
		Attempts:   result.Attempts,
		Message:    result.Message,
	}
}
