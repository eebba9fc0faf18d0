// Package adminhandler exposes the operator surface over HTTP: ledger
// reporting and mutation, registry queries and cleanup, and import session
// sweeping. Every endpoint requires an allowlisted admin caller.
package adminhandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/arcadia-cloud/tenant-split-backend/api"
	"github.com/arcadia-cloud/tenant-split-backend/importer"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
	"github.com/arcadia-cloud/tenant-split-backend/ledger"
	"github.com/arcadia-cloud/tenant-split-backend/registry"
)

// Handler processes admin requests.
type Handler struct {
	ledger     *ledger.Ledger
	registry   *registry.Registry
	importer   *importer.Manager
	authorizer interfaces.Authorizer

	// persist is called after every mutation; nil disables persistence.
	persist func() error

	log *slog.Logger
}

// NewHandler creates an admin handler. The persist callback may be nil.
func NewHandler(ldgr *ledger.Ledger, reg *registry.Registry, imp *importer.Manager, authorizer interfaces.Authorizer, persist func() error, log *slog.Logger) *Handler {
	return &Handler{
		ledger:     ldgr,
		registry:   reg,
		importer:   imp,
		authorizer: authorizer,
		persist:    persist,
		log:        log,
	}
}

// RegisterRoutes mounts the admin endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/admin/ledger", h.HandleLedgerStatus)
	r.Post("/api/admin/ledger/reserve", h.HandleAddReserve)
	r.Post("/api/admin/ledger/threshold", h.HandleSetThreshold)
	r.Get("/api/admin/registry", h.HandleListRegistry)
	r.Get("/api/admin/registry/{instance_id}", h.HandleGetEntry)
	r.Delete("/api/admin/registry/{instance_id}", h.HandleRemoveEntry)
	r.Post("/api/admin/import/sweep", h.HandleSweepSessions)
}

func (h *Handler) admit(r *http.Request) error {
	return h.authorizer.EnsureAdmin(api.Caller(r))
}

// HandleLedgerStatus reports the reserve, threshold, cumulative consumption,
// and alert level.
//
// URL format: GET /api/admin/ledger
func (h *Handler) HandleLedgerStatus(w http.ResponseWriter, r *http.Request) {
	if err := h.admit(r); err != nil {
		api.WriteError(w, err)
		return
	}

	status := h.ledger.Status()
	api.WriteJSON(w, http.StatusOK, api.LedgerStatusResponse{
		Reserve:       status.Reserve.Dec(),
		MinThreshold:  status.MinThreshold.Dec(),
		TotalConsumed: status.TotalConsumed.Dec(),
		Alert:         status.Alert,
	})
}

// HandleAddReserve credits the reserve.
//
// URL format: POST /api/admin/ledger/reserve
//
// Request body: JSON, see api.AmountRequest
func (h *Handler) HandleAddReserve(w http.ResponseWriter, r *http.Request) {
	h.handleAmountMutation(w, r, h.ledger.Add)
}

// HandleSetThreshold replaces the minimum-threshold policy.
//
// URL format: POST /api/admin/ledger/threshold
func (h *Handler) HandleSetThreshold(w http.ResponseWriter, r *http.Request) {
	h.handleAmountMutation(w, r, h.ledger.SetThreshold)
}

func (h *Handler) handleAmountMutation(w http.ResponseWriter, r *http.Request, apply func(*uint256.Int) error) {
	if err := h.admit(r); err != nil {
		api.WriteError(w, err)
		return
	}
	api.LimitBody(w, r)

	var req api.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, fmt.Errorf("%w: invalid amount request: %s", interfaces.ErrInvalidArgument, err))
		return
	}
	amount, err := interfaces.ParseAmount(req.Amount)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if err := apply(amount); err != nil {
		api.WriteError(w, err)
		return
	}

	h.persistState()
	h.HandleLedgerStatus(w, r)
}

// HandleListRegistry lists registry entries filtered by owner or status.
//
// URL format: GET /api/admin/registry?owner=... or ?status=...
func (h *Handler) HandleListRegistry(w http.ResponseWriter, r *http.Request) {
	if err := h.admit(r); err != nil {
		api.WriteError(w, err)
		return
	}

	var entries []*interfaces.RegistryEntry
	switch {
	case r.URL.Query().Get("owner") != "":
		entries = h.registry.ListByOwner(interfaces.OwnerID(r.URL.Query().Get("owner")))
	case r.URL.Query().Get("status") != "":
		status, err := interfaces.ParseMigrationStatus(r.URL.Query().Get("status"))
		if err != nil {
			api.WriteError(w, err)
			return
		}
		entries = h.registry.ListByStatus(status)
	default:
		api.WriteError(w, fmt.Errorf("%w: owner or status filter required", interfaces.ErrInvalidArgument))
		return
	}

	out := make([]api.RegistryEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toEntryResponse(entry))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// HandleGetEntry returns one registry entry.
//
// URL format: GET /api/admin/registry/{instance_id}
func (h *Handler) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.admit(r); err != nil {
		api.WriteError(w, err)
		return
	}

	entry, err := h.registry.Get(interfaces.InstanceID(chi.URLParam(r, "instance_id")))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toEntryResponse(entry))
}

// HandleRemoveEntry drops an abandoned registry entry.
//
// URL format: DELETE /api/admin/registry/{instance_id}
func (h *Handler) HandleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.admit(r); err != nil {
		api.WriteError(w, err)
		return
	}

	instanceID := interfaces.InstanceID(chi.URLParam(r, "instance_id"))
	if err := h.registry.Remove(instanceID); err != nil {
		api.WriteError(w, err)
		return
	}

	h.persistState()
	h.log.Info("Registry entry removed by admin",
		slog.String("instance", instanceID.String()),
		slog.String("admin", api.Caller(r).String()))
	w.WriteHeader(http.StatusNoContent)
}

// HandleSweepSessions evicts expired import sessions.
//
// URL format: POST /api/admin/import/sweep
func (h *Handler) HandleSweepSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.admit(r); err != nil {
		api.WriteError(w, err)
		return
	}

	evicted := h.importer.SweepExpired()
	if evicted > 0 {
		h.persistState()
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{"evicted": evicted})
}

func (h *Handler) persistState() {
	if h.persist == nil {
		return
	}
	if err := h.persist(); err != nil {
		h.log.Error("State persistence failed", "err", err)
	}
}

func toEntryResponse(entry *interfaces.RegistryEntry) api.RegistryEntryResponse {
	out := api.RegistryEntryResponse{
		InstanceID: entry.InstanceID.String(),
		Owner:      entry.Owner.String(),
		CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339),
		Status:     entry.Status.String(),
	}
	if entry.ResourceCost != nil {
		out.ResourceCost = entry.ResourceCost.Dec()
	}
	return out
}
