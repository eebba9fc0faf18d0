// Package registry tracks every provisioned instance: its owner, lifecycle
// status, creation time, and resource cost. It is the durable source of truth
// an operator queries to reconcile instances that exist against ledger spend;
// every successful ledger consumption corresponds to exactly one entry's cost.
//
// The registry is CRUD plus queries, no business logic.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// Registry is a mutex-guarded map of instance ID to entry. Entries are never
// silently deleted; Remove is the explicit admin path.
type Registry struct {
	mu      sync.RWMutex
	entries map[interfaces.InstanceID]*interfaces.RegistryEntry
	log     *slog.Logger
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[interfaces.InstanceID]*interfaces.RegistryEntry),
		log:     log,
	}
}

// Create records a newly provisioned instance. Fails with ErrConflict if the
// instance is already registered.
func (r *Registry) Create(instanceID interfaces.InstanceID, owner interfaces.OwnerID, status interfaces.MigrationStatus, cost *uint256.Int) error {
	if err := instanceID.Validate(); err != nil {
		return err
	}
	if err := owner.Validate(); err != nil {
		return err
	}
	if err := interfaces.RequireAmount(cost); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[instanceID]; exists {
		return fmt.Errorf("%w: instance %s already registered", interfaces.ErrConflict, instanceID)
	}

	r.entries[instanceID] = &interfaces.RegistryEntry{
		InstanceID:   instanceID,
		Owner:        owner,
		CreatedAt:    time.Now().UTC(),
		Status:       status,
		ResourceCost: new(uint256.Int).Set(cost),
	}

	r.log.Info("Registry entry created",
		slog.String("instanceID", instanceID.String()),
		slog.String("owner", owner.String()),
		slog.String("status", status.String()),
		slog.String("cost", cost.Dec()))
	return nil
}

// UpdateStatus moves an entry to a new lifecycle status.
func (r *Registry) UpdateStatus(instanceID interfaces.InstanceID, status interfaces.MigrationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[instanceID]
	if !exists {
		return fmt.Errorf("%w: no registry entry for instance %s", interfaces.ErrNotFound, instanceID)
	}

	entry.Status = status
	r.log.Debug("Registry entry status updated",
		slog.String("instanceID", instanceID.String()),
		slog.String("status", status.String()))
	return nil
}

// UpdateCost replaces an entry's recorded resource cost.
func (r *Registry) UpdateCost(instanceID interfaces.InstanceID, cost *uint256.Int) error {
	if err := interfaces.RequireAmount(cost); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[instanceID]
	if !exists {
		return fmt.Errorf("%w: no registry entry for instance %s", interfaces.ErrNotFound, instanceID)
	}

	entry.ResourceCost = new(uint256.Int).Set(cost)
	return nil
}

// Get returns a copy of the entry for an instance.
func (r *Registry) Get(instanceID interfaces.InstanceID) (*interfaces.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[instanceID]
	if !exists {
		return nil, fmt.Errorf("%w: no registry entry for instance %s", interfaces.ErrNotFound, instanceID)
	}
	return entry.Clone(), nil
}

// ListByOwner returns copies of every entry belonging to an owner.
func (r *Registry) ListByOwner(owner interfaces.OwnerID) []*interfaces.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*interfaces.RegistryEntry
	for _, entry := range r.entries {
		if entry.Owner == owner {
			out = append(out, entry.Clone())
		}
	}
	return out
}

// ListByStatus returns copies of every entry in the given status.
func (r *Registry) ListByStatus(status interfaces.MigrationStatus) []*interfaces.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*interfaces.RegistryEntry
	for _, entry := range r.entries {
		if entry.Status == status {
			out = append(out, entry.Clone())
		}
	}
	return out
}

// Remove deletes an entry. Admin-only, for cleanup of abandoned instances.
func (r *Registry) Remove(instanceID interfaces.InstanceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[instanceID]; !exists {
		return fmt.Errorf("%w: no registry entry for instance %s", interfaces.ErrNotFound, instanceID)
	}

	delete(r.entries, instanceID)
	r.log.Info("Registry entry removed", slog.String("instanceID", instanceID.String()))
	return nil
}

// Snapshot returns copies of all entries for persistence, in no particular
// order.
func (r *Registry) Snapshot() []interfaces.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.RegistryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry.Clone())
	}
	return out
}

// Restore replaces the registry contents from a persisted snapshot.
func (r *Registry) Restore(entries []interfaces.RegistryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[interfaces.InstanceID]*interfaces.RegistryEntry, len(entries))
	for i := range entries {
		entry := entries[i]
		r.entries[entry.InstanceID] = entry.Clone()
	}
}
