// Package datastore provides the multi-tenant data store collaborator used
// by the export path. The core never writes to the store; it only reads an
// owner's primary record.
package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// Memory is an in-memory data store, seedable from a JSON fixture. It backs
// development deployments and tests; production deployments wire the real
// multi-tenant store behind the same interface.
type Memory struct {
	mu      sync.RWMutex
	records map[interfaces.OwnerID]*interfaces.OwnerRecord
	log     *slog.Logger
}

// NewMemory creates an empty in-memory store.
func NewMemory(log *slog.Logger) *Memory {
	return &Memory{
		records: make(map[interfaces.OwnerID]*interfaces.OwnerRecord),
		log:     log,
	}
}

// Put seeds a record. The record must have the owner as both subject and
// holder; anything else is not a primary record.
func (m *Memory) Put(owner interfaces.OwnerID, record *interfaces.OwnerRecord) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	if record.Record.Subject != owner || record.Record.Holder != owner {
		return fmt.Errorf("%w: record subject and holder must both be %s", interfaces.ErrInvalidArgument, owner)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[owner] = record
	return nil
}

// FindOwnerRecord returns the owner's primary record, or ErrNotFound.
func (m *Memory) FindOwnerRecord(ctx context.Context, owner interfaces.OwnerID) (*interfaces.OwnerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[owner]
	if !exists {
		return nil, fmt.Errorf("%w: no record for owner %s", interfaces.ErrNotFound, owner)
	}
	return record, nil
}

// LoadFixture seeds the store from a JSON file containing a list of owner
// records.
func (m *Memory) LoadFixture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture: %w", err)
	}

	var records []interfaces.OwnerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse fixture: %w", err)
	}

	for i := range records {
		record := records[i]
		if err := m.Put(record.Record.Subject, &record); err != nil {
			return fmt.Errorf("fixture record %d: %w", i, err)
		}
	}

	m.log.Info("Data store fixture loaded", slog.String("path", path), slog.Int("records", len(records)))
	return nil
}
