// Package statestore persists the service's durable state as one versioned
// JSON blob, written atomically via a temp file and rename. A missing file is
// a fresh start, not an error; a schema version mismatch is an error so an
// old binary never silently misreads newer state.
package statestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/arcadia-cloud/tenant-split-backend/importer"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
	"github.com/arcadia-cloud/tenant-split-backend/ledger"
)

// SchemaVersion tags the state blob layout.
const SchemaVersion = 1

// State is everything the service persists across restarts.
type State struct {
	SchemaVersion int                                                `json:"schema_version"`
	SavedAt       time.Time                                          `json:"saved_at"`
	Ledger        ledger.Snapshot                                    `json:"ledger"`
	Migrations    map[interfaces.OwnerID]*interfaces.MigrationRecord `json:"migrations,omitempty"`
	Registry      []interfaces.RegistryEntry                         `json:"registry,omitempty"`
	Sessions      []importer.SessionSnapshot                         `json:"sessions,omitempty"`
}

// Store reads and writes the state blob at a fixed path.
type Store struct {
	path string
	log  *slog.Logger
}

// NewStore creates a store for the given file path.
func NewStore(path string, log *slog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Load reads the persisted state. Returns nil state without error when the
// file does not exist.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Info("No persisted state, starting fresh", slog.String("path", s.path))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	if state.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("state file %s has schema version %d, expected %d", s.path, state.SchemaVersion, SchemaVersion)
	}

	s.log.Info("Persisted state loaded",
		slog.String("path", s.path),
		slog.Time("saved_at", state.SavedAt),
		slog.Int("migrations", len(state.Migrations)),
		slog.Int("registry_entries", len(state.Registry)))
	return &state, nil
}

// Save writes the state atomically: marshal, write to a temp file in the same
// directory, fsync, rename over the target. A crash mid-write leaves the
// previous blob intact.
func (s *Store) Save(state *State) error {
	state.SchemaVersion = SchemaVersion
	state.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
