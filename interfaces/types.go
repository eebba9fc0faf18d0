// Package interfaces defines the core types and contracts shared by the
// tenant-split provisioning system. It provides the boundary between
// components without pulling in implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// OwnerID identifies the user on whose behalf a personal instance is
// provisioned. The empty string is the anonymous caller and is rejected by
// every authenticated operation.
type OwnerID string

// NewOwnerID validates a raw identity string and returns it as an OwnerID.
func NewOwnerID(raw string) (OwnerID, error) {
	id := OwnerID(raw)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate rejects anonymous and malformed owner identities.
func (o OwnerID) Validate() error {
	if o == "" {
		return fmt.Errorf("%w: anonymous caller", ErrUnauthorized)
	}
	if len(o) > 128 {
		return fmt.Errorf("%w: owner identity exceeds 128 characters", ErrInvalidArgument)
	}
	for _, r := range o {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: owner identity contains whitespace or control characters", ErrInvalidArgument)
		}
	}
	return nil
}

// String returns the owner identity as a string.
func (o OwnerID) String() string {
	return string(o)
}

// InstanceID identifies a compute instance created by the platform
// provisioning API.
type InstanceID string

// NewInstanceID generates a fresh random instance identifier.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.Must(uuid.NewRandom()).String())
}

// String returns the instance identifier as a string.
func (id InstanceID) String() string {
	return string(id)
}

// Validate rejects empty instance identifiers.
func (id InstanceID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("%w: empty instance id", ErrInvalidArgument)
	}
	return nil
}

// MigrationStatus is the stage a migration has reached. The orchestrator
// advances it strictly forward; Failed and Completed are terminal, with
// Failed re-enterable through an explicit retry.
type MigrationStatus int

const (
	StatusNotStarted MigrationStatus = iota
	StatusExporting
	StatusCreating
	StatusInstalling
	StatusImporting
	StatusVerifying
	StatusCompleted
	StatusFailed
)

var statusNames = map[MigrationStatus]string{
	StatusNotStarted: "not_started",
	StatusExporting:  "exporting",
	StatusCreating:   "creating",
	StatusInstalling: "installing",
	StatusImporting:  "importing",
	StatusVerifying:  "verifying",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
}

// String returns the lowercase wire name of the status.
func (s MigrationStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseMigrationStatus converts a wire name back into a status.
func ParseMigrationStatus(name string) (MigrationStatus, error) {
	for status, statusName := range statusNames {
		if statusName == name {
			return status, nil
		}
	}
	return StatusNotStarted, fmt.Errorf("%w: unknown migration status %q", ErrInvalidArgument, name)
}

// IsTerminal reports whether the status ends the state machine.
func (s MigrationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MarshalText implements encoding.TextMarshaler so statuses persist by name.
func (s MigrationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *MigrationStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseMigrationStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MigrationRecord tracks one owner's migration across process restarts.
// There is at most one non-terminal record per owner at a time. Records are
// retained indefinitely; a Completed record is the idempotency witness for
// repeated run requests.
type MigrationRecord struct {
	Owner        OwnerID         `json:"owner"`
	Status       MigrationStatus `json:"status"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	InstanceID   InstanceID      `json:"instance_id,omitempty"`
	ResourceCost *uint256.Int    `json:"resource_cost,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand outside the lock that guards the
// record map.
func (r *MigrationRecord) Clone() *MigrationRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		out.CompletedAt = &at
	}
	if r.ResourceCost != nil {
		out.ResourceCost = new(uint256.Int).Set(r.ResourceCost)
	}
	return &out
}

// RegistryEntry is the durable record of a provisioned instance. Entries are
// created at instance-creation time and never silently deleted; only an
// explicit admin removal drops one.
type RegistryEntry struct {
	InstanceID   InstanceID      `json:"instance_id"`
	Owner        OwnerID         `json:"owner"`
	CreatedAt    time.Time       `json:"created_at"`
	Status       MigrationStatus `json:"status"`
	ResourceCost *uint256.Int    `json:"resource_cost"`
}

// Clone returns a deep copy of the entry.
func (e *RegistryEntry) Clone() *RegistryEntry {
	if e == nil {
		return nil
	}
	out := *e
	if e.ResourceCost != nil {
		out.ResourceCost = new(uint256.Int).Set(e.ResourceCost)
	}
	return &out
}

// ParseAmount parses a decimal resource amount, e.g. a funding value from a
// CLI flag or admin request.
func ParseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidArgument)
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q: %v", ErrInvalidArgument, raw, err)
	}
	return amount, nil
}

var errNilAmount = errors.New("nil amount")

// RequireAmount rejects nil amounts before they reach ledger arithmetic.
func RequireAmount(amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, errNilAmount)
	}
	return nil
}
