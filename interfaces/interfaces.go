package interfaces

import (
	"context"

	"github.com/holiman/uint256"
)

// PlatformAPI is the remote platform orchestration collaborator. All three
// calls are fallible independently of local state: a call that reports
// failure may still have partially succeeded remotely, so callers rely on
// idempotent re-entry rather than compensating transactions.
type PlatformAPI interface {
	// CreateInstance provisions a compute instance funded with the given
	// amount and controlled by the listed identities.
	CreateInstance(ctx context.Context, controllers []OwnerID, funding *uint256.Int) (InstanceID, error)

	// InstallImage installs the program image with the given initialization
	// arguments on an existing instance.
	InstallImage(ctx context.Context, instanceID InstanceID, image []byte, initArgs []byte) error

	// UpdateControllers replaces the instance's controller set. Handoff is
	// the call that drops the service, leaving only the owner.
	UpdateControllers(ctx context.Context, instanceID InstanceID, controllers []OwnerID) error
}

// Authorizer is the external authorization collaborator. Any failure is
// treated as ErrUnauthorized and aborts before the ledger is touched.
type Authorizer interface {
	// EnsureOwner rejects anonymous or otherwise unauthenticated callers.
	EnsureOwner(caller OwnerID) error

	// EnsureAdmin rejects callers without administrative privileges.
	EnsureAdmin(caller OwnerID) error
}
