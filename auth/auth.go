// Package auth provides caller authorization. The static authorizer covers
// development and single-operator deployments; production deployments plug a
// real identity provider in behind the same interface.
package auth

import (
	"fmt"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// StaticAuthorizer authorizes any validly identified owner and admits admins
// from a fixed allowlist.
type StaticAuthorizer struct {
	admins map[interfaces.OwnerID]struct{}
}

// NewStaticAuthorizer creates an authorizer with the given admin allowlist.
func NewStaticAuthorizer(admins []interfaces.OwnerID) *StaticAuthorizer {
	set := make(map[interfaces.OwnerID]struct{}, len(admins))
	for _, admin := range admins {
		set[admin] = struct{}{}
	}
	return &StaticAuthorizer{admins: set}
}

// EnsureOwner rejects anonymous or malformed caller identities.
func (a *StaticAuthorizer) EnsureOwner(caller interfaces.OwnerID) error {
	return caller.Validate()
}

// EnsureAdmin rejects callers outside the admin allowlist.
func (a *StaticAuthorizer) EnsureAdmin(caller interfaces.OwnerID) error {
	if err := caller.Validate(); err != nil {
		return err
	}
	if _, ok := a.admins[caller]; !ok {
		return fmt.Errorf("%w: caller %s is not an administrator", interfaces.ErrUnauthorized, caller)
	}
	return nil
}
