package interfaces

import "errors"

// Error taxonomy shared by every component. Components wrap these sentinels
// with fmt.Errorf("%w: ...") so callers can classify with errors.Is while the
// message stays specific enough for operator diagnosis.
var (
	// ErrUnauthorized is returned when the caller is not the owner or an
	// admin. Authorization failures abort before any state is touched.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a record, session, object, or registry
	// entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed input such as an oversize
	// chunk, a bad identifier, or an unparseable amount.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict is returned when a stage precondition is not met, e.g. a
	// duplicate active session, a write-once chunk received twice, or a
	// handoff attempted before verification.
	ErrConflict = errors.New("conflict")

	// ErrResourceExhausted is returned when the ledger is below its minimum
	// threshold or a request exceeds the available reserve.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrInternal is returned for integrity failures: checksum or manifest
	// mismatches, post-write readback failures, and unexpected remote API
	// responses.
	ErrInternal = errors.New("internal error")
)
