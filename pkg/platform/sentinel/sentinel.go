package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, ledger backends and transports
// return these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in the store or on the ledger
// - ErrConflict: a concurrent writer got there first
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: backing medium absent, disabled or unreachable
// - ErrTimeout: a bounded call ran out of time
// - ErrUnauthorized: caller identity missing or rejected
//
// For validation errors (bad input, malformed hashes), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrTimeout      = errors.New("timeout")
	ErrUnauthorized = errors.New("unauthorized")
)
