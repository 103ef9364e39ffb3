package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrOperationDisabled  = errors.New("operation disabled")
	ErrNoEligibleInstance = errors.New("no eligible database instance")
	ErrAmbiguousDefault   = errors.New("default database instance is ambiguous")
	// ErrConsistency marks assembled state that should exist but does not, or a
	// schema id claimed by more than one owner. Always an internal error.
	ErrConsistency = errors.New("consistency error")
	// ErrPhysicalEngine wraps failures reported by the underlying database server.
	ErrPhysicalEngine         = errors.New("database engine error")
	ErrTransientConnect       = errors.New("transient connection error")
	ErrCredentialsKeyMismatch = errors.New("schema credentials were encrypted with a different key")
)
