package store

import "errors"

// Lifecycle errors.
var (
	ErrNotReady          = errors.New("store is not initialized")
	ErrMissingCredential = errors.New("vector service API key is required")
	ErrCreateIndex       = errors.New("failed to create index")
	ErrAmbiguousCreate   = errors.New("index not ready after creation")
	ErrUpsert            = errors.New("failed to store data")
)

// Validation reasons attached to rejected records.
var (
	ErrNotMapping        = errors.New("record is not a mapping")
	ErrMissingID         = errors.New("record has no \"id\" key")
	ErrInvalidID         = errors.New("record id must be a non-empty string")
	ErrMissingText       = errors.New("record has no text field")
	ErrMissingValues     = errors.New("nested record has no values")
	ErrInvalidValues     = errors.New("record values are not a list of numbers")
	ErrDimensionMismatch = errors.New("record values do not match the index dimension")
	ErrShapeMismatch     = errors.New("record shape differs from the batch shape")
)
