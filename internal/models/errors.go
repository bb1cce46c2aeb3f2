package models

import "errors"

// Error taxonomy shared by the stores, the services and the HTTP layer.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrCorruptedBlob   = errors.New("corrupted blob")
	ErrStorageFailure  = errors.New("storage failure")
	ErrUnavailable     = errors.New("unavailable")
	ErrInvalidArgument = errors.New("invalid argument")
)
