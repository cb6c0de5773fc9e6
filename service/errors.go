package service

import "errors"

// Error taxonomy. Wrap with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// errNoChange tells DeviceManager.update that the callback left the
// record untouched, so nothing is persisted.
var errNoChange = errors.New("no change")
