package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConflict is returned when a conditional write found the row in an unexpected state.
	ErrConflict = errors.New("persistence: conflicting update")
	// ErrForeignKeyViolation is returned when a referenced record is missing.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrReadOnly is returned when a write is attempted inside a read-only unit of work.
	ErrReadOnly = errors.New("persistence: read-only unit of work")
	// ErrBusy is returned when the backend could not acquire its write lock in time.
	ErrBusy = errors.New("persistence: storage busy")
)
