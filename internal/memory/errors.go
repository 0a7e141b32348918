package memory

import (
	"errors"
	"fmt"
)

// ErrStoreClosed is returned for operations against a closed store.
var ErrStoreClosed = errors.New("memory: store is closed")

// ValidationError describes malformed input rejected before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("memory: invalid %s: %s", e.Field, e.Reason)
}

// IntegrityError describes on-disk state that must never be silently fixed:
// a file missing its identity marker, or a checksum mismatch on read.
type IntegrityError struct {
	Path   string
	ID     string
	Reason string
}

func (e *IntegrityError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("memory: integrity violation for %s: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("memory: integrity violation in %s: %s", e.Path, e.Reason)
}

// StorageError wraps a filesystem failure during a store operation, carrying
// enough context to report or retry.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("memory: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
