package types

import "errors"

// Admission error taxonomy, reported synchronously to the submitter
// (spec.md §7). Each wraps a lower-level cause via fmt.Errorf("...: %w").
var (
	ErrBadArchive        = errors.New("BAD_ARCHIVE")
	ErrUnsafePath        = errors.New("UNSAFE_PATH")
	ErrBadMetadata       = errors.New("BAD_METADATA")
	ErrStorageFull       = errors.New("STORAGE_FULL")
	ErrBrokerUnavailable = errors.New("BROKER_UNAVAILABLE")
	ErrNotFound          = errors.New("NOT_FOUND")
)
