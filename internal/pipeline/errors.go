package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrFileNotFound is returned when a submitted file id does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrSessionTerminal is returned when cancelling a finished session.
	ErrSessionTerminal = errors.New("session already finished")
	// ErrNotOwner is returned when the caller does not own the session or file.
	ErrNotOwner = errors.New("not owner")
	// ErrFileBusy is returned when a submitted file belongs to a session
	// that has not finished.
	ErrFileBusy = errors.New("file is already being processed")
	// ErrCancelled stops a stage at the next file boundary.
	ErrCancelled = errors.New("session cancelled")
)

// QuotaExceededError rejects a batch before any session is created.
type QuotaExceededError struct {
	Remaining int `json:"remaining"`
	Requested int `json:"requested"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: requested %d, remaining %d", e.Requested, e.Remaining)
}

// ValidationError is a malformed request.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ExtractionError means the source was unreadable or unsupported.
type ExtractionError struct {
	FileID string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.FileID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// SuggestionError means the naming provider could not produce a name.
type SuggestionError struct {
	FileID string
	Err    error
}

func (e *SuggestionError) Error() string {
	if e.FileID == "" {
		return fmt.Sprintf("name suggestion failed: %v", e.Err)
	}
	return fmt.Sprintf("name suggestion failed for %s: %v", e.FileID, e.Err)
}

func (e *SuggestionError) Unwrap() error { return e.Err }

// RenameError means the storage move failed.
type RenameError struct {
	FileID string
	Err    error
}

func (e *RenameError) Error() string {
	return fmt.Sprintf("rename failed for %s: %v", e.FileID, e.Err)
}

func (e *RenameError) Unwrap() error { return e.Err }
