// Package pipeline runs batches of files through extraction, naming and
// renaming, tracking each batch as a processing session.
package pipeline

import (
	"context"

	"github.com/feichai0017/file-organizer/internal/models"
)

// TextExtractor reads the text content of a stored file.
type TextExtractor interface {
	Extract(ctx context.Context, locator string, fileType models.FileType) (string, error)
}

// FilenameSuggester proposes a base name (no extension) for extracted text.
type FilenameSuggester interface {
	Suggest(ctx context.Context, text, originalName string) (string, error)
}

// FallbackNamer produces a deterministic name when the suggester fails.
type FallbackNamer interface {
	FallbackName(text string) string
}

// Renamer moves a stored file to a new base name, keeping its extension,
// and returns the new locator.
type Renamer interface {
	Rename(ctx context.Context, locator, newBaseName string) (string, error)
}

// Dispatcher hands a session to an out-of-process worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string) error
	// Cancel removes a session that no worker has picked up yet and reports
	// whether it did.
	Cancel(ctx context.Context, sessionID string) (bool, error)
}
