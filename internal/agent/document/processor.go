// Package document turns stored files into plain text.
package document

import (
	"context"
	"errors"
	"io"
)

// ErrUnsupportedType is returned when no processor handles a MIME type.
var ErrUnsupportedType = errors.New("unsupported file type")

// Processor extracts the text content of one family of documents.
type Processor interface {
	// CanProcess reports whether the processor handles mimeType.
	CanProcess(mimeType string) bool

	// Extract returns the document's text. An empty string with a nil error
	// means the document carries no readable text.
	Extract(ctx context.Context, reader io.Reader) (string, error)

	// Close releases resources held by the processor.
	Close() error
}
