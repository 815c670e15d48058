package text

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Processor passes plain text files through unchanged.
type Processor struct {
	maxBytes int64
}

func NewProcessor(maxBytes int64) *Processor {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Processor{maxBytes: maxBytes}
}

func (p *Processor) CanProcess(mimeType string) bool {
	return mimeType == "text/plain"
}

func (p *Processor) Extract(ctx context.Context, reader io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(reader, p.maxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("text is not valid utf-8")
	}
	return strings.TrimSpace(string(data)), nil
}

func (p *Processor) Close() error {
	return nil
}
