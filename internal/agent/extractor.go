// Package agent wires document processors into the pipeline's text
// extraction step.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/pkg/logger"
)

// ObjectReader opens stored objects by key.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Extractor loads a stored file, sniffs its content type and hands it to the
// matching processor.
type Extractor struct {
	objects  ObjectReader
	factory  *ProcessorFactory
	maxBytes int64
	logger   logger.Logger
}

// NewExtractor reads at most maxBytes of each object.
func NewExtractor(objects ObjectReader, factory *ProcessorFactory, maxBytes int64, log logger.Logger) *Extractor {
	return &Extractor{
		objects:  objects,
		factory:  factory,
		maxBytes: maxBytes,
		logger:   log.Named("extractor"),
	}
}

func (e *Extractor) Extract(ctx context.Context, locator string, fileType models.FileType) (string, error) {
	rc, err := e.objects.Get(ctx, locator)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", locator, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, e.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", locator, err)
	}
	if int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("file %s exceeds %d bytes", locator, e.maxBytes)
	}

	detected := mimetype.Detect(data)
	if got := models.FileTypeFromMIME(detected.String()); fileType != "" && got != fileType {
		e.logger.Warn("Declared file type differs from content",
			logger.String("locator", locator),
			logger.String("declared", string(fileType)),
			logger.String("detected", detected.String()),
		)
	}

	processor, err := e.factory.GetProcessor(detected.String())
	if err != nil {
		return "", err
	}
	text, err := processor.Extract(ctx, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	e.logger.Debug("Extracted text",
		logger.String("locator", locator),
		logger.String("mimeType", detected.String()),
		logger.Int("chars", len(text)),
	)
	return text, nil
}
