package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cfg "github.com/feichai0017/file-organizer/config"
	"github.com/feichai0017/file-organizer/internal/agent/document"
	"github.com/feichai0017/file-organizer/internal/agent/document/image"
	"github.com/feichai0017/file-organizer/internal/agent/document/pdf"
	"github.com/feichai0017/file-organizer/internal/agent/document/text"
	"github.com/feichai0017/file-organizer/pkg/logger"
)

const (
	OCRTesseract = "tesseract"
	OCRTextract  = "textract"
)

// FactoryOptions selects the OCR backend for images.
type FactoryOptions struct {
	OCRBackend         string
	TesseractLanguages []string
	PDFMaxPages        int
}

// ProcessorFactory maps MIME types to processors.
type ProcessorFactory struct {
	processors map[string]document.Processor
	logger     logger.Logger
}

// NewEmptyFactory returns a factory with nothing registered.
func NewEmptyFactory(log logger.Logger) *ProcessorFactory {
	return &ProcessorFactory{
		processors: make(map[string]document.Processor),
		logger:     log.Named("processors"),
	}
}

func NewProcessorFactory(ctx context.Context, opts FactoryOptions, log logger.Logger) (*ProcessorFactory, error) {
	factory := NewEmptyFactory(log)

	factory.Register(pdf.NewProcessor(log, opts.PDFMaxPages), "application/pdf")
	factory.Register(text.NewProcessor(0), "text/plain")

	var imageProcessor document.Processor
	switch opts.OCRBackend {
	case OCRTextract:
		textractCfg := cfg.GetTextractConfig()
		p, err := image.NewTextractProcessor(ctx, &image.TextractConfig{
			Region:        textractCfg.Region,
			Endpoint:      textractCfg.Endpoint,
			AccessKey:     textractCfg.AccessKey,
			SecretKey:     textractCfg.SecretKey,
			MinConfidence: float32(textractCfg.MinConfidence),
			EnableForms:   true,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create textract processor: %w", err)
		}
		imageProcessor = p
	case OCRTesseract, "":
		p, err := image.NewProcessor(log, &image.ProcessOptions{Languages: opts.TesseractLanguages})
		if err != nil {
			return nil, fmt.Errorf("failed to create image processor: %w", err)
		}
		imageProcessor = p
	default:
		return nil, fmt.Errorf("unsupported ocr backend: %s", opts.OCRBackend)
	}
	factory.Register(imageProcessor, "image/jpeg", "image/png")

	return factory, nil
}

// Register routes each MIME type to p.
func (f *ProcessorFactory) Register(p document.Processor, mimeTypes ...string) {
	for _, m := range mimeTypes {
		f.processors[m] = p
	}
}

// GetProcessor returns the processor for mimeType, ignoring parameters such
// as charset.
func (f *ProcessorFactory) GetProcessor(mimeType string) (document.Processor, error) {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))

	processor, ok := f.processors[base]
	if !ok {
		f.logger.Warn("No processor found", logger.String("mimeType", mimeType))
		return nil, fmt.Errorf("%w: %s", document.ErrUnsupportedType, mimeType)
	}
	return processor, nil
}

// Close closes every registered processor once.
func (f *ProcessorFactory) Close() error {
	seen := make(map[document.Processor]bool)
	var errs []error
	for _, p := range f.processors {
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
