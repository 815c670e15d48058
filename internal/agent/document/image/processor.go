package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/file-organizer/pkg/logger"
)

// ProcessOptions configures tesseract.
type ProcessOptions struct {
	Languages        []string
	PageSegMode      gosseract.PageSegMode
	PreprocessConfig *PreprocessConfig
}

// Processor runs local OCR with tesseract after an imaging preprocessing pass.
type Processor struct {
	logger        logger.Logger
	preprocessors []Preprocessor
	config        *ProcessOptions
}

func NewProcessor(log logger.Logger, opts *ProcessOptions) (*Processor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts == nil {
		opts = &ProcessOptions{}
	}
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	if opts.PageSegMode == 0 {
		opts.PageSegMode = gosseract.PSM_AUTO
	}

	return &Processor{
		logger:        log.Named("tesseract"),
		preprocessors: NewPipeline(opts.PreprocessConfig),
		config:        opts,
	}, nil
}

func (p *Processor) CanProcess(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png":
		return true
	default:
		return false
	}
}

// Extract decodes, preprocesses and OCRs one image.
func (p *Processor) Extract(ctx context.Context, file io.Reader) (string, error) {
	img, _, err := image.Decode(file)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	processed, err := Preprocess(img, p.preprocessors)
	if err != nil {
		p.logger.Error("Preprocessing failed", logger.Error(err))
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, processed); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	// gosseract clients are not safe for concurrent use
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(p.config.Languages...); err != nil {
		return "", fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(p.config.PageSegMode); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to get text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Preprocess runs img through chain in order.
func Preprocess(img image.Image, chain []Preprocessor) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	result := img
	for _, pre := range chain {
		var err error
		result, err = pre.Process(result)
		if err != nil {
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if result == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}
	return result, nil
}

func (p *Processor) Close() error {
	return nil
}
