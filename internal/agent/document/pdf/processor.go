package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/file-organizer/pkg/logger"
)

const defaultMaxPages = 20

type Processor struct {
	logger   logger.Logger
	maxPages int
	workers  int
}

// NewProcessor reads at most maxPages pages per document; zero means the default.
func NewProcessor(log logger.Logger, maxPages int) *Processor {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Processor{
		logger:   log.Named("pdf"),
		maxPages: maxPages,
		workers:  4,
	}
}

func (p *Processor) CanProcess(mimeType string) bool {
	return mimeType == "application/pdf"
}

// Extract returns the plain text of the leading pages joined in page order.
func (p *Processor) Extract(ctx context.Context, file io.Reader) (string, error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	if numPages > p.maxPages {
		p.logger.Debug("Truncating pdf",
			logger.Int("pages", numPages),
			logger.Int("maxPages", p.maxPages),
		)
		numPages = p.maxPages
	}

	pages := make([]string, numPages)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}
			pages[pageNum-1] = cleanText(text)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	nonEmpty := pages[:0]
	for _, text := range pages {
		if text != "" {
			nonEmpty = append(nonEmpty, text)
		}
	}
	return strings.Join(nonEmpty, "\n\n"), nil
}

// cleanText collapses runs of blank space left by the layout engine.
func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func (p *Processor) Close() error {
	return nil
}
