package agent

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-organizer/internal/agent/document"
	"github.com/feichai0017/file-organizer/internal/agent/document/text"
	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/storage/memory"
	"github.com/feichai0017/file-organizer/pkg/storage/objkey"
)

type stubProcessor struct {
	out    string
	err    error
	got    []byte
	closed int
}

func (s *stubProcessor) CanProcess(string) bool { return true }

func (s *stubProcessor) Extract(ctx context.Context, r io.Reader) (string, error) {
	s.got, _ = io.ReadAll(r)
	return s.out, s.err
}

func (s *stubProcessor) Close() error {
	s.closed++
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func setup(t *testing.T) (*memory.Storage, *ProcessorFactory, *stubProcessor, *stubProcessor) {
	t.Helper()
	objects := memory.New()
	factory := NewEmptyFactory(logger.NewNop())
	img := &stubProcessor{out: "receipt text"}
	pdf := &stubProcessor{out: "pdf text"}
	factory.Register(img, "image/png", "image/jpeg")
	factory.Register(pdf, "application/pdf")
	factory.Register(text.NewProcessor(0), "text/plain")
	return objects, factory, img, pdf
}

func put(t *testing.T, objects *memory.Storage, name string, data []byte) string {
	t.Helper()
	key, err := objects.Store(context.Background(), bytes.NewReader(data), objkey.Upload("f1", name), int64(len(data)), "")
	require.NoError(t, err)
	return key
}

func TestExtractorRoutesByContent(t *testing.T) {
	objects, factory, img, pdf := setup(t)
	e := NewExtractor(objects, factory, 1<<20, logger.NewNop())
	ctx := context.Background()

	data := pngBytes(t)
	got, err := e.Extract(ctx, put(t, objects, "scan.png", data), models.FileTypeImage)
	require.NoError(t, err)
	assert.Equal(t, "receipt text", got)
	assert.Equal(t, data, img.got)

	// declared type is only advisory
	got, err = e.Extract(ctx, put(t, objects, "doc.png", []byte("%PDF-1.4\n%...")), models.FileTypeImage)
	require.NoError(t, err)
	assert.Equal(t, "pdf text", got)
	assert.NotEmpty(t, pdf.got)

	got, err = e.Extract(ctx, put(t, objects, "notes.txt", []byte("  hello world \n")), models.FileTypeDocument)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestExtractorErrors(t *testing.T) {
	objects, factory, img, _ := setup(t)
	e := NewExtractor(objects, factory, 64, logger.NewNop())
	ctx := context.Background()

	_, err := e.Extract(ctx, "uploads/missing/x.png", models.FileTypeImage)
	assert.ErrorIs(t, err, objkey.ErrNotFound)

	zip := []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00")
	_, err = e.Extract(ctx, put(t, objects, "a.zip", zip), models.FileTypeDocument)
	assert.ErrorIs(t, err, document.ErrUnsupportedType)

	_, err = e.Extract(ctx, put(t, objects, "big.txt", []byte(strings.Repeat("a", 65))), models.FileTypeDocument)
	assert.ErrorContains(t, err, "exceeds")

	img.err = errors.New("ocr crashed")
	_, err = e.Extract(ctx, put(t, objects, "small.png", pngBytes(t)), models.FileTypeImage)
	assert.ErrorContains(t, err, "ocr crashed")
}

func TestFactoryLookupAndClose(t *testing.T) {
	_, factory, img, pdf := setup(t)

	p, err := factory.GetProcessor("IMAGE/PNG")
	require.NoError(t, err)
	assert.Same(t, img, p)

	p, err = factory.GetProcessor("text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.True(t, p.CanProcess("text/plain"))

	_, err = factory.GetProcessor("video/mp4")
	assert.ErrorIs(t, err, document.ErrUnsupportedType)

	require.NoError(t, factory.Close())
	assert.Equal(t, 1, img.closed)
	assert.Equal(t, 1, pdf.closed)
}

func TestNewProcessorFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := NewProcessorFactory(context.Background(), FactoryOptions{OCRBackend: "magic"}, logger.NewNop())
	assert.Error(t, err)
}
