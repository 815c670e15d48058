package naming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/feichai0017/file-organizer/pkg/logger"
)

type fakeModel struct {
	answer   string
	err      error
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.answer}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.answer, m.err
}

func TestSuggestSanitizesAnswer(t *testing.T) {
	model := &fakeModel{answer: "\"Invoice ACME 2024-03.pdf\"\nextra commentary"}
	s := NewLLMSuggester(model, Config{RequestsPerSecond: 100, Burst: 10}, logger.NewNop())

	name, err := s.Suggest(context.Background(), "Invoice from ACME", "scan.png")
	require.NoError(t, err)
	assert.Equal(t, "Invoice_ACME_2024-03", name)

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
}

func TestSuggestErrors(t *testing.T) {
	s := NewLLMSuggester(&fakeModel{err: errors.New("503")}, Config{RequestsPerSecond: 100}, logger.NewNop())
	_, err := s.Suggest(context.Background(), "text", "a.png")
	assert.Error(t, err)

	s = NewLLMSuggester(&fakeModel{answer: " ... "}, Config{RequestsPerSecond: 100}, logger.NewNop())
	_, err = s.Suggest(context.Background(), "text", "a.png")
	assert.ErrorIs(t, err, ErrEmptySuggestion)
}

func TestSuggestHonoursCancelledContext(t *testing.T) {
	s := NewLLMSuggester(&fakeModel{answer: "x"}, Config{RequestsPerSecond: 0.001, Burst: 1}, logger.NewNop())
	_, err := s.Suggest(context.Background(), "text", "a.png")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Suggest(ctx, "text", "a.png")
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Receipt_Starbucks_2024-01-02", "Receipt_Starbucks_2024-01-02"},
		{"  'Report: Q3 / sales'  ", "Report_Q3_sales"},
		{"file.name.txt", "file_name"},
		{"../../etc/passwd", "etc_passwd"},
		{"Café Rechnung", "Café_Rechnung"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in, 80), tt.in)
	}
	assert.Equal(t, "abcde", Sanitize("abcdefgh", 5))
}

func TestFallbackName(t *testing.T) {
	day := time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC)
	f := NewDateFallback(func() time.Time { return day })

	assert.Equal(t, "Invoice_2024-03-14", f.FallbackName("INVOICE #42 total due"))
	assert.Equal(t, "Receipt_2024-03-14", f.FallbackName("Thank you, here is your receipt"))
	assert.Equal(t, "Report_2024-03-14", f.FallbackName("Quarterly report"))
	assert.Equal(t, "Document_2024-03-14", f.FallbackName("hello world"))

	first := f.FallbackName("Invoice from ACME")
	assert.Equal(t, first, f.FallbackName("Invoice from ACME"))
}
