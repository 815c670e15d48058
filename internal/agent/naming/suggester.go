// Package naming proposes filenames for extracted document text.
package naming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"

	"github.com/feichai0017/file-organizer/pkg/logger"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config selects and tunes the language model.
type Config struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	OllamaHost        string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	MaxTextRunes      int
	MaxNameLength     int
}

// ErrEmptySuggestion is returned when the model answers with nothing usable.
var ErrEmptySuggestion = errors.New("model returned no usable name")

const systemPrompt = `You name documents. Given the text of a scanned document, reply with a short,
descriptive filename without extension. Use words separated by underscores,
start with the document type (for example Invoice, Receipt, Report, Contract),
include the issuer and a date when present. Reply with the filename only.`

// NewModel builds the langchaingo model named by cfg.
func NewModel(cfg Config) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.OllamaHost != "" {
			opts = append(opts, ollama.WithServerURL(cfg.OllamaHost))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama model: %w", err)
		}
		return model, nil
	case ProviderOpenAI, "":
		if cfg.APIKey == "" {
			return nil, errors.New("openai api key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai model: %w", err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// LLMSuggester asks a language model for a filename. Calls are rate limited
// so a large batch cannot exhaust the provider quota.
type LLMSuggester struct {
	llm          llms.Model
	limiter      *rate.Limiter
	logger       logger.Logger
	timeout      time.Duration
	maxTextRunes int
	maxNameLen   int
}

// NewLLMSuggester wraps model with the limits in cfg.
func NewLLMSuggester(model llms.Model, cfg Config, log logger.Logger) *LLMSuggester {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = 4000
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = DefaultMaxNameLength
	}
	return &LLMSuggester{
		llm:          model,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		logger:       log.Named("naming"),
		timeout:      cfg.Timeout,
		maxTextRunes: cfg.MaxTextRunes,
		maxNameLen:   cfg.MaxNameLength,
	}
}

// Suggest returns a sanitized base name for text.
func (s *LLMSuggester) Suggest(ctx context.Context, text, originalName string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Original filename: %s\n\nDocument text:\n%s\n\nFilename:", originalName, truncateRunes(text, s.maxTextRunes))
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}
	resp, err := s.llm.GenerateContent(ctx, messages, llms.WithTemperature(0.2), llms.WithMaxTokens(40))
	if err != nil {
		return "", fmt.Errorf("generate filename: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptySuggestion
	}
	name := Sanitize(resp.Choices[0].Content, s.maxNameLen)
	if name == "" {
		return "", ErrEmptySuggestion
	}
	s.logger.Debug("Suggested filename",
		logger.String("original", originalName),
		logger.String("suggested", name),
	)
	return name, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// DefaultMaxNameLength caps generated base names.
const DefaultMaxNameLength = 80

// Sanitize turns a model answer into a safe base name: first line only,
// no quotes or extension, path separators and whitespace collapsed to "_".
func Sanitize(raw string, maxLen int) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = strings.Trim(line, "\"'` ")
	if i := strings.LastIndex(line, "."); i > 0 && len(line)-i <= 5 {
		line = line[:i]
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range line {
		switch {
		case r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_-")
	if maxLen > 0 && utf8.RuneCountInString(name) > maxLen {
		name = strings.TrimRight(truncateRunes(name, maxLen), "_-")
	}
	return name
}
