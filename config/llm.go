package config

import (
	"sync"
	"time"
)

var (
	llmOnce   sync.Once
	llmConfig *LLMConfig
)

type LLMConfig struct {
	Provider          string        `envconfig:"LLM_PROVIDER" default:"openai"`
	Model             string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL"`
	OllamaHost        string        `envconfig:"OLLAMA_HOST"`
	RequestsPerSecond float64       `envconfig:"LLM_REQUESTS_PER_SECOND" default:"2"`
	Burst             int           `envconfig:"LLM_BURST" default:"4"`
	Timeout           time.Duration `envconfig:"LLM_TIMEOUT" default:"30s"`
}

func GetLLMConfig() *LLMConfig {
	llmOnce.Do(func() {
		llmConfig = &LLMConfig{}
		mustProcess("", llmConfig)
	})
	return llmConfig
}
