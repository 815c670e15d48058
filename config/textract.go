package config

import "sync"

var (
	textractOnce   sync.Once
	textractConfig *TextractConfig
)

type TextractConfig struct {
	Region        string  `envconfig:"AWS_REGION" default:"us-east-1"`
	Endpoint      string  `envconfig:"AWS_ENDPOINT"`
	AccessKey     string  `envconfig:"AWS_ACCESS_KEY"`
	SecretKey     string  `envconfig:"AWS_SECRET_KEY"`
	MinConfidence float64 `envconfig:"TEXTRACT_MIN_CONFIDENCE" default:"80"`
}

func GetTextractConfig() *TextractConfig {
	textractOnce.Do(func() {
		textractConfig = &TextractConfig{}
		mustProcess("", textractConfig)
	})
	return textractConfig
}
