package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var (
	appOnce   sync.Once
	appConfig *AppConfig
)

// AppConfig holds the service settings. Precedence is defaults, then the
// YAML file named by APP_CONFIG_FILE, then APP_* environment variables.
type AppConfig struct {
	ListenAddr        string        `yaml:"listenAddr" envconfig:"LISTEN_ADDR"`
	StorageBackend    string        `yaml:"storageBackend" envconfig:"STORAGE_BACKEND"`
	OCRBackend        string        `yaml:"ocrBackend" envconfig:"OCR_BACKEND"`
	DispatchMode      string        `yaml:"dispatchMode" envconfig:"DISPATCH_MODE"`
	UsageBackend      string        `yaml:"usageBackend" envconfig:"USAGE_BACKEND"`
	GuestLimit        int           `yaml:"guestLimit" envconfig:"GUEST_LIMIT"`
	FreeMonthlyLimit  int           `yaml:"freeMonthlyLimit" envconfig:"FREE_MONTHLY_LIMIT"`
	MaxBatchFiles     int           `yaml:"maxBatchFiles" envconfig:"MAX_BATCH_FILES"`
	MaxUploadFiles    int           `yaml:"maxUploadFiles" envconfig:"MAX_UPLOAD_FILES"`
	MaxFileSize       int64         `yaml:"maxFileSize" envconfig:"MAX_FILE_SIZE"`
	AllowedTypes      []string      `yaml:"allowedTypes" envconfig:"ALLOWED_TYPES"`
	GuestTTL          time.Duration `yaml:"guestTTL" envconfig:"GUEST_TTL"`
	RetentionPeriod   time.Duration `yaml:"retentionPeriod" envconfig:"RETENTION_PERIOD"`
	FallbackNaming    bool          `yaml:"fallbackNaming" envconfig:"FALLBACK_NAMING"`
	TesseractLangs    []string      `yaml:"tesseractLanguages" envconfig:"TESSERACT_LANGUAGES"`
	CORSOrigins       []string      `yaml:"corsOrigins" envconfig:"CORS_ORIGINS"`
	LogLevel          string        `yaml:"logLevel" envconfig:"LOG_LEVEL"`
	LogEncoding       string        `yaml:"logEncoding" envconfig:"LOG_ENCODING"`
	LogOutputs        []string      `yaml:"logOutputs" envconfig:"LOG_OUTPUTS"`
	WorkerConcurrency int           `yaml:"workerConcurrency" envconfig:"WORKER_CONCURRENCY"`
}

// DefaultAppConfig returns the built-in settings.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		ListenAddr:        ":8080",
		StorageBackend:    "minio",
		OCRBackend:        "tesseract",
		DispatchMode:      "local",
		UsageBackend:      "redis",
		GuestLimit:        5,
		FreeMonthlyLimit:  20,
		MaxBatchFiles:     100,
		MaxUploadFiles:    20,
		MaxFileSize:       50 * 1024 * 1024,
		AllowedTypes:      []string{".jpg", ".jpeg", ".png", ".pdf"},
		GuestTTL:          24 * time.Hour,
		RetentionPeriod:   30 * 24 * time.Hour,
		FallbackNaming:    true,
		TesseractLangs:    []string{"eng"},
		CORSOrigins:       []string{"*"},
		LogLevel:          "info",
		LogEncoding:       "json",
		LogOutputs:        []string{"stdout"},
		WorkerConcurrency: 5,
	}
}

// LoadAppConfig builds the settings from defaults, the YAML file at path
// (skipped when empty) and the environment.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := envconfig.Process("APP", cfg); err != nil {
		return nil, fmt.Errorf("failed to read APP environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *AppConfig) Validate() error {
	switch c.StorageBackend {
	case "minio", "s3", "memory":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.StorageBackend)
	}
	switch c.OCRBackend {
	case "tesseract", "textract":
	default:
		return fmt.Errorf("unsupported ocr backend: %s", c.OCRBackend)
	}
	switch c.DispatchMode {
	case "local", "queue":
	default:
		return fmt.Errorf("unsupported dispatch mode: %s", c.DispatchMode)
	}
	switch c.UsageBackend {
	case "redis", "postgres":
	default:
		return fmt.Errorf("unsupported usage backend: %s", c.UsageBackend)
	}
	if c.GuestLimit <= 0 || c.FreeMonthlyLimit <= 0 {
		return fmt.Errorf("quota limits must be positive")
	}
	if c.MaxUploadFiles <= 0 || c.MaxBatchFiles <= 0 || c.MaxFileSize <= 0 {
		return fmt.Errorf("upload limits must be positive")
	}
	return nil
}

// GetAppConfig loads the settings once, exiting on invalid configuration.
func GetAppConfig() *AppConfig {
	appOnce.Do(func() {
		loadEnv()
		cfg, err := LoadAppConfig(os.Getenv("APP_CONFIG_FILE"))
		if err != nil {
			panic(fmt.Sprintf("invalid application config: %v", err))
		}
		appConfig = cfg
	})
	return appConfig
}
