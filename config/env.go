// Package config loads service settings from .env, the environment and an
// optional YAML file.
package config

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var envOnce sync.Once

// loadEnv reads the .env at the project root once. Variables already set in
// the environment win.
func loadEnv() {
	envOnce.Do(func() {
		envPath := os.Getenv("APP_ENV_FILE")
		if envPath == "" {
			_, filename, _, _ := runtime.Caller(0)
			envPath = filepath.Join(filepath.Dir(filepath.Dir(filename)), ".env")
		}
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
		}
	})
}

func mustProcess(prefix string, spec interface{}) {
	loadEnv()
	if err := envconfig.Process(prefix, spec); err != nil {
		log.Printf("Warning: invalid %s configuration: %v", prefix, err)
	}
}
