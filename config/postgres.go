package config

import "sync"

var (
	postgresOnce   sync.Once
	postgresConfig *PostgresConfig
)

// PostgresConfig is only read when usage counters live in Postgres.
type PostgresConfig struct {
	DSN      string `envconfig:"POSTGRES_DSN"`
	MaxConns int32  `envconfig:"POSTGRES_MAX_CONNS" default:"8"`
}

func GetPostgresConfig() *PostgresConfig {
	postgresOnce.Do(func() {
		postgresConfig = &PostgresConfig{}
		mustProcess("", postgresConfig)
	})
	return postgresConfig
}
