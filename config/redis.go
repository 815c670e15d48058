package config

import (
	"sync"
	"time"
)

var (
	redisOnce   sync.Once
	redisConfig *RedisConfig
)

// RedisConfig serves both the session store and the asynq queue.
type RedisConfig struct {
	Addr       string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password   string        `envconfig:"REDIS_PASSWORD"`
	DB         int           `envconfig:"REDIS_DB" default:"0"`
	Prefix     string        `envconfig:"REDIS_PREFIX" default:"organizer"`
	SessionTTL time.Duration `envconfig:"REDIS_SESSION_TTL" default:"168h"`
}

func GetRedisConfig() *RedisConfig {
	redisOnce.Do(func() {
		redisConfig = &RedisConfig{}
		mustProcess("", redisConfig)
	})
	return redisConfig
}
