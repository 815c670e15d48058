// Package bootstrap assembles the pipeline from configuration. The API server
// and the queue worker share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/file-organizer/config"
	"github.com/feichai0017/file-organizer/internal/agent"
	"github.com/feichai0017/file-organizer/internal/agent/naming"
	"github.com/feichai0017/file-organizer/internal/pipeline"
	"github.com/feichai0017/file-organizer/internal/store"
	"github.com/feichai0017/file-organizer/internal/store/postgres"
	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/queue"
	"github.com/feichai0017/file-organizer/pkg/storage"
)

// Components is everything built from configuration, ready to be wired into
// an orchestrator.
type Components struct {
	Config   *config.AppConfig
	Store    store.Store
	Storage  storage.Storage
	Factory  *agent.ProcessorFactory
	Executor *pipeline.StageExecutor

	redis *redis.Client
	pool  *pgxpool.Pool
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.AppConfig) (logger.Logger, error) {
	return logger.NewLogger(
		logger.WithLevel(cfg.LogLevel),
		logger.WithEncoding(cfg.LogEncoding),
		logger.WithOutputPaths(cfg.LogOutputs),
	)
}

// NewRedisClient connects to the redis named by config and pings it.
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	rc := config.GetRedisConfig()
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
	}
	return client, nil
}

// NewRedisStore wraps client with the configured key prefix and TTLs.
func NewRedisStore(client *redis.Client, cfg *config.AppConfig) *store.RedisStore {
	rc := config.GetRedisConfig()
	return store.NewRedisStore(client, &store.RedisConfig{
		Prefix:     rc.Prefix,
		SessionTTL: rc.SessionTTL,
		GuestTTL:   cfg.GuestTTL,
	})
}

// QueueConfig returns the asynq settings derived from the redis config.
func QueueConfig() *queue.Config {
	rc := config.GetRedisConfig()
	return &queue.Config{
		RedisAddr:     rc.Addr,
		RedisPassword: rc.Password,
		RedisDB:       rc.DB,
		Queue:         queue.DefaultQueue,
	}
}

// Build connects the stores, the object storage, the extraction backends and
// the naming model, and returns the stage executor over them.
func Build(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (*Components, error) {
	c := &Components{Config: cfg}

	client, err := NewRedisClient(ctx)
	if err != nil {
		return nil, err
	}
	c.redis = client
	var st store.Store = NewRedisStore(client, cfg)

	if cfg.UsageBackend == "postgres" {
		pc := config.GetPostgresConfig()
		pool, err := postgres.Connect(ctx, pc.DSN, pc.MaxConns)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.pool = pool
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			c.Close()
			return nil, err
		}
		st = store.WithUsage(st, postgres.NewUsageRepo(pool))
		log.Info("Usage counters stored in postgres")
	}
	c.Store = st

	objects, err := storage.NewStorage(storage.StorageType(cfg.StorageBackend), log)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	c.Storage = objects

	factory, err := agent.NewProcessorFactory(ctx, agent.FactoryOptions{
		OCRBackend:         cfg.OCRBackend,
		TesseractLanguages: cfg.TesseractLangs,
	}, log)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create processor factory: %w", err)
	}
	c.Factory = factory

	lc := config.GetLLMConfig()
	namingCfg := naming.Config{
		Provider:          lc.Provider,
		Model:             lc.Model,
		APIKey:            lc.OpenAIAPIKey,
		BaseURL:           lc.OpenAIBaseURL,
		OllamaHost:        lc.OllamaHost,
		RequestsPerSecond: lc.RequestsPerSecond,
		Burst:             lc.Burst,
		Timeout:           lc.Timeout,
	}
	model, err := naming.NewModel(namingCfg)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create naming model: %w", err)
	}

	var opts []pipeline.ExecutorOption
	if cfg.FallbackNaming {
		opts = append(opts, pipeline.WithFallback(naming.NewDateFallback(nil)))
	}
	c.Executor = pipeline.NewStageExecutor(
		st,
		agent.NewExtractor(objects, factory, cfg.MaxFileSize, log),
		naming.NewLLMSuggester(model, namingCfg, log),
		objects,
		log,
		opts...,
	)
	return c, nil
}

// Orchestrator builds an orchestrator over the components. A nil dispatcher
// runs sessions in local goroutines.
func (c *Components) Orchestrator(dispatcher pipeline.Dispatcher, log logger.Logger) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(c.Store, c.Executor, log, pipeline.Options{
		GuestLimit:       c.Config.GuestLimit,
		FreeMonthlyLimit: c.Config.FreeMonthlyLimit,
		MaxFiles:         c.Config.MaxBatchFiles,
		Dispatcher:       dispatcher,
	})
}

// Close releases every connection Build opened.
func (c *Components) Close() error {
	var errs []error
	if c.Factory != nil {
		errs = append(errs, c.Factory.Close())
	}
	if c.pool != nil {
		c.pool.Close()
	}
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	return errors.Join(errs...)
}
