package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/file-organizer/config"
	"github.com/feichai0017/file-organizer/internal/bootstrap"
	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/queue"
	"github.com/feichai0017/file-organizer/pkg/worker"
)

func main() {
	cfg := config.GetAppConfig()

	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comp, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build pipeline", logger.Error(err))
		os.Exit(1)
	}
	defer comp.Close()

	// sessions arrive through the queue, so the orchestrator never dispatches
	orchestrator := comp.Orchestrator(nil, log)

	workerCfg := &worker.Config{
		Redis:       bootstrap.QueueConfig().RedisOpt(),
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{queue.DefaultQueue: 1},
		CleanupSpec: "@hourly",
	}
	sessionWorker, err := worker.NewSessionWorker(workerCfg, orchestrator, comp.Storage, cfg.RetentionPeriod, log)
	if err != nil {
		log.Error("Failed to create session worker", logger.Error(err))
		os.Exit(1)
	}

	if err := sessionWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.Int("concurrency", cfg.WorkerConcurrency))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	sessionWorker.Stop()
	log.Info("Worker stopped")
}
