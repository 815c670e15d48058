package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/file-organizer/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	Redis       asynq.RedisClientOpt
	Concurrency int
	Queues      map[string]int
	// CleanupSpec is the cron spec for the storage cleanup task; empty disables it.
	CleanupSpec string
}

type BaseWorker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    logger.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// Stop shuts the worker down. Repeated or concurrent calls are no-ops.
func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		if w.server != nil {
			w.server.Shutdown()
		}
	})
	return nil
}
