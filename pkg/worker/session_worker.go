package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/queue"
)

// SessionRunner drives one processing session to a terminal state.
type SessionRunner interface {
	Run(ctx context.Context, sessionID string) error
}

// Cleaner removes stored objects older than a threshold.
type Cleaner interface {
	CleanupBefore(ctx context.Context, threshold time.Time) (int, error)
}

// SessionWorker consumes session tasks and runs periodic storage cleanup.
type SessionWorker struct {
	BaseWorker
	runner    SessionRunner
	cleaner   Cleaner
	retention time.Duration
	now       func() time.Time
}

func NewSessionWorker(cfg *Config, runner SessionRunner, cleaner Cleaner, retention time.Duration, log logger.Logger) (*SessionWorker, error) {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{queue.DefaultQueue: 1}
	}
	server := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queues,
	})

	var scheduler *asynq.Scheduler
	if cfg.CleanupSpec != "" && cleaner != nil {
		scheduler = asynq.NewScheduler(cfg.Redis, nil)
		if _, err := scheduler.Register(cfg.CleanupSpec, asynq.NewTask(queue.TaskTypeStorageCleanup, nil),
			asynq.Queue(queue.DefaultQueue), asynq.MaxRetry(0)); err != nil {
			return nil, fmt.Errorf("failed to register cleanup task: %w", err)
		}
	}

	w := newSessionWorker(runner, cleaner, retention, log)
	w.server = server
	w.scheduler = scheduler
	return w, nil
}

func newSessionWorker(runner SessionRunner, cleaner Cleaner, retention time.Duration, log logger.Logger) *SessionWorker {
	w := &SessionWorker{
		BaseWorker: BaseWorker{
			mux:      asynq.NewServeMux(),
			logger:   log.Named("worker"),
			stopChan: make(chan struct{}),
		},
		runner:    runner,
		cleaner:   cleaner,
		retention: retention,
		now:       time.Now,
	}
	w.registerHandlers()
	return w
}

func (w *SessionWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeSessionProcess, w.handleSession)
	w.mux.HandleFunc(queue.TaskTypeStorageCleanup, w.handleCleanup)
}

func (w *SessionWorker) handleSession(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseSessionPayload(t)
	if err != nil {
		w.logger.Error("Invalid session task",
			logger.String("payload", string(t.Payload())),
			logger.Error(err),
		)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With(logger.String("sessionId", payload.SessionID))
	log.Info("Processing session")

	if err := w.runner.Run(ctx, payload.SessionID); err != nil {
		log.Error("Session run failed", logger.Error(err))
		w.writeResult(t, map[string]string{"status": "failed", "error": err.Error()})
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	w.writeResult(t, map[string]string{"status": "done"})
	return nil
}

func (w *SessionWorker) handleCleanup(ctx context.Context, t *asynq.Task) error {
	if w.cleaner == nil {
		return nil
	}
	threshold := w.now().Add(-w.retention)
	removed, err := w.cleaner.CleanupBefore(ctx, threshold)
	if err != nil {
		w.logger.Error("Storage cleanup failed", logger.Error(err))
		return err
	}
	w.logger.Info("Storage cleanup finished",
		logger.Int("removed", removed),
		logger.Time("threshold", threshold),
	)
	return nil
}

// writeResult stores a small summary on the task; tasks handled outside a
// server have no result writer.
func (w *SessionWorker) writeResult(t *asynq.Task, v interface{}) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := rw.Write(data); err != nil {
		w.logger.Warn("Failed to write task result", logger.Error(err))
	}
}

// Start runs the server and scheduler until ctx is done.
func (w *SessionWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = w.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}

// Handler exposes the task mux.
func (w *SessionWorker) Handler() asynq.Handler {
	return w.mux
}
