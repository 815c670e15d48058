// Package queue hands processing sessions to out-of-process workers over asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/file-organizer/pkg/logger"
)

const (
	TaskTypeSessionProcess = "session:process"
	TaskTypeStorageCleanup = "storage:cleanup"

	DefaultQueue = "default"
)

// SessionPayload names the session a worker should run.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// Config describes the redis connection and task options.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
	// Timeout bounds one session run on the worker.
	Timeout time.Duration
}

// RedisOpt returns the asynq connection options for cfg.
func (c *Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// AsynqQueue enqueues one task per session, keyed by the session id.
type AsynqQueue struct {
	client    taskClient
	inspector taskInspector
	queue     string
	timeout   time.Duration
	logger    logger.Logger
}

func NewAsynqQueue(cfg *Config, log logger.Logger) *AsynqQueue {
	redisOpt := cfg.RedisOpt()
	return newQueue(asynq.NewClient(redisOpt), asynq.NewInspector(redisOpt), cfg, log)
}

func newQueue(client taskClient, inspector taskInspector, cfg *Config, log logger.Logger) *AsynqQueue {
	q := &AsynqQueue{
		client:    client,
		inspector: inspector,
		queue:     cfg.Queue,
		timeout:   cfg.Timeout,
		logger:    log.Named("queue"),
	}
	if q.queue == "" {
		q.queue = DefaultQueue
	}
	if q.timeout <= 0 {
		q.timeout = 30 * time.Minute
	}
	return q
}

// NewSessionTask builds the task for sessionID. Sessions are never retried:
// a failed run leaves the session in its terminal failed state.
func NewSessionTask(sessionID, queue string, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(SessionPayload{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return asynq.NewTask(TaskTypeSessionProcess, payload,
		asynq.TaskID(sessionID),
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
	), nil
}

// ParseSessionPayload decodes a session task.
func ParseSessionPayload(t *asynq.Task) (*SessionPayload, error) {
	var p SessionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("invalid task data: missing session id")
	}
	return &p, nil
}

// Dispatch implements pipeline.Dispatcher.
func (q *AsynqQueue) Dispatch(ctx context.Context, sessionID string) error {
	task, err := NewSessionTask(sessionID, q.queue, q.timeout)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		q.logger.Error("Failed to enqueue session",
			logger.String("sessionId", sessionID),
			logger.Error(err),
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	q.logger.Info("Session enqueued",
		logger.String("sessionId", sessionID),
		logger.String("queue", info.Queue),
	)
	return nil
}

// Cancel deletes the session's task if no worker has started it. Active
// tasks are left alone; the worker observes the cancel flag instead.
func (q *AsynqQueue) Cancel(ctx context.Context, sessionID string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, sessionID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect task: %w", err)
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
	default:
		return false, nil
	}

	if err := q.inspector.DeleteTask(q.queue, sessionID); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return false, nil
		}
		// picked up between the two calls
		q.logger.Warn("Failed to delete queued session",
			logger.String("sessionId", sessionID),
			logger.Error(err),
		)
		return false, nil
	}
	q.logger.Info("Queued session removed", logger.String("sessionId", sessionID))
	return true, nil
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}
