package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/queue"
)

type fakeRunner struct {
	ran []string
	err error
}

func (f *fakeRunner) Run(ctx context.Context, id string) error {
	f.ran = append(f.ran, id)
	return f.err
}

type fakeCleaner struct {
	threshold time.Time
	err       error
}

func (f *fakeCleaner) CleanupBefore(ctx context.Context, threshold time.Time) (int, error) {
	f.threshold = threshold
	return 3, f.err
}

func TestHandleSession(t *testing.T) {
	runner := &fakeRunner{}
	w := newSessionWorker(runner, nil, 0, logger.NewNop())

	task, err := queue.NewSessionTask("s-1", queue.DefaultQueue, time.Minute)
	require.NoError(t, err)
	require.NoError(t, w.Handler().ProcessTask(context.Background(), task))
	assert.Equal(t, []string{"s-1"}, runner.ran)

	runner.err = errors.New("store down")
	err = w.Handler().ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleSessionRejectsBadPayload(t *testing.T) {
	runner := &fakeRunner{}
	w := newSessionWorker(runner, nil, 0, logger.NewNop())

	err := w.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeSessionProcess, []byte("{}")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, runner.ran)
}

func TestHandleCleanup(t *testing.T) {
	cleaner := &fakeCleaner{}
	w := newSessionWorker(&fakeRunner{}, cleaner, 24*time.Hour, logger.NewNop())
	now := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.NoError(t, w.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeStorageCleanup, nil)))
	assert.Equal(t, now.Add(-24*time.Hour), cleaner.threshold)

	cleaner.err = errors.New("list failed")
	assert.Error(t, w.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeStorageCleanup, nil)))
}

func TestStopIsIdempotent(t *testing.T) {
	w := newSessionWorker(&fakeRunner{}, nil, 0, logger.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Stop())
		}()
	}
	wg.Wait()
	assert.NoError(t, w.Stop())

	select {
	case <-w.stopChan:
	default:
		t.Fatal("stop channel not closed")
	}
}
