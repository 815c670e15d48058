package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-organizer/internal/models"
)

func newTestRepo(t *testing.T) *UsageRepo {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))
	return NewUsageRepo(pool)
}

func TestUsageRepoIncrementAndSum(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := "test-" + uuid.NewString()
	d1 := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.IncrementUsage(ctx, owner, d1, models.UsageDelta{FilesProcessed: 2, TextExtracted: 1}))
	require.NoError(t, repo.IncrementUsage(ctx, owner, d2, models.UsageDelta{FilesProcessed: 1, FilesRenamed: 1, APICallsMade: 1}))

	u, err := repo.GetUsage(ctx, owner, 2024, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, u.FilesProcessed)
	assert.Equal(t, 1, u.TextExtracted)
	assert.Equal(t, 1, u.FilesRenamed)
	assert.Equal(t, 1, u.APICallsMade)
	assert.Len(t, u.Days, 2)
}

func TestUsageRepoConcurrentIncrements(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := "test-" + uuid.NewString()
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.IncrementUsage(ctx, owner, at, models.UsageDelta{FilesProcessed: 1}))
		}()
	}
	wg.Wait()

	u, err := repo.GetUsage(ctx, owner, 2024, 6)
	require.NoError(t, err)
	assert.Equal(t, 10, u.FilesProcessed)
}

func TestUsageRepoReserveUsage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := "test-" + uuid.NewString()
	at := time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.ReserveUsage(ctx, owner, at, 2, 5)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				admitted += 2
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, admitted)
	u, err := repo.GetUsage(ctx, owner, 2024, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, u.FilesProcessed)
}

func TestUsageRepoErrorsNameFailedOperation(t *testing.T) {
	ctx := context.Background()

	_, err := Connect(ctx, "postgres://user@localhost:notaport/db", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse postgres dsn")

	pool, err := Connect(ctx, "postgres://user@127.0.0.1:1/db?connect_timeout=1", 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	repo := NewUsageRepo(pool)
	day := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

	err = repo.IncrementUsage(ctx, "u1", day, models.UsageDelta{FilesProcessed: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to increment usage for u1")

	_, err = repo.GetUsage(ctx, "u1", 2024, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query usage for u1")

	_, _, err = repo.ReserveUsage(ctx, "u1", day, 1, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start usage reservation")
}
