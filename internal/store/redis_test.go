package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-organizer/internal/models"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, &RedisConfig{Prefix: "test"}), mr
}

func TestRedisSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	sess := models.NewSession("s1", models.Identity{UserID: "u1"}, []string{"a", "b"}, now)
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.Error(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, []string{"a", "b"}, got.FileIDs)

	require.NoError(t, got.Start(now))
	require.NoError(t, s.UpdateSession(ctx, got))

	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.False(t, got.CancelRequested)

	require.NoError(t, s.RequestCancel(ctx, "s1"))
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.RequestCancel(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateSession(ctx, &models.ProcessingSession{ID: "missing"}), ErrNotFound)
}

func TestRedisSessionTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	sess := models.NewSession("s1", models.Identity{GuestID: "g"}, []string{"a"}, time.Now())
	require.NoError(t, s.CreateSession(ctx, sess))

	mr.FastForward(8 * 24 * time.Hour)
	_, err := s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisGetFilesKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveFile(ctx, &models.FileRecord{ID: id, Name: id + ".png"}))
	}

	files, err := s.GetFiles(ctx, []string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "c", files[0].ID)
	assert.Equal(t, "a", files[1].ID)

	_, err = s.GetFiles(ctx, []string{"a", "zz"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisUsageAggregatesMatchDays(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.IncrementUsage(ctx, "u1", day1, models.UsageDelta{FilesProcessed: 2, TextExtracted: 2, FilesRenamed: 1, APICallsMade: 2}))
	require.NoError(t, s.IncrementUsage(ctx, "u1", day2, models.UsageDelta{FilesProcessed: 3, FilesRenamed: 3}))
	require.NoError(t, s.IncrementUsage(ctx, "u1", day2, models.UsageDelta{}))

	u, err := s.GetUsage(ctx, "u1", 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, u.FilesProcessed)
	assert.Equal(t, 2, u.TextExtracted)
	assert.Equal(t, 4, u.FilesRenamed)
	assert.Equal(t, 2, u.APICallsMade)
	assert.Equal(t, 2, u.Days[1].FilesProcessed)
	assert.Equal(t, 3, u.Days[15].FilesRenamed)

	empty, err := s.GetUsage(ctx, "u1", 2024, 4)
	require.NoError(t, err)
	assert.Zero(t, empty.FilesProcessed)
	assert.Empty(t, empty.Days)
}

func TestRedisReserveGuestFiles(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	count, ok, err := s.ReserveGuestFiles(ctx, "g1", 3, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, count)

	count, ok, err = s.ReserveGuestFiles(ctx, "g1", 4, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, count)

	n, err := s.GuestCount(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.GuestCount(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisReserveGuestFilesConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ReserveGuestFiles(ctx, "g", 2, 5)
			if err == nil && ok {
				mu.Lock()
				admitted += 2
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, admitted, 5)
	n, err := s.GuestCount(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, admitted, n)
}

func TestRedisProfiles(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	_, err := s.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveProfile(ctx, &models.UserProfile{ID: "u1", Role: models.RolePremium, MonthlyLimit: 20}))
	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RolePremium, p.Role)
}

func TestRedisReserveUsage(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	at := time.Date(2024, 4, 9, 8, 0, 0, 0, time.UTC)

	total, ok, err := s.ReserveUsage(ctx, "u1", at, 4, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, total)

	total, ok, err = s.ReserveUsage(ctx, "u1", at, 2, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 4, total)

	require.NoError(t, s.IncrementUsage(ctx, "u1", at, models.UsageDelta{FilesProcessed: -1, TextExtracted: 3}))
	u, err := s.GetUsage(ctx, "u1", 2024, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, u.FilesProcessed)
	assert.Equal(t, 3, u.Days[9].FilesProcessed)
	assert.Equal(t, 3, u.TextExtracted)
}

func TestRedisReserveUsageConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	at := time.Date(2024, 4, 9, 8, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ReserveUsage(ctx, "u1", at, 2, 5)
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
	u, err := s.GetUsage(ctx, "u1", 2024, 4)
	require.NoError(t, err)
	assert.Equal(t, admitted, u.FilesProcessed)
}
