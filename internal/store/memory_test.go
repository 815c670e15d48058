package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-organizer/internal/models"
)

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	f := &models.FileRecord{ID: "a", Name: "a.png"}
	require.NoError(t, m.SaveFile(ctx, f))

	f.Name = "changed.png"
	got, err := m.GetFile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.png", got.Name)

	got.Name = "other.png"
	again, err := m.GetFile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.png", again.Name)
}

func TestMemoryStoreCancelFlag(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateSession(ctx, models.NewSession("s", models.Identity{UserID: "u"}, []string{"a"}, time.Now())))

	requested, err := m.CancelRequested(ctx, "s")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, m.RequestCancel(ctx, "s"))
	sess, err := m.GetSession(ctx, "s")
	require.NoError(t, err)
	assert.True(t, sess.CancelRequested)
	assert.ErrorIs(t, m.RequestCancel(ctx, "nope"), ErrNotFound)
}

func TestMemoryStoreUsage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	at := time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)
	require.NoError(t, m.IncrementUsage(ctx, "u", at, models.UsageDelta{FilesProcessed: 4, TextExtracted: 3}))
	require.NoError(t, m.IncrementUsage(ctx, "u", at, models.UsageDelta{FilesProcessed: 1}))

	u, err := m.GetUsage(ctx, "u", 2024, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, u.FilesProcessed)
	assert.Equal(t, 5, u.Days[29].FilesProcessed)
	assert.Equal(t, 3, u.TextExtracted)
}

func TestMemoryStoreReserveGuestFilesConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = m.ReserveGuestFiles(ctx, "g", 1, 5)
		}()
	}
	wg.Wait()

	n, err := m.GuestCount(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

type countingUsage struct {
	calls int
}

func (c *countingUsage) GetUsage(ctx context.Context, ownerID string, year, month int) (*models.UsageCounter, error) {
	return &models.UsageCounter{OwnerID: ownerID, Year: year, Month: month, FilesProcessed: 42}, nil
}

func (c *countingUsage) IncrementUsage(ctx context.Context, ownerID string, at time.Time, d models.UsageDelta) error {
	c.calls++
	return nil
}

func (c *countingUsage) ReserveUsage(ctx context.Context, ownerID string, at time.Time, n, limit int) (int, bool, error) {
	c.calls++
	return 42 + n, true, nil
}

func TestMemoryReserveUsage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	at := time.Date(2024, 4, 9, 8, 0, 0, 0, time.UTC)

	total, ok, err := m.ReserveUsage(ctx, "u", at, 3, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, total)

	total, ok, err = m.ReserveUsage(ctx, "u", at, 3, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, total)

	total, ok, err = m.ReserveUsage(ctx, "u", at, 30, -1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 33, total)

	// settling a reservation with a negative delta
	require.NoError(t, m.IncrementUsage(ctx, "u", at, models.UsageDelta{FilesProcessed: -30}))
	u, err := m.GetUsage(ctx, "u", 2024, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, u.FilesProcessed)
	assert.Equal(t, 3, u.Days[9].FilesProcessed)
}

func TestWithUsageRoutesCounters(t *testing.T) {
	ctx := context.Background()
	usage := &countingUsage{}
	s := WithUsage(NewMemoryStore(), usage)

	require.NoError(t, s.IncrementUsage(ctx, "u", time.Now(), models.UsageDelta{FilesProcessed: 1}))
	u, err := s.GetUsage(ctx, "u", 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, 42, u.FilesProcessed)
	assert.Equal(t, 1, usage.calls)
	total, ok, err := s.ReserveUsage(ctx, "u", time.Now(), 2, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 44, total)
	assert.Equal(t, 2, usage.calls)

	base := NewMemoryStore()
	assert.Same(t, base, WithUsage(base, nil))
}
