package memory

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRename(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Store(ctx, strings.NewReader("hello"), "uploads/f1/scan.png", 5, "image/png")
	require.NoError(t, err)

	dst, err := s.Rename(ctx, "uploads/f1/scan.png", "Invoice_ACME")
	require.NoError(t, err)
	assert.Equal(t, "uploads/f1/Invoice_ACME.png", dst)

	_, err = s.Get(ctx, "uploads/f1/scan.png")
	assert.ErrorIs(t, err, ErrNotFound)

	rc, err := s.Get(ctx, dst)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(data))

	_, err = s.Rename(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupBefore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	clock := now.Add(-48 * time.Hour)
	s := New().WithClock(func() time.Time { return clock })
	_, _ = s.Store(ctx, strings.NewReader("old"), "old", 3, "")
	clock = now
	_, _ = s.Store(ctx, strings.NewReader("new"), "new", 3, "")

	n, err := s.CleanupBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"new"}, s.Keys())
}
