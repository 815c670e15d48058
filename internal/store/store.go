// Package store persists sessions, file records, usage counters and guest
// counters for the processing pipeline.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/feichai0017/file-organizer/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SessionStore persists processing sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.ProcessingSession) error
	GetSession(ctx context.Context, id string) (*models.ProcessingSession, error)
	UpdateSession(ctx context.Context, s *models.ProcessingSession) error
	// RequestCancel raises a flag the running pipeline checks between files.
	RequestCancel(ctx context.Context, sessionID string) error
	CancelRequested(ctx context.Context, sessionID string) (bool, error)
}

// FileStore persists file records.
type FileStore interface {
	SaveFile(ctx context.Context, f *models.FileRecord) error
	GetFile(ctx context.Context, id string) (*models.FileRecord, error)
	// GetFiles returns records in the order of ids, or ErrNotFound if any is missing.
	GetFiles(ctx context.Context, ids []string) ([]*models.FileRecord, error)
}

// UsageStore keeps monthly usage counters. Increments are atomic per owner-month.
type UsageStore interface {
	// GetUsage returns the month's counter, empty when nothing was recorded.
	GetUsage(ctx context.Context, ownerID string, year, month int) (*models.UsageCounter, error)
	IncrementUsage(ctx context.Context, ownerID string, at time.Time, d models.UsageDelta) error
	// ReserveUsage adds n processed files to the month containing at only if
	// the month total stays within limit; a negative limit never rejects. It
	// returns the month total after the call and whether n was added.
	ReserveUsage(ctx context.Context, ownerID string, at time.Time, n, limit int) (int, bool, error)
}

// GuestStore tracks how many files each guest identity has been admitted.
type GuestStore interface {
	GuestCount(ctx context.Context, guestID string) (int, error)
	// ReserveGuestFiles adds n to the guest's count only if the result stays
	// within limit. It returns the count after the call and whether it was added.
	ReserveGuestFiles(ctx context.Context, guestID string, n, limit int) (int, bool, error)
}

// ProfileStore persists registered user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, p *models.UserProfile) error
}

// Store is everything the pipeline and the API need.
type Store interface {
	SessionStore
	FileStore
	UsageStore
	GuestStore
	ProfileStore
}

type withUsage struct {
	Store
	usage UsageStore
}

func (w *withUsage) GetUsage(ctx context.Context, ownerID string, year, month int) (*models.UsageCounter, error) {
	return w.usage.GetUsage(ctx, ownerID, year, month)
}

func (w *withUsage) IncrementUsage(ctx context.Context, ownerID string, at time.Time, d models.UsageDelta) error {
	return w.usage.IncrementUsage(ctx, ownerID, at, d)
}

func (w *withUsage) ReserveUsage(ctx context.Context, ownerID string, at time.Time, n, limit int) (int, bool, error) {
	return w.usage.ReserveUsage(ctx, ownerID, at, n, limit)
}

// WithUsage returns base with usage counters served by usage instead.
func WithUsage(base Store, usage UsageStore) Store {
	if usage == nil {
		return base
	}
	return &withUsage{Store: base, usage: usage}
}
