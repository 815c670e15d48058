package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/feichai0017/file-organizer/internal/models"
)

// MemoryStore keeps everything in process. Reads return copies so callers
// cannot mutate stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.ProcessingSession
	cancels  map[string]bool
	files    map[string]*models.FileRecord
	usage    map[string]*models.UsageCounter
	guests   map[string]int
	profiles map[string]*models.UserProfile
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.ProcessingSession),
		cancels:  make(map[string]bool),
		files:    make(map[string]*models.FileRecord),
		usage:    make(map[string]*models.UsageCounter),
		guests:   make(map[string]int),
		profiles: make(map[string]*models.UserProfile),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *models.ProcessingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.ProcessingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := s.Clone()
	c.CancelRequested = c.CancelRequested || m.cancels[id]
	return c, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, s *models.ProcessingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) RequestCancel(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	m.cancels[sessionID] = true
	return nil
}

func (m *MemoryStore) CancelRequested(ctx context.Context, sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancels[sessionID], nil
}

func (m *MemoryStore) SaveFile(ctx context.Context, f *models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f.Clone()
	return nil
}

func (m *MemoryStore) GetFile(ctx context.Context, id string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (m *MemoryStore) GetFiles(ctx context.Context, ids []string) ([]*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.FileRecord, 0, len(ids))
	for _, id := range ids {
		f, ok := m.files[id]
		if !ok {
			return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		out = append(out, f.Clone())
	}
	return out, nil
}

func usageKey(ownerID string, year, month int) string {
	return ownerID + ":" + models.MonthKey(year, month)
}

func (m *MemoryStore) GetUsage(ctx context.Context, ownerID string, year, month int) (*models.UsageCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.usage[usageKey(ownerID, year, month)]; ok {
		return u.Clone(), nil
	}
	return &models.UsageCounter{OwnerID: ownerID, Year: year, Month: month, Days: map[int]models.DailyUsage{}}, nil
}

func (m *MemoryStore) IncrementUsage(ctx context.Context, ownerID string, at time.Time, d models.UsageDelta) error {
	at = at.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(ownerID, at.Year(), int(at.Month()))
	u, ok := m.usage[key]
	if !ok {
		u = models.NewUsageCounter(ownerID, at)
		m.usage[key] = u
	}
	u.Add(at.Day(), d)
	return nil
}

func (m *MemoryStore) ReserveUsage(ctx context.Context, ownerID string, at time.Time, n, limit int) (int, bool, error) {
	at = at.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(ownerID, at.Year(), int(at.Month()))
	u, ok := m.usage[key]
	if !ok {
		u = models.NewUsageCounter(ownerID, at)
		m.usage[key] = u
	}
	if limit >= 0 && u.FilesProcessed+n > limit {
		return u.FilesProcessed, false, nil
	}
	u.Add(at.Day(), models.UsageDelta{FilesProcessed: n})
	return u.FilesProcessed, true, nil
}

func (m *MemoryStore) GuestCount(ctx context.Context, guestID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guests[guestID], nil
}

func (m *MemoryStore) ReserveGuestFiles(ctx context.Context, guestID string, n, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.guests[guestID]
	if cur+n > limit {
		return cur, false, nil
	}
	m.guests[guestID] = cur + n
	return cur + n, true, nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *MemoryStore) SaveProfile(ctx context.Context, p *models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.profiles[p.ID] = &c
	return nil
}
