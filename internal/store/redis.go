package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/file-organizer/internal/models"
)

// RedisConfig controls key prefixes and retention.
type RedisConfig struct {
	Prefix     string
	SessionTTL time.Duration
	FileTTL    time.Duration
	GuestTTL   time.Duration
	UsageTTL   time.Duration
}

func (c *RedisConfig) withDefaults() *RedisConfig {
	out := RedisConfig{Prefix: "organizer", SessionTTL: 7 * 24 * time.Hour, FileTTL: 30 * 24 * time.Hour,
		GuestTTL: 24 * time.Hour, UsageTTL: 400 * 24 * time.Hour}
	if c == nil {
		return &out
	}
	if c.Prefix != "" {
		out.Prefix = c.Prefix
	}
	if c.SessionTTL > 0 {
		out.SessionTTL = c.SessionTTL
	}
	if c.FileTTL > 0 {
		out.FileTTL = c.FileTTL
	}
	if c.GuestTTL > 0 {
		out.GuestTTL = c.GuestTTL
	}
	if c.UsageTTL > 0 {
		out.UsageTTL = c.UsageTTL
	}
	return &out
}

// RedisStore keeps records as JSON strings and counters as integers/hashes.
type RedisStore struct {
	client redis.UniversalClient
	cfg    *RedisConfig
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, cfg *RedisConfig) *RedisStore {
	return &RedisStore{client: client, cfg: cfg.withDefaults()}
}

// increment-if-below-ceiling; returns {added, count}
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if current + n > limit then
  return {0, current}
end
current = redis.call('INCRBY', KEYS[1], n)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return {1, current}
`)

// month-limited increment of the aggregate and day field; returns {added, total}
var reserveUsageScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[4]) or '0')
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if limit >= 0 and current + n > limit then
  return {0, current}
end
current = redis.call('HINCRBY', KEYS[1], ARGV[4], n)
redis.call('HINCRBY', KEYS[1], ARGV[5], n)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return {1, current}
`)

func (r *RedisStore) key(parts ...string) string {
	return r.cfg.Prefix + ":" + strings.Join(parts, ":")
}

func (r *RedisStore) putJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) CreateSession(ctx context.Context, s *models.ProcessingSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key("session", s.ID), data, r.cfg.SessionTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	return nil
}

func (r *RedisStore) GetSession(ctx context.Context, id string) (*models.ProcessingSession, error) {
	var s models.ProcessingSession
	if err := r.getJSON(ctx, r.key("session", id), &s); err != nil {
		return nil, err
	}
	if !s.CancelRequested {
		requested, err := r.CancelRequested(ctx, id)
		if err != nil {
			return nil, err
		}
		s.CancelRequested = requested
	}
	return &s, nil
}

func (r *RedisStore) UpdateSession(ctx context.Context, s *models.ProcessingSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ok, err := r.client.SetXX(ctx, r.key("session", s.ID), data, r.cfg.SessionTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) RequestCancel(ctx context.Context, sessionID string) error {
	n, err := r.client.Exists(ctx, r.key("session", sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := r.client.Set(ctx, r.key("session", sessionID, "cancel"), "1", r.cfg.SessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to flag cancel: %w", err)
	}
	return nil
}

func (r *RedisStore) CancelRequested(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key("session", sessionID, "cancel")).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) SaveFile(ctx context.Context, f *models.FileRecord) error {
	return r.putJSON(ctx, r.key("file", f.ID), f, r.cfg.FileTTL)
}

func (r *RedisStore) GetFile(ctx context.Context, id string) (*models.FileRecord, error) {
	var f models.FileRecord
	if err := r.getJSON(ctx, r.key("file", id), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *RedisStore) GetFiles(ctx context.Context, ids []string) ([]*models.FileRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key("file", id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read files: %w", err)
	}
	out := make([]*models.FileRecord, 0, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("file %s: %w", ids[i], ErrNotFound)
		}
		var f models.FileRecord
		if err := json.Unmarshal([]byte(s), &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file %s: %w", ids[i], err)
		}
		out = append(out, &f)
	}
	return out, nil
}

const (
	fieldFilesProcessed = "filesProcessed"
	fieldTextExtracted  = "textExtracted"
	fieldFilesRenamed   = "filesRenamed"
	fieldAPICalls       = "apiCallsMade"
)

func dayField(day int, field string) string {
	return "d:" + strconv.Itoa(day) + ":" + field
}

func (r *RedisStore) GetUsage(ctx context.Context, ownerID string, year, month int) (*models.UsageCounter, error) {
	vals, err := r.client.HGetAll(ctx, r.key("usage", ownerID, models.MonthKey(year, month))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	u := &models.UsageCounter{OwnerID: ownerID, Year: year, Month: month, Days: map[int]models.DailyUsage{}}
	for field, raw := range vals {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse usage field %s: %w", field, err)
		}
		parts := strings.Split(field, ":")
		if len(parts) != 3 || parts[0] != "d" {
			continue
		}
		day, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		d := u.Days[day]
		switch parts[2] {
		case fieldFilesProcessed:
			d.FilesProcessed = n
		case fieldTextExtracted:
			d.TextExtracted = n
		case fieldFilesRenamed:
			d.FilesRenamed = n
		case fieldAPICalls:
			d.APICallsMade = n
		}
		u.Days[day] = d
	}
	u.Recompute()
	return u, nil
}

func (r *RedisStore) IncrementUsage(ctx context.Context, ownerID string, at time.Time, d models.UsageDelta) error {
	if d.IsZero() {
		return nil
	}
	at = at.UTC()
	key := r.key("usage", ownerID, models.MonthKey(at.Year(), int(at.Month())))
	day := at.Day()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, v := range map[string]int{
			fieldFilesProcessed: d.FilesProcessed,
			fieldTextExtracted:  d.TextExtracted,
			fieldFilesRenamed:   d.FilesRenamed,
			fieldAPICalls:       d.APICallsMade,
		} {
			if v == 0 {
				continue
			}
			pipe.HIncrBy(ctx, key, field, int64(v))
			pipe.HIncrBy(ctx, key, dayField(day, field), int64(v))
		}
		pipe.Expire(ctx, key, r.cfg.UsageTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

func (r *RedisStore) ReserveUsage(ctx context.Context, ownerID string, at time.Time, n, limit int) (int, bool, error) {
	at = at.UTC()
	key := r.key("usage", ownerID, models.MonthKey(at.Year(), int(at.Month())))
	res, err := reserveUsageScript.Run(ctx, r.client, []string{key},
		n, limit, int(r.cfg.UsageTTL.Seconds()), fieldFilesProcessed, dayField(at.Day(), fieldFilesProcessed)).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve usage: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected reserve result %v", res)
	}
	return int(res[1]), res[0] == 1, nil
}

func (r *RedisStore) GuestCount(ctx context.Context, guestID string) (int, error) {
	n, err := r.client.Get(ctx, r.key("guest", guestID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read guest count: %w", err)
	}
	return n, nil
}

func (r *RedisStore) ReserveGuestFiles(ctx context.Context, guestID string, n, limit int) (int, bool, error) {
	res, err := reserveScript.Run(ctx, r.client, []string{r.key("guest", guestID)},
		n, limit, int(r.cfg.GuestTTL.Seconds())).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve guest quota: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected reserve result %v", res)
	}
	return int(res[1]), res[0] == 1, nil
}

func (r *RedisStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var p models.UserProfile
	if err := r.getJSON(ctx, r.key("user", userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *RedisStore) SaveProfile(ctx context.Context, p *models.UserProfile) error {
	return r.putJSON(ctx, r.key("user", p.ID), p, 0)
}
