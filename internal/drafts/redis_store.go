// Package drafts keeps departure sheets that are still being prepared. A
// draft holds the header fields and the checklist session snapshot and lives
// in Redis until it is submitted, cancelled or expires.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetdesk/api/internal/sheet"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound    = errors.New("draft not found")
	ErrBusy        = errors.New("draft is being modified concurrently")
	ErrUnavailable = errors.New("draft store unavailable")
)

const (
	DefaultTTL        = 12 * time.Hour
	defaultMaxRetries = 10
)

// Draft is one operator's in-progress departure sheet.
type Draft struct {
	ID           string         `json:"id"`
	CompanyID    int64          `json:"company_id"`
	OperatorID   string         `json:"operator_id"`
	OperatorName string         `json:"operator_name"`
	Header       sheet.Header   `json:"header"`
	Checklist    sheet.Snapshot `json:"checklist"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RedisStore stores drafts as JSON values with a sliding TTL.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	maxRetries int
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client:     client,
		prefix:     "draft:",
		ttl:        ttl,
		maxRetries: defaultMaxRetries,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) lockKey(id string) string {
	return s.prefix + id + ":submit"
}

// Save writes the draft and resets its TTL.
func (s *RedisStore) Save(ctx context.Context, draft Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, s.key(draft.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save draft %s: %w", draft.ID, unavailable(err))
	}
	return nil
}

// Get loads a draft. Expired or unknown drafts yield ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (Draft, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Draft{}, fmt.Errorf("get draft %s: %w", id, unavailable(err))
	}
	return decode(id, raw)
}

// Delete removes a draft and any submit lock it holds.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id), s.lockKey(id)).Err(); err != nil {
		return fmt.Errorf("delete draft %s: %w", id, unavailable(err))
	}
	return nil
}

// Update applies fn to the stored draft inside an optimistic transaction.
// Concurrent writers are retried; an error from fn aborts without writing.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Draft) error) (Draft, error) {
	key := s.key(id)
	var updated Draft

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("draft %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get draft %s: %w", id, unavailable(err))
		}
		draft, err := decode(id, raw)
		if err != nil {
			return err
		}
		if err := fn(&draft); err != nil {
			return err
		}
		draft.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(draft)
		if err != nil {
			return fmt.Errorf("marshal draft: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = draft
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
			return Draft{}, err
		}
		var redisErr redis.Error
		if errors.As(err, &redisErr) {
			return Draft{}, fmt.Errorf("update draft %s: %w", id, err)
		}
		if isClientError(err) {
			return Draft{}, fmt.Errorf("update draft %s: %w", id, unavailable(err))
		}
		return Draft{}, err
	}
	return Draft{}, fmt.Errorf("update draft %s: %w", id, ErrBusy)
}

// AcquireSubmitLock marks a draft as being submitted. It returns false when
// another submit already holds the lock. The lock expires after ttl.
func (s *RedisStore) AcquireSubmitLock(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(id), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire submit lock %s: %w", id, unavailable(err))
	}
	return ok, nil
}

func (s *RedisStore) ReleaseSubmitLock(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.lockKey(id)).Err(); err != nil {
		return fmt.Errorf("release submit lock %s: %w", id, unavailable(err))
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func decode(id string, raw []byte) (Draft, error) {
	var draft Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return Draft{}, fmt.Errorf("unmarshal draft %s: %w", id, err)
	}
	return draft, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// isClientError reports failures that came from talking to redis rather
// than from the update callback.
func isClientError(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}
