package impersonate

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisRecoveryPrefix    = "impersonate:recovery:"
	defaultRedisRecoveryRetention = 24 * time.Hour
)

// RedisRecoveryStore keeps the record of one client under a redis key. The
// key outlives expires_at by the retention window so an expired session can
// still be undone on reload.
type RedisRecoveryStore struct {
	client    redis.UniversalClient
	prefix    string
	key       string
	retention time.Duration
	now       func() time.Time
}

var _ RecoveryStore = (*RedisRecoveryStore)(nil)

// RedisRecoveryOption customizes the redis store.
type RedisRecoveryOption func(*RedisRecoveryStore)

// WithRedisRecoveryPrefix overrides the key prefix.
func WithRedisRecoveryPrefix(prefix string) RedisRecoveryOption {
	return func(s *RedisRecoveryStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisRecoveryRetention sets how long a record is kept past expires_at.
func WithRedisRecoveryRetention(d time.Duration) RedisRecoveryOption {
	return func(s *RedisRecoveryStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithRedisRecoveryClock injects a custom clock (useful for tests).
func WithRedisRecoveryClock(clock func() time.Time) RedisRecoveryOption {
	return func(s *RedisRecoveryStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewRedisRecoveryStore stores the record of clientID in client.
func NewRedisRecoveryStore(client redis.UniversalClient, clientID string, opts ...RedisRecoveryOption) *RedisRecoveryStore {
	s := &RedisRecoveryStore{
		client:    client,
		prefix:    defaultRedisRecoveryPrefix,
		retention: defaultRedisRecoveryRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.key = s.prefix + clientID
	return s
}

// Key returns the redis key holding the record.
func (s *RedisRecoveryStore) Key() string {
	return s.key
}

func (s *RedisRecoveryStore) Load(ctx context.Context) (*RecoveryRecord, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, NewTransportError(err, "failed to load recovery record")
	}
	return decodeRecoveryRecord(raw)
}

func (s *RedisRecoveryStore) Save(ctx context.Context, record *RecoveryRecord) error {
	raw, err := encodeRecoveryRecord(record)
	if err != nil {
		return err
	}

	ttl := s.retention
	if record.IsComplete() {
		ttl = record.Session.ExpiresAt.Sub(s.now()) + s.retention
	}
	if ttl <= 0 {
		return goerrors.New("recovery record is past its retention window", goerrors.CategoryBadInput)
	}

	if err := s.client.Set(ctx, s.key, raw, ttl).Err(); err != nil {
		return NewTransportError(err, "failed to save recovery record")
	}
	return nil
}

func (s *RedisRecoveryStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return NewTransportError(err, "failed to clear recovery record")
	}
	return nil
}
