package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no record exists for the session ID.
	ErrNotFound = errors.New("session record not found")
	// ErrUnavailable indicates the session backend is unreachable.
	ErrUnavailable = errors.New("session backend unavailable")
	// ErrCorrupt is returned when a stored record does not decode.
	ErrCorrupt = errors.New("session record corrupt")
)

// Store keeps session records in Redis. Record lifetime is enforced
// twice: by the key TTL and by the ExpiresAt field inside the record,
// so a clock injected by the caller stays authoritative in tests.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session store under the given key prefix.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ms"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Save writes a record with the given TTL.
func (s *Store) Save(ctx context.Context, sessionID string, record *Session, ttl time.Duration) error {
	encoded, err := encodeSession(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads a record.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record, err := decodeSession(data)
	if err != nil {
		return nil, ErrCorrupt
	}
	return record, nil
}

// Extend re-saves a record with a pushed-out deadline, but only while
// the key still exists; an expired or deleted session is never
// resurrected by a racing extension.
func (s *Store) Extend(ctx context.Context, sessionID string, record *Session, ttl time.Duration) error {
	encoded, err := encodeSession(record)
	if err != nil {
		return err
	}

	set, err := s.redis.SetXX(ctx, s.key(sessionID), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !set {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}
