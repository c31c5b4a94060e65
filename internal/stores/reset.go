// Package stores holds the Redis-backed record stores used by the
// engine: single-use password-reset tokens and pending login
// challenges.
package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const resetRecordVersionV1 = 1

var (
	ErrResetNotFound    = errors.New("reset record not found")
	ErrResetMismatch    = errors.New("reset secret mismatch")
	ErrResetExpired     = errors.New("reset record expired")
	ErrResetConsumed    = errors.New("reset record already consumed")
	ErrResetUnavailable = errors.New("reset backend unavailable")
)

// ResetRecord is one issued password-reset token. The raw token never
// reaches the store; only the SHA-256 of its secret half does. Consumed
// records are kept (flagged, not deleted) until the key's physical TTL
// lapses so a second redemption is distinguishable from an unknown
// token.
type ResetRecord struct {
	AccountID  string
	SecretHash [32]byte
	IssuedAt   int64
	ExpiresAt  int64
	Consumed   bool
}

// ResetStore persists reset records in Redis.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewResetStore creates a reset-token store under the given prefix.
func NewResetStore(redisClient redis.UniversalClient, prefix string) *ResetStore {
	if prefix == "" {
		prefix = "mr"
	}
	return &ResetStore{redis: redisClient, prefix: prefix}
}

func (s *ResetStore) key(resetID string) string {
	return s.prefix + ":" + resetID
}

// Save writes a fresh record. The physical TTL is twice the logical
// lifetime so expiry and prior consumption stay reportable after the
// redemption deadline.
func (s *ResetStore) Save(ctx context.Context, resetID string, record *ResetRecord, ttl time.Duration) error {
	encoded, err := encodeResetRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(resetID), encoded, 2*ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetUnavailable, err)
	}
	return nil
}

// Consume atomically redeems a record: the secret comparison and the
// consumed flip happen inside one optimistic WATCH transaction, so of
// two concurrent redemptions at most one succeeds and the other
// observes ErrResetConsumed.
func (s *ResetStore) Consume(ctx context.Context, resetID string, providedHash [32]byte, now time.Time) (*ResetRecord, error) {
	const maxRetries = 4
	key := s.key(resetID)

	for i := 0; i < maxRetries; i++ {
		var matched *ResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeResetRecord(data)
			if err != nil {
				return err
			}

			if record.Consumed {
				return ErrResetConsumed
			}
			if now.Unix() > record.ExpiresAt {
				return ErrResetExpired
			}
			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				return ErrResetMismatch
			}

			record.Consumed = true
			updated, err := encodeResetRecord(record)
			if err != nil {
				return err
			}

			remaining := tx.TTL(ctx, key).Val()
			if remaining <= 0 {
				remaining = time.Minute
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, remaining)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetConsumed),
				errors.Is(err, ErrResetExpired),
				errors.Is(err, ErrResetMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, fmt.Errorf("%w: transaction contention", ErrResetUnavailable)
}

// Get loads a record without consuming it.
func (s *ResetStore) Get(ctx context.Context, resetID string) (*ResetRecord, error) {
	data, err := s.redis.Get(ctx, s.key(resetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
	}
	return decodeResetRecord(data)
}

func encodeResetRecord(record *ResetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	if record.Consumed {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("reset record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeResetRecord(data []byte) (*ResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	consumed, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &ResetRecord{Consumed: consumed == 1}

	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	accountID := make([]byte, idLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	record.AccountID = string(accountID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
