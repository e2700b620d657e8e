package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"herbitect/model"
)

const (
	fieldCode      = "otp"
	fieldTimestamp = "timestamp"
)

// RedisOTPStore keeps each record in a hash at <prefix><email>. The issue time
// comes from the redis server's TIME so the server clock stays authoritative.
type RedisOTPStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisOTPStore(client redis.UniversalClient, prefix string) *RedisOTPStore {
	return &RedisOTPStore{client: client, prefix: prefix}
}

func (s *RedisOTPStore) key(email string) string {
	return s.prefix + email
}

func (s *RedisOTPStore) Put(ctx context.Context, email, code string) error {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis time: %w", err)
	}

	key := s.key(email)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fieldCode, code, fieldTimestamp, strconv.FormatInt(now.UnixMilli(), 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisOTPStore) Get(ctx context.Context, email string) (*model.OTPRecord, error) {
	key := s.key(email)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	return decodeRedisRecord(email, fields)
}

func (s *RedisOTPStore) Delete(ctx context.Context, email string) error {
	key := s.key(email)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func decodeRedisRecord(email string, fields map[string]string) (*model.OTPRecord, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	code, ok := fields[fieldCode]
	if !ok {
		return nil, fmt.Errorf("otp record for %s has no %q field", email, fieldCode)
	}
	ms, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("otp record for %s has bad timestamp: %w", email, err)
	}

	return &model.OTPRecord{
		Email:    email,
		Code:     code,
		IssuedAt: time.UnixMilli(ms).UTC(),
	}, nil
}
