package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// FormatDocumentNumber renders QT-00042 style numbers.
func FormatDocumentNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s%05d", prefix, seq)
}

// RedisSequencer hands out document sequence numbers from INCR counters.
// Numbers are allocated outside the document transaction, so a rolled back
// transition leaves a gap; numbers are never reused.
type RedisSequencer struct {
	Client *redis.Client
	Prefix string
}

func NewRedisSequencer(client *redis.Client) *RedisSequencer {
	return &RedisSequencer{Client: client, Prefix: "seq:sales"}
}

func (s *RedisSequencer) Next(ctx context.Context, kind string) (int64, error) {
	if s.Client == nil {
		return 0, errors.New("redis client is nil")
	}
	return s.Client.Incr(ctx, fmt.Sprintf("%s:%s", s.Prefix, kind)).Result()
}
