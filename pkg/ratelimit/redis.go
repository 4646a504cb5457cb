package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript атомарно увеличивает счетчик и ставит TTL при создании ключа
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisStore хранит счетчики в Redis, лимит общий для всех процессов
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore создает хранилище поверх клиента go-redis
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tradeguard:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient создает клиента Redis
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Incr увеличивает счетчик ключа на 1
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.prefix + key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis rate counter: %w", err)
	}
	return res, nil
}
