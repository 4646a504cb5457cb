package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore хранит счетчики окон в памяти процесса.
//
// Инкремент выполняется atomic.AddInt64 над счетчиком из sync.Map,
// поэтому параллельные вызовы не теряют обновления.
type MemoryStore struct {
	counters sync.Map // key -> *int64

	// lastBucket - последнее увиденное окно; при смене окна старые ключи удаляются
	lastBucket atomic.Int64
}

// NewMemoryStore создает in-memory хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Incr увеличивает счетчик ключа на 1
func (s *MemoryStore) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	if bucket, ok := bucketOf(key); ok {
		if prev := s.lastBucket.Load(); bucket > prev && s.lastBucket.CompareAndSwap(prev, bucket) {
			s.prune(bucket)
		}
	}

	v, _ := s.counters.LoadOrStore(key, new(int64))
	return atomic.AddInt64(v.(*int64), 1), nil
}

// Count возвращает текущее значение счетчика (0 если ключа нет)
func (s *MemoryStore) Count(key string) int64 {
	v, ok := s.counters.Load(key)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

// prune удаляет счетчики окон старше предыдущего
func (s *MemoryStore) prune(current int64) {
	s.counters.Range(func(k, _ interface{}) bool {
		if bucket, ok := bucketOf(k.(string)); ok && bucket < current-1 {
			s.counters.Delete(k)
		}
		return true
	})
}

func bucketOf(key string) (int64, bool) {
	idx := strings.LastIndexByte(key, ':')
	if idx < 0 {
		return 0, false
	}
	bucket, err := strconv.ParseInt(key[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return bucket, true
}
