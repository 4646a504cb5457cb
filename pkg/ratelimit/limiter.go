// Package ratelimit ограничивает частоту запросов к API бирж.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"tradeguard/pkg/errs"
)

const (
	// DefaultLimit - запросов на (биржа, endpoint) за одно окно
	DefaultLimit = 60
	// DefaultWindow - длина окна
	DefaultWindow = time.Minute
)

// CounterStore атомарно увеличивает счетчик окна и возвращает новое значение.
// Реализации обязаны быть безопасны при конкурентных вызовах.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// WindowLimiter - лимитер с фиксированным окном.
//
// Ключ счетчика: exchange:endpoint:<номер окна>. Новое окно начинается
// с нулевого счетчика, явная очистка не нужна. Превышение лимита сразу
// возвращает RateLimitError: лимитер не ставит запросы в очередь и не повторяет их.
//
// Использование:
//
//	limiter := NewWindowLimiter(NewMemoryStore(), 60)
//	if err := limiter.Allow(ctx, "binance", "/api/v3/order"); err != nil { ... }
type WindowLimiter struct {
	store  CounterStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option настраивает WindowLimiter
type Option func(*WindowLimiter)

// WithWindow меняет длину окна
func WithWindow(d time.Duration) Option {
	return func(l *WindowLimiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(l *WindowLimiter) {
		l.now = now
	}
}

// NewWindowLimiter создает лимитер. limit <= 0 означает DefaultLimit.
func NewWindowLimiter(store CounterStore, limit int, opts ...Option) *WindowLimiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	l := &WindowLimiter{
		store:  store,
		limit:  limit,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow учитывает один запрос к endpoint биржи.
// Ошибка хранилища счетчиков возвращается как есть.
func (l *WindowLimiter) Allow(ctx context.Context, exchange, endpoint string) error {
	now := l.now()
	bucket := now.UnixNano() / int64(l.window)
	key := exchange + ":" + endpoint + ":" + strconv.FormatInt(bucket, 10)

	// ttl с запасом на одно окно, чтобы ключ пережил рассинхрон часов
	count, err := l.store.Incr(ctx, key, 2*l.window)
	if err != nil {
		return err
	}

	if count > int64(l.limit) {
		windowEnd := time.Unix(0, (bucket+1)*int64(l.window))
		return &errs.RateLimitError{
			Exchange:   exchange,
			Endpoint:   endpoint,
			Limit:      l.limit,
			RetryAfter: windowEnd.Sub(now),
		}
	}
	return nil
}

// Limit возвращает лимит запросов на окно
func (l *WindowLimiter) Limit() int {
	return l.limit
}
