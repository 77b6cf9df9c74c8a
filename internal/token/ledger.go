package token

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger registra los jti ya consumidos hasta que el token expira.
type Ledger interface {
	// Mark devuelve false si el jti ya estaba registrado.
	Mark(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	Seen(ctx context.Context, jti string) (bool, error)
}

type MemoryLedger struct {
	mu    sync.Mutex
	items map[string]time.Time
	now   func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		items: make(map[string]time.Time),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLedger) Mark(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	if strings.TrimSpace(jti) == "" {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweepLocked(now)
	if _, ok := l.items[jti]; ok {
		return false, nil
	}
	l.items[jti] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLedger) Seen(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.items[jti]
	if !ok {
		return false, nil
	}
	if !l.now().Before(exp) {
		delete(l.items, jti)
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) sweepLocked(now time.Time) {
	for jti, exp := range l.items {
		if !now.Before(exp) {
			delete(l.items, jti)
		}
	}
}

type redisLedgerClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisLedger comparte el registro de consumo entre réplicas.
type RedisLedger struct {
	client  redisLedgerClient
	prefix  string
	timeout time.Duration
}

func NewRedisLedger(client redisLedgerClient) *RedisLedger {
	if client == nil {
		return nil
	}
	return &RedisLedger{
		client:  client,
		prefix:  "auth:token:used:",
		timeout: 500 * time.Millisecond,
	}
}

func (l *RedisLedger) Mark(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if strings.TrimSpace(jti) == "" {
		return false, nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.client.SetNX(ctx, l.prefix+jti, 1, ttl).Result()
}

func (l *RedisLedger) Seen(ctx context.Context, jti string) (bool, error) {
	if strings.TrimSpace(jti) == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	n, err := l.client.Exists(ctx, l.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
