package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"secure-auth/internal/domain"
)

// hitScript cuenta un envío en la ventana fija de KEYS[1] y devuelve el total.
// Una clave que perdió su TTL lo recupera.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

const sharedLimiterPrefix = "auth:rl:"

// sharedLimiter reparte el cupo de correos entre réplicas usando Redis.
type sharedLimiter struct {
	rdb      redis.Scripter
	windowMS int64
	max      int64
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRedisRequestLimiter devuelve nil sin cliente; el llamador conserva el limitador en memoria.
// Si Redis no responde, Allow deja pasar la petición y lo registra.
func NewRedisRequestLimiter(rdb redis.Scripter, window time.Duration, max int, logger *zap.Logger) RequestLimiter {
	if rdb == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if window < time.Second {
		window = time.Second
	}
	if max < 1 {
		max = 1
	}
	return &sharedLimiter{
		rdb:      rdb,
		windowMS: window.Milliseconds(),
		max:      int64(max),
		timeout:  500 * time.Millisecond,
		logger:   logger,
	}
}

func (l *sharedLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return true
	}
	key = domain.NormalizeEmail(key)
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	n, err := hitScript.Run(ctx, l.rdb, []string{sharedLimiterPrefix + key}, l.windowMS).Int64()
	if err != nil {
		l.logger.Warn("shared rate limiter unavailable, allowing request", zap.Error(err))
		return true
	}
	return n <= l.max
}
