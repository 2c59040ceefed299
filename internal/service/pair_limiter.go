package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// pairWindow is the sliding window for pairing attempts. Upstream throttles
// pairing-code requests per minute, so the local limit uses the same unit.
const pairWindow = time.Minute

// slidingWindowScript counts attempts inside the window and records the new
// one in a single round trip. It returns {1, retryAt} when the attempt is
// admitted and {0, retryAt} when the caller must wait; retryAt is the unix
// second at which the oldest counted attempt falls out of the window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= max then
    local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if #head >= 2 then
        return {0, tonumber(head[2]) + window}
    end
    return {0, now + window}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)
return {1, now + window}
`)

// PairLimiter throttles pairing attempts per client IP. State lives in redis
// so the limit holds across replicas, and when redis cannot answer the
// attempt is denied rather than waved through.
type PairLimiter struct {
	client    *redis.Client
	perMinute int
}

func NewPairLimiter(client *redis.Client, perMinute int) *PairLimiter {
	return &PairLimiter{client: client, perMinute: perMinute}
}

// Allow reports whether ip may start another pairing attempt now, and the
// time after which a denied caller should retry.
func (l *PairLimiter) Allow(ctx context.Context, ip string) (bool, time.Time) {
	key := fmt.Sprintf("pairlimit:ip:%s", ip)

	res, err := slidingWindowScript.Run(
		ctx,
		l.client,
		[]string{key},
		time.Now().Unix(),
		int64(pairWindow.Seconds()),
		l.perMinute,
	).Int64Slice()
	if err != nil || len(res) != 2 {
		log.Warn().Err(err).Str("ip", ip).Msg("pair limit check failed, denying attempt")
		return false, time.Now().Add(pairWindow)
	}

	return res[0] == 1, time.Unix(res[1], 0)
}
