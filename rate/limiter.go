package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps any Redis failure during a limit check.
var ErrStoreUnavailable = errors.New("rate store unavailable")

// Limit is one named request budget.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Result is the outcome of a single Check. Reset always points at the end of
// the current window (or block) so callers can emit it as a header whether or
// not the request was allowed.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// checkScript does the whole decision in one round trip. The key holds a
// hash of count, window_start, and blocked_until (all ms). The violating
// request pays a full window of block from its own timestamp; requests
// during the block leave the key untouched, so hammering cannot extend it.
const checkScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local blocked = tonumber(redis.call("HGET", KEYS[1], "blocked_until") or "0")
if blocked > now then
  return {0, max, blocked}
end

local start = tonumber(redis.call("HGET", KEYS[1], "window_start") or "0")
if start == 0 or now >= start + window then
  redis.call("HSET", KEYS[1], "count", 1, "window_start", now, "blocked_until", 0)
  redis.call("PEXPIRE", KEYS[1], window * 2)
  return {1, 1, now + window}
end

local count = redis.call("HINCRBY", KEYS[1], "count", 1)
redis.call("PEXPIRE", KEYS[1], window * 2)
if count > max then
  local until_ms = now + window
  redis.call("HSET", KEYS[1], "blocked_until", until_ms)
  return {0, count, until_ms}
end

return {1, count, start + window}
`

var checkLua = redis.NewScript(checkScript)

// Limiter evaluates limits against Redis. Safe for concurrent use.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

func NewLimiter(client redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &Limiter{redis: client, prefix: prefix}
}

// Key builds the limiter key for a request. Authenticated traffic is keyed
// by client IP and account together, so a NAT full of applicants does not
// share one bucket and one account cannot spread its budget across hosts;
// anonymous traffic is keyed by IP alone.
func Key(class, ip, accountID string) string {
	ipPart := strings.ReplaceAll(ip, ":", "_")
	if accountID != "" {
		return class + ":" + ipPart + ":" + accountID
	}
	return class + ":ip:" + ipPart
}

// Check consumes one request from the budget for key and reports the
// outcome.
func (l *Limiter) Check(ctx context.Context, key string, limit Limit) (*Result, error) {
	if limit.MaxRequests <= 0 || limit.Window <= 0 {
		return nil, errors.New("invalid limit configuration")
	}

	now := time.Now()
	raw, err := checkLua.Run(ctx, l.redis,
		[]string{l.prefix + ":" + key},
		now.UnixMilli(),
		limit.Window.Milliseconds(),
		limit.MaxRequests,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return nil, fmt.Errorf("%w: unexpected check reply %T", ErrStoreUnavailable, raw)
	}

	allowed, _ := reply[0].(int64)
	count, _ := reply[1].(int64)
	resetMs, _ := reply[2].(int64)

	res := &Result{
		Allowed: allowed == 1,
		Limit:   limit.MaxRequests,
		Reset:   time.UnixMilli(resetMs),
	}

	remaining := limit.MaxRequests - int(count)
	if remaining < 0 || !res.Allowed {
		remaining = 0
	}
	res.Remaining = remaining

	if !res.Allowed {
		retry := res.Reset.Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		res.RetryAfter = retry
	}

	return res, nil
}

// Clear drops the bucket for key. Used after a successful login so a user
// who fumbled their password a few times starts fresh.
func (l *Limiter) Clear(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
