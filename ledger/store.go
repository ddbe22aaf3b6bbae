package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no ledger row exists for the token hash.
var ErrNotFound = errors.New("ledger record not found")

// ErrRecordRevoked is returned when the row was revoked or already rotated.
var ErrRecordRevoked = errors.New("ledger record revoked")

// ErrRecordExpired is returned when the row exists but its lifetime passed.
var ErrRecordExpired = errors.New("ledger record expired")

// ErrStoreUnavailable wraps any Redis transport or script failure.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusConsumed int64 = 2
	rotateStatusRotated  int64 = 3
)

// rotateScript consumes the old row and writes the replacement in one atomic
// step. Of two concurrent exchanges of the same token, exactly one sees
// status 3; the loser sees 2.
const rotateScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
local rec = cjson.decode(data)
local now = tonumber(ARGV[1])
if rec.revoked_at > 0 or rec.replaced_by ~= "" then
  return {2, data}
end
if rec.expires_at <= now then
  return {1, data}
end

rec.revoked_at = now
rec.replaced_by = ARGV[2]
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return {1, data}
end
redis.call("SET", KEYS[1], cjson.encode(rec), "PX", ttl)

redis.call("SET", KEYS[2], ARGV[3], "PX", tonumber(ARGV[4]))
redis.call("SADD", KEYS[3], ARGV[2])
redis.call("PEXPIRE", KEYS[3], tonumber(ARGV[4]))

return {3, data}
`

var rotateLua = redis.NewScript(rotateScript)

const (
	revokeStatusMissing int64 = 0
	revokeStatusRevoked int64 = 1
	revokeStatusAlready int64 = 2
)

// revokeScript marks a single row revoked, keeping its TTL so the tombstone
// survives as long as the token could still be presented.
const revokeScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local rec = cjson.decode(data)
if rec.revoked_at > 0 then
  return 2
end
rec.revoked_at = tonumber(ARGV[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end
redis.call("SET", KEYS[1], cjson.encode(rec), "PX", ttl)
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Store is the Redis-backed refresh token ledger. Rows expire on their own
// TTL plus a grace period; the account index is trimmed by Sweep and by
// rotation traffic.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

// NewStore returns a ledger bound to the given Redis client. prefix
// namespaces all keys; grace extends row TTLs past token expiry so that a
// late reuse of an expired token is still distinguishable from garbage.
func NewStore(client redis.UniversalClient, prefix string, grace time.Duration) *Store {
	if prefix == "" {
		prefix = "ldg"
	}
	if grace < 0 {
		grace = 0
	}
	return &Store{redis: client, prefix: prefix, grace: grace}
}

// HashToken returns the hex SHA-256 of a token string. This is the only form
// in which tokens are keyed or stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Store) recordKey(hash string) string {
	return s.prefix + ":rec:" + hash
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + ":acct:" + accountID
}

func (s *Store) rowTTL(rec Record, now time.Time) time.Duration {
	ttl := time.Unix(rec.ExpiresAt, 0).Sub(now) + s.grace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Insert writes a fresh row for the token hash and indexes it under the
// account.
func (s *Store) Insert(ctx context.Context, hash string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	now := time.Now()
	ttl := s.rowTTL(rec, now)
	recKey := s.recordKey(hash)
	acctKey := s.accountKey(rec.AccountID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recKey, data, ttl)
		pipe.SAdd(ctx, acctKey, hash)
		pipe.PExpire(ctx, acctKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Find reads a row by token hash.
func (s *Store) Find(ctx context.Context, hash string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.recordKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &rec, nil
}

// Rotate atomically consumes the row for oldHash and writes newRec under
// newHash. It returns the consumed row on success. A row that was already
// rotated or revoked returns ErrRecordRevoked along with the row, so the
// caller can see whose token was replayed.
func (s *Store) Rotate(ctx context.Context, oldHash, newHash string, newRec Record) (*Record, error) {
	data, err := json.Marshal(newRec)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ttl := s.rowTTL(newRec, now)

	keys := []string{
		s.recordKey(oldHash),
		s.recordKey(newHash),
		s.accountKey(newRec.AccountID),
	}
	args := []interface{}{
		now.Unix(),
		newHash,
		string(data),
		ttl.Milliseconds(),
	}

	raw, err := rotateLua.Run(ctx, s.redis, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("%w: unexpected rotate reply %T", ErrStoreUnavailable, raw)
	}
	status, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected rotate status %T", ErrStoreUnavailable, reply[0])
	}

	var old *Record
	if len(reply) > 1 {
		if blob, ok := reply[1].(string); ok {
			var rec Record
			if err := json.Unmarshal([]byte(blob), &rec); err == nil {
				old = &rec
			}
		}
	}

	switch status {
	case rotateStatusRotated:
		return old, nil
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return old, ErrRecordExpired
	case rotateStatusConsumed:
		return old, ErrRecordRevoked
	default:
		return nil, fmt.Errorf("%w: unknown rotate status %d", ErrStoreUnavailable, status)
	}
}

// RevokeOne marks the row for hash revoked. Missing or expired rows are not
// an error; revocation is idempotent.
func (s *Store) RevokeOne(ctx context.Context, hash string) error {
	_, err := revokeLua.Run(ctx, s.redis, []string{s.recordKey(hash)}, time.Now().Unix()).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAll tombstones every row indexed under the account. Rows keep their
// TTL and stay queryable, so a later replay of any of them reads as revoked
// rather than unknown. Returns the number of rows newly revoked.
//
// This is a read-then-revoke: a row inserted between SMembers and its
// script call survives. The caller's own rotation atomicity makes that
// window irrelevant in practice.
func (s *Store) RevokeAll(ctx context.Context, accountID string) (int, error) {
	hashes, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := time.Now().Unix()
	revoked := 0
	for _, h := range hashes {
		res, err := revokeLua.Run(ctx, s.redis, []string{s.recordKey(h)}, now).Result()
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if status, ok := res.(int64); ok && status == revokeStatusRevoked {
			revoked++
		}
	}
	return revoked, nil
}

// ActiveCount reports how many rows under the account are currently active.
func (s *Store) ActiveCount(ctx context.Context, accountID string) (int, error) {
	hashes, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := time.Now()
	count := 0
	for _, h := range hashes {
		rec, err := s.Find(ctx, h)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if rec.StateAt(now) == StateActive {
			count++
		}
	}
	return count, nil
}

// Sweep removes index entries whose rows have already expired out of Redis.
// Row data itself is reaped by TTL; this only trims the account index.
func (s *Store) Sweep(ctx context.Context, accountID string) (int, error) {
	acctKey := s.accountKey(accountID)

	hashes, err := s.redis.SMembers(ctx, acctKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	removed := 0
	for _, h := range hashes {
		exists, err := s.redis.Exists(ctx, s.recordKey(h)).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if exists == 0 {
			if err := s.redis.SRem(ctx, acctKey, h).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			removed++
		}
	}
	return removed, nil
}
