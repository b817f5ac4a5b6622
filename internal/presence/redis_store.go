package presence

import (
	"context"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// counter key: <prefix>count:<user>, online set: <prefix>online
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('SADD', KEYS[2], ARGV[1])
return n
`)

var decrScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n <= 0 then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[1])
  return -1
end
n = redis.call('DECR', KEYS[1])
if n <= 0 then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[1])
  return 0
end
return n
`)

// RedisStore shares presence counters between gateway processes.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "feed:presence:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) countKey(userID string) string { return s.prefix + "count:" + userID }
func (s *RedisStore) onlineKey() string              { return s.prefix + "online" }

func (s *RedisStore) Incr(ctx context.Context, userID string) (int64, error) {
	n, err := incrScript.Run(ctx, s.rdb, []string{s.countKey(userID), s.onlineKey()}, userID).Int64()
	if err != nil {
		return 0, errors.Wrapf(err, "presence incr %s", userID)
	}
	return n, nil
}

func (s *RedisStore) Decr(ctx context.Context, userID string) (int64, bool, error) {
	n, err := decrScript.Run(ctx, s.rdb, []string{s.countKey(userID), s.onlineKey()}, userID).Int64()
	if err != nil {
		return 0, false, errors.Wrapf(err, "presence decr %s", userID)
	}
	if n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

func (s *RedisStore) Count(ctx context.Context, userID string) (int64, error) {
	val, err := s.rdb.Get(ctx, s.countKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "presence count %s", userID)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "presence count %s", userID)
	}
	return n, nil
}

func (s *RedisStore) Online(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.onlineKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "presence online")
	}
	sort.Strings(ids)
	return ids, nil
}
