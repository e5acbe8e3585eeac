package tokenstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces mailgraph keys in a shared Redis.
const DefaultRedisPrefix = "mailgraph:"

// RedisStore keeps one hash per credential plus a sorted set of
// identity keys scored by expiry, which drives sweeps.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	cipher *Cipher
	now    func() time.Time
}

// RedisConfig configures OpenRedis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, cfg RedisConfig, cipher *Cipher) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, cfg.Prefix, cipher), nil
}

// NewRedisStore wraps an existing client. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string, cipher *Cipher) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if cipher == nil {
		cipher = &Cipher{}
	}
	return &RedisStore{client: client, prefix: prefix, cipher: cipher, now: time.Now}
}

func (s *RedisStore) hashKey(key string) string { return s.prefix + "cred:" + key }
func (s *RedisStore) indexKey() string         { return s.prefix + "cred:expiry" }

// KEYS[1] hash, KEYS[2] expiry index
// ARGV identity_key, access_token, refresh_token, expiry_ms, scopes, now_ms
var upsertScript = redis.NewScript(`
local created = redis.call('HGET', KEYS[1], 'created_at')
if not created then created = ARGV[6] end
redis.call('HSET', KEYS[1],
  'identity_key', ARGV[1],
  'access_token', ARGV[2],
  'refresh_token', ARGV[3],
  'expiry', ARGV[4],
  'scopes', ARGV[5],
  'created_at', created,
  'updated_at', ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1
`)

// Each sweep script touches only its declared key, so the sweep also works
// against Redis Cluster where credential hashes and the index live in
// different slots.

// KEYS[1] credential hash
// ARGV cutoff_ms
// Returns 1 when deleted, 0 when absent and -1 when not yet due.
var sweepHashScript = redis.NewScript(`
local e = redis.call('HGET', KEYS[1], 'expiry')
if not e then return 0 end
if tonumber(e) <= tonumber(ARGV[1]) then
  return redis.call('DEL', KEYS[1])
end
return -1
`)

// KEYS[1] expiry index
// ARGV cutoff_ms, identity_key
var unindexScript = redis.NewScript(`
local s = redis.call('ZSCORE', KEYS[1], ARGV[2])
if s and tonumber(s) <= tonumber(ARGV[1]) then
  return redis.call('ZREM', KEYS[1], ARGV[2])
end
return 0
`)

// Put upserts cred under key atomically.
func (s *RedisStore) Put(ctx context.Context, key string, cred Credential) error {
	access, refresh, err := s.cipher.sealPair(cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return err
	}
	err = upsertScript.Run(ctx, s.client,
		[]string{s.hashKey(key), s.indexKey()},
		key, access, refresh, cred.Expiry, cred.Scopes, s.now().UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// Get loads the record for key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Credential, error) {
	fields, err := s.client.HGetAll(ctx, s.hashKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	cred := Credential{
		IdentityKey: fields["identity_key"],
		Scopes:      fields["scopes"],
	}
	if cred.Expiry, err = strconv.ParseInt(fields["expiry"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt expiry for credential: %w", err)
	}
	cred.CreatedAt = parseMillis(fields["created_at"])
	cred.UpdatedAt = parseMillis(fields["updated_at"])

	cred.AccessToken, cred.RefreshToken, err = s.cipher.openPair(fields["access_token"], fields["refresh_token"])
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Delete removes the record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.hashKey(key))
		pipe.ZRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// SweepExpired deletes every record with expiry <= now. Candidates come
// from the expiry index. A hash is deleted only if its own expiry is due,
// and an index entry is dropped only once its hash is gone, so a
// concurrent Put that extends a credential wins.
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("sweep credentials: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	dels := make([]*redis.Cmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			dels[i] = sweepHashScript.Eval(ctx, pipe, []string{s.hashKey(id)}, cutoff)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep credentials: %w", err)
	}

	removed := 0
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			n, _ := dels[i].Int()
			if n < 0 {
				continue
			}
			removed += n
			unindexScript.Eval(ctx, pipe, []string{s.indexKey()}, cutoff, id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("unindex swept credentials: %w", err)
	}
	return removed, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
