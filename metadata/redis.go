package metadata

import (
	"context"
	stderrors "errors"

	"github.com/redis/go-redis/v9"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/pkg/tlsutil"
)

// redisHash is the slice of the go-redis API the store uses.
type redisHash interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HExists(ctx context.Context, key, field string) *redis.BoolCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HSetNX(ctx context.Context, key, field string, value interface{}) *redis.BoolCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Close() error
}

// RedisStore keeps keys as fields of one Redis hash.
type RedisStore struct {
	client redisHash
	hash   string
}

// NewRedisStore connects lazily; the first command dials.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Username:  cfg.Username,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConfig,
	})
	return newRedisStore(client, cfg.KeyName), nil
}

func newRedisStore(client redisHash, hash string) *RedisStore {
	if hash == "" {
		hash = "MetadataStore"
	}
	return &RedisStore{client: client, hash: hash}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.hash, key).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WrapTransient(err, "RedisStore", "Get", "hget")
	}
	return v, true, nil
}

func (s *RedisStore) Contains(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.hash, key).Result()
	if err != nil {
		return false, errors.WrapTransient(err, "RedisStore", "Contains", "hexists")
	}
	return ok, nil
}

func (s *RedisStore) Put(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return errors.WrapTransient(err, "RedisStore", "Put", "hset")
	}
	return nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.client.HSetNX(ctx, s.hash, key, value).Result()
	if err != nil {
		return false, errors.WrapTransient(err, "RedisStore", "PutIfAbsent", "hsetnx")
	}
	return ok, nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.hash, key).Err(); err != nil {
		return errors.WrapTransient(err, "RedisStore", "Remove", "hdel")
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
