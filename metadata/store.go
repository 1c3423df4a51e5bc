// Package metadata provides the key-value stores that remember which remote
// files have already been emitted.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/sftpstreams/component"
	"github.com/c360/sftpstreams/config"
	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/pkg/tlsutil"
)

// Store is a string key-value store with an atomic put-if-absent.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Contains(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key, value string) error
	// PutIfAbsent stores value when key is missing and reports whether it did.
	PutIfAbsent(ctx context.Context, key, value string) (bool, error)
	Remove(ctx context.Context, key string) error
	Close() error
}

// Store types
const (
	TypeMemory = "memory"
	TypeNATSKV = "nats-kv"
	TypeRedis  = "redis"
	TypeEtcd   = "etcd"
)

// Config selects and configures a store.
type Config struct {
	Type   string       `json:"type"`
	Memory MemoryConfig `json:"memory"`
	NATSKV NATSKVConfig `json:"nats_kv"`
	Redis  RedisConfig  `json:"redis"`
	Etcd   EtcdConfig   `json:"etcd"`
}

// MemoryConfig bounds the in-process store.
type MemoryConfig struct {
	MaxSize int             `json:"max_size"`
	TTL     config.Duration `json:"ttl"`
}

// NATSKVConfig names the JetStream bucket.
type NATSKVConfig struct {
	Bucket   string          `json:"bucket"`
	Replicas int             `json:"replicas"`
	TTL      config.Duration `json:"ttl"`
	Timeout  config.Duration `json:"timeout"`
}

// RedisConfig addresses the hash holding seen keys.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	KeyName  string `json:"key_name"`

	TLS tlsutil.ClientConfig `json:"tls"`
}

// EtcdConfig addresses the etcd cluster and the key prefix.
type EtcdConfig struct {
	Endpoints   []string        `json:"endpoints"`
	Username    string          `json:"username,omitempty"`
	Password    string          `json:"password,omitempty"`
	Prefix      string          `json:"prefix"`
	DialTimeout config.Duration `json:"dial_timeout"`

	TLS tlsutil.ClientConfig `json:"tls"`
}

// DefaultConfig is an unbounded in-memory store.
func DefaultConfig() Config {
	return Config{
		Type:   TypeMemory,
		NATSKV: NATSKVConfig{Bucket: "sftp_metadata", Replicas: 1, Timeout: config.Duration(5 * time.Second)},
		Redis:  RedisConfig{Addr: "localhost:6379", KeyName: "MetadataStore"},
		Etcd: EtcdConfig{
			Endpoints:   []string{"localhost:2379"},
			Prefix:      "metadata/",
			DialTimeout: config.Duration(5 * time.Second),
		},
	}
}

// UnmarshalJSON overlays data onto the defaults.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	p := plain(DefaultConfig())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// Validate checks the settings of the selected type.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format+": %w", append(args, errors.ErrInvalidConfig)...),
			"metadata.Config", "Validate", "store config check")
	}
	switch c.Type {
	case "", TypeMemory:
		if c.Memory.MaxSize < 0 {
			return invalid("memory.max_size must not be negative")
		}
	case TypeNATSKV:
		if c.NATSKV.Bucket == "" {
			return invalid("nats_kv.bucket is required")
		}
	case TypeRedis:
		if c.Redis.Addr == "" || c.Redis.KeyName == "" {
			return invalid("redis.addr and redis.key_name are required")
		}
		return c.Redis.TLS.Validate()
	case TypeEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			return invalid("etcd.endpoints is required")
		}
		return c.Etcd.TLS.Validate()
	default:
		return invalid("unknown metadata store type %q", c.Type)
	}
	return nil
}

// New builds the configured store. The NATS KV store needs a connected
// client in deps.
func New(ctx context.Context, cfg Config, deps component.Dependencies, owner string) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeNATSKV:
		return NewNATSKVStore(ctx, deps.NATSClient, cfg.NATSKV)
	case TypeRedis:
		return NewRedisStore(cfg.Redis)
	case TypeEtcd:
		return NewEtcdStore(ctx, cfg.Etcd)
	default:
		return NewMemoryStore(cfg.Memory, deps, owner)
	}
}
