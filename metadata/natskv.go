package metadata

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/natsclient"
)

// NATSKVStore keeps keys in a JetStream key-value bucket. Remote paths may
// contain characters the KV key alphabet rejects, so keys are stored
// base64url encoded.
type NATSKVStore struct {
	kv *natsclient.KVStore
}

// NewNATSKVStore gets or creates the bucket.
func NewNATSKVStore(ctx context.Context, client *natsclient.Client, cfg NATSKVConfig) (*NATSKVStore, error) {
	if client == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nats-kv store needs a NATS client: %w", errors.ErrNoConnection),
			"NATSKVStore", "New", "client check")
	}
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "sftpstreams seen remote files",
		Replicas:    cfg.Replicas,
		TTL:         cfg.TTL.D(),
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSKVStore", "New", "create bucket "+cfg.Bucket)
	}
	return &NATSKVStore{kv: natsclient.NewKVStore(bucket, cfg.Timeout.D())}, nil
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (s *NATSKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	e, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return "", false, nil
		}
		return "", false, errors.WrapTransient(err, "NATSKVStore", "Get", "kv get")
	}
	return string(e.Value), true, nil
}

func (s *NATSKVStore) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *NATSKVStore) Put(ctx context.Context, key, value string) error {
	if _, err := s.kv.Put(ctx, encodeKey(key), []byte(value)); err != nil {
		return errors.WrapTransient(err, "NATSKVStore", "Put", "kv put")
	}
	return nil
}

func (s *NATSKVStore) PutIfAbsent(ctx context.Context, key, value string) (bool, error) {
	_, err := s.kv.Create(ctx, encodeKey(key), []byte(value))
	if err == nil {
		return true, nil
	}
	if natsclient.IsKVConflictError(err) {
		return false, nil
	}
	return false, errors.WrapTransient(err, "NATSKVStore", "PutIfAbsent", "kv create")
}

func (s *NATSKVStore) Remove(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, encodeKey(key)); err != nil {
		return errors.WrapTransient(err, "NATSKVStore", "Remove", "kv delete")
	}
	return nil
}

// Close is a no-op; the NATS connection belongs to the caller.
func (s *NATSKVStore) Close() error { return nil }
