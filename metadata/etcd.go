package metadata

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/pkg/tlsutil"
)

// EtcdStore keeps keys under a prefix in etcd. PutIfAbsent is a transaction
// on the key's create revision, so concurrent pollers agree on who emits.
type EtcdStore struct {
	client *clientv3.Client
	kv     clientv3.KV
	prefix string
}

// NewEtcdStore dials the cluster.
func NewEtcdStore(ctx context.Context, cfg EtcdConfig) (*EtcdStore, error) {
	tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client, err := clientv3.New(clientv3.Config{
		Context:     ctx,
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout.D(),
		Username:    cfg.Username,
		Password:    cfg.Password,
		TLS:         tlsConfig,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "EtcdStore", "New", "connect")
	}
	return &EtcdStore{client: client, kv: client.KV, prefix: cfg.Prefix}, nil
}

func (s *EtcdStore) key(k string) string {
	return s.prefix + k
}

func (s *EtcdStore) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.kv.Get(ctx, s.key(key))
	if err != nil {
		return "", false, errors.WrapTransient(err, "EtcdStore", "Get", "get")
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (s *EtcdStore) Contains(ctx context.Context, key string) (bool, error) {
	resp, err := s.kv.Get(ctx, s.key(key), clientv3.WithCountOnly())
	if err != nil {
		return false, errors.WrapTransient(err, "EtcdStore", "Contains", "count")
	}
	return resp.Count > 0, nil
}

func (s *EtcdStore) Put(ctx context.Context, key, value string) error {
	if _, err := s.kv.Put(ctx, s.key(key), value); err != nil {
		return errors.WrapTransient(err, "EtcdStore", "Put", "put")
	}
	return nil
}

func (s *EtcdStore) PutIfAbsent(ctx context.Context, key, value string) (bool, error) {
	k := s.key(key)
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, value)).
		Commit()
	if err != nil {
		return false, errors.WrapTransient(err, "EtcdStore", "PutIfAbsent", "txn")
	}
	return resp.Succeeded, nil
}

func (s *EtcdStore) Remove(ctx context.Context, key string) error {
	if _, err := s.kv.Delete(ctx, s.key(key)); err != nil {
		return errors.WrapTransient(err, "EtcdStore", "Remove", "delete")
	}
	return nil
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
