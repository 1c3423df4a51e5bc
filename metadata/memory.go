package metadata

import (
	"context"

	"github.com/c360/sftpstreams/component"
	"github.com/c360/sftpstreams/pkg/cache"
)

// MemoryStore keeps keys in a process-local LRU. Contents are lost on restart.
type MemoryStore struct {
	cache *cache.Cache[string]
}

// NewMemoryStore creates a store bounded by cfg. Cache statistics are
// exported under owner when deps carries a metrics registry.
func NewMemoryStore(cfg MemoryConfig, deps component.Dependencies, owner string) (*MemoryStore, error) {
	opts := []cache.Option[string]{cache.WithTTL[string](cfg.TTL.D())}
	if owner != "" {
		opts = append(opts, cache.WithMetrics[string](deps.MetricsRegistry, owner+"_metadata"))
	}
	c, err := cache.New[string](cfg.MaxSize, opts...)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: c}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.cache.Get(key)
	return v, ok, nil
}

func (s *MemoryStore) Contains(_ context.Context, key string) (bool, error) {
	_, ok := s.cache.Get(key)
	return ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key, value string) error {
	_, err := s.cache.Set(key, value)
	return err
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, key, value string) (bool, error) {
	return s.cache.SetIfAbsent(key, value)
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	_, err := s.cache.Delete(key)
	return err
}

// Len returns the number of remembered keys.
func (s *MemoryStore) Len() int { return s.cache.Size() }

func (s *MemoryStore) Close() error {
	s.cache.Clear()
	return nil
}
