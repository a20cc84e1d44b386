package catalogcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUStore is an in-process store. Every entry shares the TTL given at
// construction; the per-call ttl is ignored.
type LRUStore struct {
	lru *expirable.LRU[string, []byte]
}

func NewLRU(size int, ttl time.Duration) *LRUStore {
	if size <= 0 {
		size = 128
	}
	return &LRUStore{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (s *LRUStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.lru.Get(key)
	return v, ok, nil
}

func (s *LRUStore) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	s.lru.Add(key, append([]byte(nil), val...))
	return nil
}

func (s *LRUStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.lru.Remove(k)
	}
	return nil
}

func (s *LRUStore) Close() error {
	s.lru.Purge()
	return nil
}
