// Package redisstore is a cache.Store on Redis.
//
// Keys are <Prefix><uuid>. With a TTL grace configured, each write expires at
// the predicted next access plus the grace, so copies of objects that were
// never read again do not outlive a crashed process indefinitely.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/IvanBrykalov/asyncmem/cache"
	"github.com/IvanBrykalov/asyncmem/store"
)

// DefaultPrefix namespaces keys written by the store.
const DefaultPrefix = "asyncmem:"

// Options configures a Store. Zero values are safe.
type Options struct {
	// Prefix is prepended to every key; "" => DefaultPrefix.
	Prefix string
	// TTLGrace, when > 0, sets each key's TTL to hint + TTLGrace.
	// 0 stores keys without expiry.
	TTLGrace time.Duration
}

// Store keeps payloads as Redis string values.
type Store struct {
	rdb redis.UniversalClient
	opt Options
}

var _ cache.Store = (*Store)(nil)

// New wraps an existing client. The caller owns the client's lifetime.
func New(rdb redis.UniversalClient, opt Options) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("redisstore: nil client")
	}
	if opt.Prefix == "" {
		opt.Prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, opt: opt}, nil
}

func (s *Store) key(k uuid.UUID) string { return s.opt.Prefix + k.String() }

// Store writes data under key. The TTL follows Options.TTLGrace.
func (s *Store) Store(ctx context.Context, key uuid.UUID, data []byte, hint time.Duration) error {
	var ttl time.Duration
	if s.opt.TTLGrace > 0 {
		ttl = max(hint, 0) + s.opt.TTLGrace
	}
	if err := s.rdb.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", key, err)
	}
	return nil
}

// Retrieve reads the payload stored for key.
func (s *Store) Retrieve(ctx context.Context, key uuid.UUID) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redisstore: %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	return b, nil
}

// Remove deletes key. Absent keys are ignored.
func (s *Store) Remove(ctx context.Context, key uuid.UUID) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redisstore: del %s: %w", key, err)
	}
	return nil
}
