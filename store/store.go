// Package store holds the durable tiers a cache.Manager relegates payloads to.
//
// Each subpackage implements cache.Store:
//
//   - memstore: a map in process memory, for tests and embedding.
//   - filestore: one file per key on a billy filesystem (OS or in-memory).
//   - redisstore: Redis keys with an optional TTL derived from the delay hint.
//
// and two decorators wrap any of them:
//
//   - compress: zstd-compresses payloads.
//   - resilient: retries transient failures behind a circuit breaker.
package store

import "errors"

// ErrNotFound is returned (possibly wrapped) by Retrieve for unknown keys.
var ErrNotFound = errors.New("store: not found")
