// Package resilient wraps a cache.Store with retries and a circuit breaker.
//
// Every attempt goes through the breaker; once it opens, calls fail fast with
// gobreaker.ErrOpenState until the open timeout elapses. Not-found results
// count as successes and are never retried.
package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/IvanBrykalov/asyncmem/cache"
	"github.com/IvanBrykalov/asyncmem/store"
)

// Options configures retries and the breaker. Zero values are safe;
// defaults are applied in New():
//   - Attempts == 0         => 3
//   - Delay == 0            => 10ms
//   - FailureThreshold == 0 => 5 consecutive failures
//   - OpenTimeout == 0      => 30s
type Options struct {
	Name             string
	Attempts         uint
	Delay            time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Logger           *zerolog.Logger
}

// Store decorates another Store.
type Store struct {
	next cache.Store
	opt  Options
	cb   *gobreaker.CircuitBreaker[struct{}]
}

var _ cache.Store = (*Store)(nil)

// New wraps next.
func New(next cache.Store, opt Options) *Store {
	if opt.Name == "" {
		opt.Name = "asyncmem-store"
	}
	if opt.Attempts == 0 {
		opt.Attempts = 3
	}
	if opt.Delay == 0 {
		opt.Delay = 10 * time.Millisecond
	}
	if opt.FailureThreshold == 0 {
		opt.FailureThreshold = 5
	}
	if opt.OpenTimeout == 0 {
		opt.OpenTimeout = 30 * time.Second
	}
	log := zerolog.Nop()
	if opt.Logger != nil {
		log = *opt.Logger
	}

	threshold := opt.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    opt.Name,
		Timeout: opt.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, store.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("store breaker state changed")
		},
	})
	return &Store{next: next, opt: opt, cb: cb}
}

func retryable(err error) bool {
	return !errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, gobreaker.ErrOpenState) &&
		!errors.Is(err, gobreaker.ErrTooManyRequests) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (s *Store) do(ctx context.Context, fn func(context.Context) error) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(s.opt.Attempts),
		retry.Delay(s.opt.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	).Do(func() error {
		_, err := s.cb.Execute(func() (struct{}, error) {
			return struct{}{}, fn(ctx)
		})
		return err
	})
}

func (s *Store) Store(ctx context.Context, key uuid.UUID, data []byte, hint time.Duration) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.next.Store(ctx, key, data, hint)
	})
}

func (s *Store) Retrieve(ctx context.Context, key uuid.UUID) ([]byte, error) {
	var out []byte
	err := s.do(ctx, func(ctx context.Context) error {
		b, err := s.next.Retrieve(ctx, key)
		out = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, key uuid.UUID) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.next.Remove(ctx, key)
	})
}

// State reports the breaker state.
func (s *Store) State() gobreaker.State { return s.cb.State() }
