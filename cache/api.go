package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Serializer turns payloads of type T into bytes and back. EstimateSize is
// called once, when the object enters management; the estimate is fixed for
// the object's lifetime.
type Serializer[T any] interface {
	EstimateSize(v T) int64
	Serialize(v T) ([]byte, error)
	Deserialize(data []byte) (T, error)
}

// Store is the durable tier. Retrieve must return the bytes most recently
// stored for key, or an error wrapping a not-found sentinel. Removing an
// absent key is not an error. hint is the predicted delay until the next
// access; stores may use it as an expiry hint or ignore it.
//
// Implementations must be safe for concurrent use.
type Store interface {
	Store(ctx context.Context, key uuid.UUID, data []byte, hint time.Duration) error
	Retrieve(ctx context.Context, key uuid.UUID) ([]byte, error)
	Remove(ctx context.Context, key uuid.UUID) error
}

// Predictor estimates the wait until an object's next access. Observe receives
// the measured wait for the access that just happened, keyed by the access
// count before it.
//
// Implementations must be safe for concurrent use.
type Predictor interface {
	Predict(cfg *Config, flowKey string, accessCount int64) time.Duration
	Observe(cfg *Config, flowKey string, accessCount int64, wait time.Duration)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

type wallClock struct{}

func (wallClock) NowUnixNano() int64 { return time.Now().UnixNano() }
