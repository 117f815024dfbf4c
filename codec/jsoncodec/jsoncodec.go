// Package jsoncodec is a generic JSON cache.Serializer.
package jsoncodec

import (
	"encoding/json"

	"github.com/IvanBrykalov/asyncmem/cache"
)

// Codec serializes T with encoding/json.
type Codec[T any] struct {
	size func(T) int64
}

var _ cache.Serializer[struct{}] = Codec[struct{}]{}

// New returns a Codec whose size estimate is the encoded length.
func New[T any]() Codec[T] { return Codec[T]{} }

// WithSize returns a Codec using size as the estimate, avoiding the trial
// encoding on Manage.
func WithSize[T any](size func(T) int64) Codec[T] { return Codec[T]{size: size} }

func (c Codec[T]) EstimateSize(v T) int64 {
	if c.size != nil {
		return c.size(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

func (Codec[T]) Serialize(v T) ([]byte, error) { return json.Marshal(v) }

func (Codec[T]) Deserialize(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
