// Package compress wraps a cache.Store so payloads are zstd-compressed at rest.
package compress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/IvanBrykalov/asyncmem/cache"
)

// Store compresses on Store and decompresses on Retrieve; Remove passes through.
type Store struct {
	next cache.Store

	encoderPool sync.Pool
	decoderPool sync.Pool
}

var _ cache.Store = (*Store)(nil)

// New wraps next. level selects the zstd speed/ratio trade-off.
func New(next cache.Store, level zstd.EncoderLevel) *Store {
	s := &Store{next: next}
	s.encoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
			return enc
		},
	}
	s.decoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			return dec
		},
	}
	return s
}

func (s *Store) Store(ctx context.Context, key uuid.UUID, data []byte, hint time.Duration) error {
	enc := s.encoderPool.Get().(*zstd.Encoder)
	out := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	s.encoderPool.Put(enc)
	return s.next.Store(ctx, key, out, hint)
}

func (s *Store) Retrieve(ctx context.Context, key uuid.UUID) ([]byte, error) {
	b, err := s.next.Retrieve(ctx, key)
	if err != nil {
		return nil, err
	}
	dec := s.decoderPool.Get().(*zstd.Decoder)
	defer s.decoderPool.Put(dec)
	out, err := dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: decode %s: %w", key, err)
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, key uuid.UUID) error {
	return s.next.Remove(ctx, key)
}
