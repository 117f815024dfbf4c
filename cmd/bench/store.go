package main

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/IvanBrykalov/asyncmem/cache"
	"github.com/IvanBrykalov/asyncmem/store/compress"
	"github.com/IvanBrykalov/asyncmem/store/filestore"
	"github.com/IvanBrykalov/asyncmem/store/memstore"
	"github.com/IvanBrykalov/asyncmem/store/redisstore"
	"github.com/IvanBrykalov/asyncmem/store/resilient"
)

// newStore builds the durable tier selected by flags. The returned func
// releases its resources.
func newStore(f flags) (cache.Store, func(), error) {
	var (
		st      cache.Store
		closeFn = func() {}
	)
	switch f.store {
	case "mem":
		st = memstore.New()
	case "file":
		if f.dir == "" {
			st = filestore.NewMemory()
			break
		}
		fs, err := filestore.New(f.dir)
		if err != nil {
			return nil, nil, err
		}
		st = fs
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{f.redisAddr}})
		rs, err := redisstore.New(rdb, redisstore.Options{})
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		st = rs
		closeFn = func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("close redis client")
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown store %q (use mem, file or redis)", f.store)
	}

	if f.compress {
		st = compress.New(st, zstd.SpeedDefault)
	}
	if f.resilient {
		logger := log.Logger
		st = resilient.New(st, resilient.Options{Name: f.store, Logger: &logger})
	}
	return st, closeFn, nil
}
