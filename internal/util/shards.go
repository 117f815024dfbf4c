package util

import "runtime"

// MaxShards bounds the automatic shard count.
const MaxShards = 256

// DefaultShardCount picks the default number of eviction shards: one per
// GOMAXPROCS, clamped to [1..MaxShards]. Shards are handed out to one goroutine
// at a time, so more shards than runnable goroutines buys nothing.
func DefaultShardCount() int {
	return min(max(runtime.GOMAXPROCS(0), 1), MaxShards)
}
