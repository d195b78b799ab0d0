// Package syncutil provides synchronization helpers.
package syncutil

import "sync"

// shardCount bounds lock memory regardless of how many session ids pass
// through. 256 shards keeps collision stalls negligible for the realistic
// ceiling of concurrent in-flight tracking batches, which is far below the
// number of live sessions (batches are short read-modify-write cycles).
const shardCount = 256

// ShardedMutex serializes work per string key using a fixed pool of
// mutexes. Keys that hash to the same shard occasionally contend with each
// other; for per-session write serialization that false sharing only
// delays a batch, never corrupts it. The zero value is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex owning key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

// shardIndex is inline FNV-1a; avoids the hash.Hash allocation on the
// ingest hot path.
func shardIndex(key string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= prime32
	}
	return h % shardCount
}
