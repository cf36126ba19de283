package sync

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 32

// KeyedMutex serializes work per key without a single global lock. Keys are
// hashed onto a fixed set of shards, so two keys may share a shard; callers
// must never hold more than one key at a time.
type KeyedMutex struct {
	shards []sync.Mutex
}

// NewKeyedMutex creates a KeyedMutex with n shards. n <= 0 selects the default.
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = defaultShards
	}
	return &KeyedMutex{shards: make([]sync.Mutex, n)}
}

// Lock acquires the shard that owns key.
func (m *KeyedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the shard that owns key.
func (m *KeyedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

// Do runs fn while holding key's shard.
func (m *KeyedMutex) Do(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}

func (m *KeyedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
