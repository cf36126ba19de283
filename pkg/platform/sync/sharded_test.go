package sync

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_LockUnlock(t *testing.T) {
	m := NewKeyedMutex(0)

	m.Lock("issuer-a")
	m.Unlock("issuer-a")

	// empty key maps to shard 0
	m.Lock("")
	m.Unlock("")
}

func TestKeyedMutex_SameKeySerializes(t *testing.T) {
	m := NewKeyedMutex(4)
	counter := 0
	var wg sync.WaitGroup

	for range 100 {
		wg.Go(func() {
			_ = m.Do("issuer-a", func() error {
				counter++
				return nil
			})
		})
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestKeyedMutex_DoPropagatesError(t *testing.T) {
	m := NewKeyedMutex(1)
	boom := errors.New("boom")

	err := m.Do("k", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	// lock must have been released
	m.Lock("k")
	m.Unlock("k")
}

func TestKeyedMutex_ShardDistribution(t *testing.T) {
	m := NewKeyedMutex(32)

	shards := make(map[int]bool)
	for _, key := range []string{"did:example:a", "did:example:b", "org.acme", "gov.dmv", "uni-1", "uni-2"} {
		shards[m.shardFor(key)] = true
	}

	assert.GreaterOrEqual(t, len(shards), 3)
}
