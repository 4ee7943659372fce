package authority

import (
	"hash/fnv"
	"sync"
)

// numLockShards bounds memory for per-delegation locks. Delegations that share a shard
// serialize against each other, which is safe but slower.
const numLockShards = 128

// Locks is a keyed mutex giving each delegation a single writer within the process.
type Locks struct {
	shards [numLockShards]sync.Mutex
}

// NewLocks returns a ready set of locks.
func NewLocks() *Locks {
	return &Locks{}
}

// Lock acquires the lock for delegationID and returns its release function.
func (l *Locks) Lock(delegationID string) (unlock func()) {
	mu := &l.shards[shardFor(delegationID)]
	mu.Lock()
	return mu.Unlock
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % numLockShards
}
