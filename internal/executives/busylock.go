package executives

import (
	"context"
	"sync"
	"time"

	"callbridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// BusyLock serializes "one live call per executive" across processes.
// The owner is the call id, so a crashed initiate cannot wedge an executive
// past the TTL and a terminate can only release its own call's hold.
type BusyLock interface {
	Acquire(ctx context.Context, executiveID, owner string) (bool, error)
	Release(ctx context.Context, executiveID, owner string) error
}

const busyKeyPrefix = "executive:busy:"

// RedisBusyLock implements BusyLock on a shared Redis, so presence of a lock
// is visible to every server instance.
type RedisBusyLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisBusyLock(rdb *redis.Client, ttl time.Duration) *RedisBusyLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisBusyLock{rdb: rdb, ttl: ttl}
}

func (l *RedisBusyLock) Acquire(ctx context.Context, executiveID, owner string) (bool, error) {
	return utils.AcquireExclusive(ctx, l.rdb, busyKeyPrefix+executiveID, owner, l.ttl)
}

func (l *RedisBusyLock) Release(ctx context.Context, executiveID, owner string) error {
	return utils.ReleaseExclusive(ctx, l.rdb, busyKeyPrefix+executiveID, owner)
}

// MemoryBusyLock is a process-local BusyLock for tests.
type MemoryBusyLock struct {
	mu   sync.Mutex
	held map[string]string // executiveID -> owner
}

func NewMemoryBusyLock() *MemoryBusyLock {
	return &MemoryBusyLock{held: make(map[string]string)}
}

func (l *MemoryBusyLock) Acquire(ctx context.Context, executiveID, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.held[executiveID]
	if ok && cur != owner {
		return false, nil
	}
	l.held[executiveID] = owner
	return true, nil
}

func (l *MemoryBusyLock) Release(ctx context.Context, executiveID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[executiveID] == owner {
		delete(l.held, executiveID)
	}
	return nil
}
