package executives

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development. Not intended for production.
type MemoryRepo struct {
	mu    sync.Mutex
	Rows  map[string]Executive
	stats map[string]Stats
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		Rows:  make(map[string]Executive),
		stats: make(map[string]Stats),
	}
}

func (r *MemoryRepo) Put(e Executive) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rows[e.ID] = e
}

func (r *MemoryRepo) Get(ctx context.Context, executiveID string) (Executive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.Rows[executiveID]
	if !ok {
		return Executive{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepo) SetOnCall(ctx context.Context, executiveID string, onCall bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.Rows[executiveID]
	if !ok {
		return ErrNotFound
	}
	e.OnCall = onCall
	e.UpdatedAt = time.Now()
	r.Rows[executiveID] = e
	return nil
}

func (r *MemoryRepo) SetOnline(ctx context.Context, executiveID string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.Rows[executiveID]
	if !ok {
		return ErrNotFound
	}
	e.IsOnline = online
	e.UpdatedAt = time.Now()
	r.Rows[executiveID] = e
	return nil
}

func (r *MemoryRepo) Stats(ctx context.Context, executiveID string) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[executiveID]
	if !ok {
		return Stats{ExecutiveID: executiveID}, nil
	}
	return s, nil
}
