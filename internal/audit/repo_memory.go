package audit

import (
	"context"
	"sync"
)

type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.CallID == callID {
			out = append(out, ev)
		}
	}
	return out, nil
}
