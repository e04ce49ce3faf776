package calls

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory Repository with the same terminal-guard and
// exactly-once billing semantics as the Postgres implementation. Billing
// side effects land in exported maps so tests can assert them directly.
type MemoryRepo struct {
	mu        sync.Mutex
	calls     map[string]*Call
	byChannel map[string]string

	// Caller coin balances. Terminate floors every deduction at zero and
	// reports the shortfall.
	Balances map[string]int64

	// Per-executive accruals, incremented by winning terminations only.
	Earnings    map[string]decimal.Decimal
	TalkSeconds map[string]int64
	PickedCalls map[string]int64
	MissedCalls map[string]int64

	// BillingApplied counts how many times billing ran per call. Anything
	// other than 0 or 1 is a bug.
	BillingApplied map[string]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:          make(map[string]*Call),
		byChannel:      make(map[string]string),
		Balances:       make(map[string]int64),
		Earnings:       make(map[string]decimal.Decimal),
		TalkSeconds:    make(map[string]int64),
		PickedCalls:    make(map[string]int64),
		MissedCalls:    make(map[string]int64),
		BillingApplied: make(map[string]int),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, call *Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ID]; ok {
		return ErrConflict
	}
	if existingID, ok := r.byChannel[call.ChannelID]; ok {
		if existing := r.calls[existingID]; existing != nil && !existing.Terminated() {
			return ErrConflict
		}
	}
	cp := *call
	r.calls[call.ID] = &cp
	r.byChannel[call.ChannelID] = call.ID
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(id)
}

func (r *MemoryRepo) GetByChannel(ctx context.Context, channelID string) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byChannel[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.snapshot(id)
}

func (r *MemoryRepo) Accept(ctx context.Context, id string, now time.Time) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, changed, err := Next(c.Status, TriggerAccept)
	if err != nil {
		return nil, err
	}
	if changed {
		c.Status = next
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepo) MarkJoined(ctx context.Context, id string, now time.Time) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, changed, err := Next(c.Status, TriggerJoin)
	if err != nil {
		return nil, err
	}
	if changed {
		c.Status = next
		if c.JoinedAt == nil {
			t := now
			c.JoinedAt = &t
		}
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepo) Terminate(ctx context.Context, params TerminateParams) (TerminateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[params.CallID]
	if !ok {
		return TerminateResult{}, ErrNotFound
	}
	// Re-run the machine under the lock: a trigger raced by a join (or an
	// earlier termination) collapses to a no-op here, never to a write.
	next, changed, err := Next(c.Status, params.Trigger)
	if err != nil {
		return TerminateResult{}, err
	}
	if !changed {
		cp := *c
		return TerminateResult{Call: &cp, Won: false}, nil
	}

	endedAt := params.EndedAt
	c.Status = next
	c.EndedAt = &endedAt
	c.EndedBy = params.EndedBy
	c.EndRequestID = params.EndRequestID

	bill := ComputeBilling(c.JoinedAt, c.EndedAt, c.RatePerSecondCoins, c.RatePerMinute)
	c.DurationSeconds = bill.DurationSeconds

	var shortfall int64
	if c.JoinedAt != nil {
		deduct := bill.CoinsDeducted
		if bal := r.Balances[c.CallerID]; deduct > bal {
			shortfall = deduct - bal
			deduct = bal
		}
		r.Balances[c.CallerID] -= deduct
		c.CoinsDeducted = deduct
		c.ExecutiveEarnings = bill.ExecutiveEarnings

		r.Earnings[c.ExecutiveID] = r.Earnings[c.ExecutiveID].Add(bill.ExecutiveEarnings)
		r.TalkSeconds[c.ExecutiveID] += bill.DurationSeconds
		r.PickedCalls[c.ExecutiveID]++
	} else {
		c.CoinsDeducted = 0
		c.ExecutiveEarnings = decimal.Zero
		if next == StatusMissed {
			r.MissedCalls[c.ExecutiveID]++
		}
	}
	r.BillingApplied[c.ID]++

	cp := *c
	return TerminateResult{Call: &cp, Won: true, CoinShortfall: shortfall}, nil
}

func (r *MemoryRepo) Heartbeat(ctx context.Context, id string, now time.Time) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.Terminated() {
		t := now
		c.LastHeartbeatAt = &t
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepo) snapshot(id string) (*Call, error) {
	c, ok := r.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}
