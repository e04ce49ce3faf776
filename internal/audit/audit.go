// Package audit keeps a durable trail of engine anomalies: termination
// races and system-forced endings. Entries are append-only and never block
// the operation that produced them.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	// EventTerminationRace: a termination attempt arrived after another
	// writer already terminated the call.
	EventTerminationRace EventType = "termination_race"

	// EventForcedEnd: the engine ended a call on its own authority
	// (balance exhaustion, charge shortfall).
	EventForcedEnd EventType = "forced_end"
)

type Event struct {
	ID        string          `json:"id" db:"id"`
	Type      EventType       `json:"type" db:"type"`
	CallID    string          `json:"call_id" db:"call_id"`
	Details   json.RawMessage `json:"details" db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

type Repository interface {
	Append(ctx context.Context, ev Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Recorder satisfies the engine's audit hook. Append failures are logged
// and swallowed; a lost audit row must never fail a call operation.
type Recorder struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewRecorder(repo Repository, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{repo: repo, log: log, clock: time.Now}
}

func (r *Recorder) TerminationRace(ctx context.Context, callID, attemptedStatus, attemptedBy, requestID string) {
	r.append(ctx, EventTerminationRace, callID, map[string]string{
		"attempted_status": attemptedStatus,
		"attempted_by":     attemptedBy,
		"request_id":       requestID,
	})
}

func (r *Recorder) ForcedEnd(ctx context.Context, callID, reason string) {
	r.append(ctx, EventForcedEnd, callID, map[string]string{"reason": reason})
}

func (r *Recorder) append(ctx context.Context, typ EventType, callID string, details map[string]string) {
	raw, err := json.Marshal(details)
	if err != nil {
		r.log.Error("audit marshal failed", "type", typ, "call_id", callID, "error", err)
		return
	}
	ev := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		CallID:    callID,
		Details:   raw,
		CreatedAt: r.clock(),
	}
	if err := r.repo.Append(context.WithoutCancel(ctx), ev); err != nil {
		r.log.Error("audit append failed", "type", typ, "call_id", callID, "error", err)
	}
}
