package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"callbridge/internal/auth"
	"callbridge/internal/executives"
)

const presenceKeyPrefix = "presence:"

// Tracker mirrors executive connectivity into the executives table and a
// TTL-bounded Redis key, so availability survives neither a crashed pod nor
// a stale row for longer than the TTL.
//
// User presence is tracked in Redis only; users have no availability gate.
type Tracker struct {
	execs executives.Repository
	rdb   *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

func NewTracker(execs executives.Repository, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{execs: execs, rdb: rdb, ttl: ttl, log: log}
}

func presenceKey(kind auth.ActorKind, id string) string {
	return presenceKeyPrefix + string(kind) + ":" + id
}

func (t *Tracker) Connected(kind auth.ActorKind, id string) {
	ctx := context.Background()
	if t.rdb != nil {
		if err := t.rdb.Set(ctx, presenceKey(kind, id), "1", t.ttl).Err(); err != nil {
			t.log.Warn("presence set failed", "actor_kind", kind, "actor_id", id, "error", err)
		}
	}
	if kind == auth.ActorKindExecutive {
		if err := t.execs.SetOnline(ctx, id, true); err != nil {
			t.log.Warn("online flag set failed", "executive_id", id, "error", err)
		}
	}
}

func (t *Tracker) Disconnected(kind auth.ActorKind, id string) {
	ctx := context.Background()
	if t.rdb != nil {
		if err := t.rdb.Del(ctx, presenceKey(kind, id)).Err(); err != nil {
			t.log.Warn("presence delete failed", "actor_kind", kind, "actor_id", id, "error", err)
		}
	}
	if kind == auth.ActorKindExecutive {
		if err := t.execs.SetOnline(ctx, id, false); err != nil {
			t.log.Warn("online flag clear failed", "executive_id", id, "error", err)
		}
	}
}

// Touch extends the presence TTL for a still-connected actor. Called from
// the heartbeat path.
func (t *Tracker) Touch(kind auth.ActorKind, id string) {
	if t.rdb == nil {
		return
	}
	ctx := context.Background()
	if err := t.rdb.Expire(ctx, presenceKey(kind, id), t.ttl).Err(); err != nil {
		t.log.Warn("presence refresh failed", "actor_kind", kind, "actor_id", id, "error", err)
	}
}

// Online reports whether the actor currently holds a live presence entry.
func (t *Tracker) Online(ctx context.Context, kind auth.ActorKind, id string) (bool, error) {
	if t.rdb == nil {
		return false, nil
	}
	n, err := t.rdb.Exists(ctx, presenceKey(kind, id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
