package realtime

import (
	"context"
	"testing"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/executives"
)

func TestTrackerFlipsOnlineFlag(t *testing.T) {
	execs := executives.NewMemoryRepo()
	execs.Put(executives.Executive{ID: "exec-1"})
	tr := NewTracker(execs, nil, time.Minute, nil)
	ctx := context.Background()

	tr.Connected(auth.ActorKindExecutive, "exec-1")
	if e, _ := execs.Get(ctx, "exec-1"); !e.IsOnline {
		t.Fatal("executive not marked online on connect")
	}

	tr.Disconnected(auth.ActorKindExecutive, "exec-1")
	if e, _ := execs.Get(ctx, "exec-1"); e.IsOnline {
		t.Fatal("executive still online after disconnect")
	}
}

func TestTrackerIgnoresUsersForOnlineFlag(t *testing.T) {
	execs := executives.NewMemoryRepo()
	tr := NewTracker(execs, nil, time.Minute, nil)

	// Users have no directory row; these must be no-ops, not errors.
	tr.Connected(auth.ActorKindUser, "user-1")
	tr.Touch(auth.ActorKindUser, "user-1")
	tr.Disconnected(auth.ActorKindUser, "user-1")
}

func TestTrackerOnlineWithoutRedis(t *testing.T) {
	tr := NewTracker(executives.NewMemoryRepo(), nil, time.Minute, nil)
	ok, err := tr.Online(context.Background(), auth.ActorKindExecutive, "exec-1")
	if err != nil || ok {
		t.Fatalf("nil-redis Online = (%v, %v), want (false, nil)", ok, err)
	}
}
