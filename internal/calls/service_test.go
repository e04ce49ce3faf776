package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"callbridge/internal/auth"
	"callbridge/internal/executives"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureNotifier struct {
	mu     sync.Mutex
	events []struct {
		Recipient string
		Event     Event
	}
}

func (n *captureNotifier) NotifyUser(id string, ev Event)      { n.record("user:"+id, ev) }
func (n *captureNotifier) NotifyExecutive(id string, ev Event) { n.record("executive:"+id, ev) }

func (n *captureNotifier) record(recipient string, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, struct {
		Recipient string
		Event     Event
	}{recipient, ev})
}

func (n *captureNotifier) count(recipient string, typ EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c int
	for _, e := range n.events {
		if e.Recipient == recipient && e.Event.Type == typ {
			c++
		}
	}
	return c
}

type captureAudit struct {
	mu     sync.Mutex
	races  []string
	forced []string
}

func (a *captureAudit) TerminationRace(_ context.Context, callID, status, by, reqID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.races = append(a.races, fmt.Sprintf("%s:%s:%s:%s", callID, status, by, reqID))
}

func (a *captureAudit) ForcedEnd(_ context.Context, callID, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forced = append(a.forced, callID+":"+reason)
}

func (a *captureAudit) raceCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.races)
}

type stubTokens struct{}

func (stubTokens) JoinToken(channelID string, uid int) (string, error) {
	return fmt.Sprintf("tok-%s-%d", channelID, uid), nil
}

// repoBalances serves the balance gate from the memory repo so the gate and
// the settlement see the same coins.
type repoBalances struct{ repo *MemoryRepo }

func (b repoBalances) CoinBalance(_ context.Context, userID string) (int64, error) {
	b.repo.mu.Lock()
	defer b.repo.mu.Unlock()
	return b.repo.Balances[userID], nil
}

type testEnv struct {
	repo  *MemoryRepo
	execs *executives.MemoryRepo
	notif *captureNotifier
	audit *captureAudit
	clock *fakeClock
	svc   *Service
}

func newTestEnv(t *testing.T, mutate func(*ServiceConfig)) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:  NewMemoryRepo(),
		execs: executives.NewMemoryRepo(),
		notif: &captureNotifier{},
		audit: &captureAudit{},
		clock: newFakeClock(),
	}
	env.execs.Put(executives.Executive{
		ID:                 "exec-1",
		Name:               "Asha",
		IsOnline:           true,
		RatePerSecondCoins: 1,
		RatePerMinute:      decimal.RequireFromString("6.00"),
	})
	env.repo.Balances["user-1"] = 1000

	cfg := ServiceConfig{
		Repo:       env.repo,
		Executives: env.execs,
		Balances:   repoBalances{env.repo},
		Tokens:     stubTokens{},
		Notifier:   env.notif,
		Audit:      env.audit,
		Clock:      env.clock.Now,
		RingWindow: time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.svc = NewService(cfg)
	t.Cleanup(env.svc.Close)
	return env
}

func (e *testEnv) executive(t *testing.T, id string) executives.Executive {
	t.Helper()
	ex, err := e.execs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("executive %s: %v", id, err)
	}
	return ex
}

var (
	userActor = auth.UserActor("user-1")
	execActor = auth.ExecutiveActor("exec-1")
)

func TestInitiate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, err := env.svc.Initiate(ctx, userActor, "exec-1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if call.Status != StatusPending {
		t.Fatalf("status = %s, want pending", call.Status)
	}
	if call.CallerToken == "" || call.CalleeToken == "" {
		t.Fatal("join tokens not issued")
	}
	if call.RatePerSecondCoins != 1 || !call.RatePerMinute.Equal(decimal.RequireFromString("6.00")) {
		t.Fatalf("rates not frozen: %d / %s", call.RatePerSecondCoins, call.RatePerMinute)
	}
	if !env.svc.sup.Armed(call.ID) {
		t.Fatal("ring timer not armed")
	}
	if got := env.notif.count("executive:exec-1", EventIncomingCall); got != 1 {
		t.Fatalf("incoming_call pushes = %d, want 1", got)
	}
	if ex := env.executive(t, "exec-1"); !ex.OnCall {
		t.Fatal("executive not marked on_call")
	}

	// A second caller hits the on_call gate.
	if _, err := env.svc.Initiate(ctx, auth.UserActor("user-2"), "exec-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second initiate: got %v, want conflict", err)
	}
}

func TestInitiateGates(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.execs.Put(executives.Executive{ID: "exec-off", RatePerSecondCoins: 1})
	env.execs.Put(executives.Executive{ID: "exec-rich", IsOnline: true, RatePerSecondCoins: 500})

	if _, err := env.svc.Initiate(ctx, execActor, "exec-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("executive as caller: got %v", err)
	}
	if _, err := env.svc.Initiate(ctx, userActor, ""); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("empty executive id: got %v", err)
	}
	if _, err := env.svc.Initiate(ctx, userActor, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown executive: got %v", err)
	}
	if _, err := env.svc.Initiate(ctx, userActor, "exec-off"); !errors.Is(err, ErrConflict) {
		t.Fatalf("offline executive: got %v", err)
	}
	// 500 coins/sec * 10s minimum > 1000 balance.
	if _, err := env.svc.Initiate(ctx, userActor, "exec-rich"); !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("unaffordable executive: got %v", err)
	}
}

func TestFullLifecycleBilling(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, err := env.svc.Initiate(ctx, userActor, "exec-1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := env.svc.Accept(ctx, execActor, call.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := env.notif.count("user:user-1", EventCallAccepted); got != 1 {
		t.Fatalf("call_accepted pushes = %d, want 1", got)
	}

	if _, err := env.svc.Join(ctx, execActor, call.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if env.svc.sup.Armed(call.ID) {
		t.Fatal("ring timer still armed after join")
	}

	env.clock.Advance(90 * time.Second)

	ended, err := env.svc.End(ctx, userActor, call.ID, "req-1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != StatusEnded || ended.EndedBy != EndedByCaller {
		t.Fatalf("terminal record = %s by %s", ended.Status, ended.EndedBy)
	}
	if ended.DurationSeconds != 90 {
		t.Fatalf("duration = %d, want 90", ended.DurationSeconds)
	}
	if ended.CoinsDeducted != 90 {
		t.Fatalf("coins = %d, want 90", ended.CoinsDeducted)
	}
	// 6.00/min -> 0.10/s -> 9.00 for 90s.
	if want := decimal.RequireFromString("9.00"); !ended.ExecutiveEarnings.Equal(want) {
		t.Fatalf("earnings = %s, want %s", ended.ExecutiveEarnings, want)
	}
	if bal := env.repo.Balances["user-1"]; bal != 910 {
		t.Fatalf("balance = %d, want 910", bal)
	}
	if !env.repo.Earnings["exec-1"].Equal(decimal.RequireFromString("9.00")) {
		t.Fatalf("accrued earnings = %s", env.repo.Earnings["exec-1"])
	}
	if ex := env.executive(t, "exec-1"); ex.OnCall {
		t.Fatal("executive still on_call after termination")
	}
	if got := env.notif.count("user:user-1", EventCallEnded); got != 1 {
		t.Fatalf("caller call_ended pushes = %d, want 1", got)
	}
	if got := env.notif.count("executive:exec-1", EventCallEnded); got != 1 {
		t.Fatalf("executive call_ended pushes = %d, want 1", got)
	}
}

func TestRejectAndCancelPermissions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, err := env.svc.Initiate(ctx, userActor, "exec-1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := env.svc.Reject(ctx, userActor, call.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("caller rejecting: got %v", err)
	}
	if _, err := env.svc.Cancel(ctx, execActor, call.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("executive cancelling: got %v", err)
	}

	got, err := env.svc.Reject(ctx, execActor, call.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != StatusRejected || got.EndedBy != EndedByCallee {
		t.Fatalf("rejected record = %s by %s", got.Status, got.EndedBy)
	}
	if got.CoinsDeducted != 0 || got.DurationSeconds != 0 {
		t.Fatalf("rejected call billed: %d coins, %ds", got.CoinsDeducted, got.DurationSeconds)
	}
	if bal := env.repo.Balances["user-1"]; bal != 1000 {
		t.Fatalf("balance moved on reject: %d", bal)
	}
	if env.notif.count("user:user-1", EventCallRejected) != 1 {
		t.Fatal("caller not told about rejection")
	}
}

func TestCancelBeforeJoin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, _ := env.svc.Initiate(ctx, userActor, "exec-1")
	got, err := env.svc.Cancel(ctx, userActor, call.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled || got.EndedBy != EndedByCaller {
		t.Fatalf("cancelled record = %s by %s", got.Status, got.EndedBy)
	}
	// Cancelling a joined call is an invalid transition.
	call2, _ := env.svc.Initiate(ctx, userActor, "exec-1")
	if _, err := env.svc.Join(ctx, execActor, call2.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, userActor, call2.ID); !IsInvalidTransition(err) {
		t.Fatalf("cancel after join: got %v, want invalid transition", err)
	}
}

func TestRingTimeoutMarksMissed(t *testing.T) {
	env := newTestEnv(t, func(cfg *ServiceConfig) {
		cfg.RingWindow = 20 * time.Millisecond
	})
	ctx := context.Background()

	call, err := env.svc.Initiate(ctx, userActor, "exec-1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := env.repo.Get(ctx, call.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Terminated() {
			if got.Status != StatusMissed || got.EndedBy != EndedByTimeout {
				t.Fatalf("timed out record = %s by %s", got.Status, got.EndedBy)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if env.repo.MissedCalls["exec-1"] != 1 {
		t.Fatalf("missed counter = %d, want 1", env.repo.MissedCalls["exec-1"])
	}
	if ex := env.executive(t, "exec-1"); ex.OnCall {
		t.Fatal("executive still on_call after missed call")
	}
	if env.notif.count("user:user-1", EventCallMissed) != 1 {
		t.Fatal("caller not told about missed call")
	}
}

func TestJoinDisarmsRingTimeout(t *testing.T) {
	env := newTestEnv(t, func(cfg *ServiceConfig) {
		cfg.RingWindow = 30 * time.Millisecond
	})
	ctx := context.Background()

	call, _ := env.svc.Initiate(ctx, userActor, "exec-1")
	if _, err := env.svc.Join(ctx, execActor, call.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	got, _ := env.repo.Get(ctx, call.ID)
	if got.Status != StatusJoined {
		t.Fatalf("status = %s, want joined after timer window", got.Status)
	}
}

func TestLateTimeoutCannotMissJoinedCall(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, _ := env.svc.Initiate(ctx, userActor, "exec-1")
	if _, err := env.svc.Join(ctx, execActor, call.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	// A fire that slipped past Cancel must collapse to a no-op, never to
	// a missed record.
	env.svc.fireRingTimeout(call.ID)

	got, _ := env.repo.Get(ctx, call.ID)
	if got.Status != StatusJoined {
		t.Fatalf("status = %s, want joined after late fire", got.Status)
	}
	if env.repo.MissedCalls["exec-1"] != 0 {
		t.Fatalf("missed counter = %d, want 0", env.repo.MissedCalls["exec-1"])
	}
	if env.repo.BillingApplied[call.ID] != 0 {
		t.Fatalf("billing applied %d times before termination", env.repo.BillingApplied[call.ID])
	}
	if env.notif.count("user:user-1", EventCallMissed) != 0 {
		t.Fatal("caller told about a missed call that joined")
	}

	// Same property straight at the repository: the trigger is re-checked
	// under the lock, so even a raw attempt loses.
	res, err := env.repo.Terminate(ctx, TerminateParams{
		CallID:       call.ID,
		Trigger:      TriggerTimeout,
		EndedBy:      EndedByTimeout,
		EndRequestID: "timeout:" + call.ID,
		EndedAt:      env.clock.Now(),
	})
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if res.Won || res.Call.Status != StatusJoined {
		t.Fatalf("repo result won=%v status=%s, want lose on joined", res.Won, res.Call.Status)
	}

	// The call stays billable end to end.
	env.clock.Advance(20 * time.Second)
	ended, err := env.svc.End(ctx, userActor, call.ID, "req-1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != StatusEnded || ended.CoinsDeducted != 20 {
		t.Fatalf("settled record = %s, %d coins", ended.Status, ended.CoinsDeducted)
	}
}

func TestConcurrentEndsSettleOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, _ := env.svc.Initiate(ctx, userActor, "exec-1")
	if _, err := env.svc.Join(ctx, execActor, call.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	env.clock.Advance(30 * time.Second)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		actor, reqID := userActor, fmt.Sprintf("u-%d", i)
		if i%2 == 1 {
			actor, reqID = execActor, fmt.Sprintf("e-%d", i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.End(ctx, actor, call.ID, reqID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent end: %v", err)
		}
	}

	if applied := env.repo.BillingApplied[call.ID]; applied != 1 {
		t.Fatalf("billing applied %d times, want exactly 1", applied)
	}
	if bal := env.repo.Balances["user-1"]; bal != 970 {
		t.Fatalf("balance = %d, want 970", bal)
	}
	got, _ := env.repo.Get(ctx, call.ID)
	if got.DurationSeconds != 30 || got.CoinsDeducted != 30 {
		t.Fatalf("settled record: %ds, %d coins", got.DurationSeconds, got.CoinsDeducted)
	}
}

func TestEndIdempotentAndAudited(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, _ := env.svc.Initiate(ctx, userActor, "exec-1")
	env.svc.Join(ctx, execActor, call.ID)
	env.clock.Advance(10 * time.Second)

	first, err := env.svc.End(ctx, userActor, call.ID, "req-1")
	if err != nil {
		t.Fatalf("first end: %v", err)
	}
	second, err := env.svc.End(ctx, execActor, call.ID, "req-2")
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if second.Status != first.Status || second.EndedBy != first.EndedBy {
		t.Fatalf("second end rewrote record: %s by %s", second.Status, second.EndedBy)
	}
	if second.EndRequestID != "req-1" {
		t.Fatalf("end_request_id = %q, want winner's req-1", second.EndRequestID)
	}
	if env.repo.BillingApplied[call.ID] != 1 {
		t.Fatalf("billing applied %d times", env.repo.BillingApplied[call.ID])
	}
	if env.audit.raceCount() != 1 {
		t.Fatalf("audited races = %d, want 1", env.audit.raceCount())
	}
}

func TestHeartbeatBalanceExhaustion(t *testing.T) {
	env := newTestEnv(t, func(cfg *ServiceConfig) {
		cfg.MinStartSeconds = 5
	})
	ctx := context.Background()
	env.repo.Balances["user-1"] = 20

	call, err := env.svc.Initiate(ctx, userActor, "exec-1")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	env.svc.Join(ctx, execActor, call.ID)

	env.clock.Advance(10 * time.Second)
	got, err := env.svc.Heartbeat(ctx, userActor, call.ID)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if got.Terminated() {
		t.Fatal("call force-ended while still funded")
	}
	if got.LastHeartbeatAt == nil {
		t.Fatal("heartbeat not stamped")
	}

	env.clock.Advance(15 * time.Second)
	got, err = env.svc.Heartbeat(ctx, userActor, call.ID)
	if err != nil {
		t.Fatalf("heartbeat past exhaustion: %v", err)
	}
	if got.Status != StatusEnded || got.EndedBy != EndedBySystem {
		t.Fatalf("record = %s by %s, want ended by system", got.Status, got.EndedBy)
	}
	// 25s accrued at 1 coin/s against a 20 coin balance: floored at zero.
	if got.CoinsDeducted != 20 {
		t.Fatalf("coins = %d, want 20", got.CoinsDeducted)
	}
	if bal := env.repo.Balances["user-1"]; bal != 0 {
		t.Fatalf("balance = %d, want 0", bal)
	}
	if len(env.audit.forced) == 0 {
		t.Fatal("forced end not audited")
	}
}

func TestWebhookTermination(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, _ := env.svc.Initiate(ctx, userActor, "exec-1")
	if err := env.svc.ChannelJoined(ctx, call.ChannelID); err != nil {
		t.Fatalf("channel joined: %v", err)
	}
	env.clock.Advance(42 * time.Second)

	if err := env.svc.ChannelEnded(ctx, call.ChannelID, "channel.idle", 1740000000); err != nil {
		t.Fatalf("channel ended: %v", err)
	}
	got, _ := env.repo.Get(ctx, call.ID)
	if got.Status != StatusEnded || got.EndedBy != EndedByWebhook {
		t.Fatalf("record = %s by %s", got.Status, got.EndedBy)
	}
	if got.EndRequestID != "webhook:channel.idle:1740000000" {
		t.Fatalf("end_request_id = %q", got.EndRequestID)
	}
	if got.DurationSeconds != 42 {
		t.Fatalf("duration = %d, want 42", got.DurationSeconds)
	}

	// Redelivery of the same webhook is a no-op.
	if err := env.svc.ChannelEnded(ctx, call.ChannelID, "channel.idle", 1740000000); err != nil {
		t.Fatalf("redelivered webhook: %v", err)
	}
	if env.repo.BillingApplied[call.ID] != 1 {
		t.Fatalf("billing applied %d times", env.repo.BillingApplied[call.ID])
	}
}

func TestWebhookStampsHeartbeat(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, _ := env.svc.Initiate(ctx, userActor, "exec-1")
	if err := env.svc.ChannelJoined(ctx, call.ChannelID); err != nil {
		t.Fatalf("channel joined: %v", err)
	}
	got, _ := env.repo.Get(ctx, call.ID)
	if got.LastHeartbeatAt == nil || !got.LastHeartbeatAt.Equal(env.clock.Now()) {
		t.Fatalf("last_heartbeat_at = %v, want webhook stamp", got.LastHeartbeatAt)
	}

	// A redelivered join changes no status but still refreshes liveness.
	env.clock.Advance(7 * time.Second)
	if err := env.svc.ChannelJoined(ctx, call.ChannelID); err != nil {
		t.Fatalf("redelivered join: %v", err)
	}
	got, _ = env.repo.Get(ctx, call.ID)
	if got.Status != StatusJoined {
		t.Fatalf("status = %s after redelivery", got.Status)
	}
	if got.LastHeartbeatAt == nil || !got.LastHeartbeatAt.Equal(env.clock.Now()) {
		t.Fatalf("last_heartbeat_at = %v, not refreshed by redelivery", got.LastHeartbeatAt)
	}
}

func TestPartyScoping(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	call, _ := env.svc.Initiate(ctx, userActor, "exec-1")
	if _, err := env.svc.Get(ctx, auth.UserActor("stranger"), call.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("stranger read: got %v", err)
	}
	if _, err := env.svc.Get(ctx, auth.Actor{Kind: auth.ActorKindAdmin, ID: "admin-1"}, call.ID); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if _, err := env.svc.Get(ctx, userActor, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing call: got %v", err)
	}
}
