package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"callbridge/internal/auth"
	"callbridge/internal/executives"
)

// BalanceSource reads a user's spendable coin balance. Implemented by the
// wallet service.
type BalanceSource interface {
	CoinBalance(ctx context.Context, userID string) (int64, error)
}

// TokenIssuer mints provider join credentials for one uid in one channel.
// Implemented by the rtc token builder.
type TokenIssuer interface {
	JoinToken(channelID string, uid int) (string, error)
}

// AuditLog records engine anomalies worth keeping. Implementations must not
// fail the calling operation.
type AuditLog interface {
	TerminationRace(ctx context.Context, callID, attemptedStatus, attemptedBy, requestID string)
	ForcedEnd(ctx context.Context, callID, reason string)
}

type nopAudit struct{}

func (nopAudit) TerminationRace(context.Context, string, string, string, string) {}
func (nopAudit) ForcedEnd(context.Context, string, string)                       {}

// Per-channel uids handed to the provider. The caller always joins as 1 and
// the executive as 2; the webhook ingestor relies on this to tell the sides
// apart.
const (
	CallerUID = 1
	CalleeUID = 2
)

// ServiceConfig wires the engine's collaborators. Repo, Executives,
// Balances and Tokens are required; the rest default to inert
// implementations.
type ServiceConfig struct {
	Repo       Repository
	Executives executives.Repository
	Balances   BalanceSource
	Tokens     TokenIssuer
	Notifier   Notifier
	BusyLock   executives.BusyLock
	Audit      AuditLog
	Logger     *slog.Logger

	// RingWindow is how long a call may sit unanswered before the
	// supervisor marks it missed.
	RingWindow time.Duration

	// MinStartSeconds is the number of seconds of talk time the caller
	// must be able to afford before a call is created.
	MinStartSeconds int64

	Clock func() time.Time
}

// Service is the call session engine. All lifecycle operations funnel
// through it; it owns the timeout supervisor and is the only writer of
// call state.
type Service struct {
	repo     Repository
	execs    executives.Repository
	balances BalanceSource
	tokens   TokenIssuer
	notifier Notifier
	busy     executives.BusyLock
	audit    AuditLog
	log      *slog.Logger
	clock    func() time.Time

	minStartSeconds int64
	sup             *Supervisor
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:            cfg.Repo,
		execs:           cfg.Executives,
		balances:        cfg.Balances,
		tokens:          cfg.Tokens,
		notifier:        cfg.Notifier,
		busy:            cfg.BusyLock,
		audit:           cfg.Audit,
		log:             cfg.Logger,
		clock:           cfg.Clock,
		minStartSeconds: cfg.MinStartSeconds,
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.busy == nil {
		s.busy = executives.NewMemoryBusyLock()
	}
	if s.audit == nil {
		s.audit = nopAudit{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.minStartSeconds <= 0 {
		s.minStartSeconds = 10
	}
	window := cfg.RingWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	s.sup = NewSupervisor(window, s.fireRingTimeout)
	return s
}

// Close stops the timeout supervisor. Pending live calls keep their rows;
// the terminal guard protects them until a later termination arrives.
func (s *Service) Close() { s.sup.Stop() }

// Initiate creates a call from a user to an executive: availability and
// balance gates, busy-lock claim, frozen rates, join tokens, pending
// record, armed ring timer, incoming_call push.
func (s *Service) Initiate(ctx context.Context, actor auth.Actor, executiveID string) (*Call, error) {
	if !actor.IsUser() {
		return nil, ErrPermissionDenied
	}
	if executiveID == "" {
		return nil, fmt.Errorf("%w: executive_id required", ErrMalformedInput)
	}

	exec, err := s.execs.Get(ctx, executiveID)
	if err != nil {
		if errors.Is(err, executives.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if ok, reason := executives.Availability(exec); !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflict, reason)
	}

	bal, err := s.balances.CoinBalance(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if need := s.minStartSeconds * exec.RatePerSecondCoins; bal < need {
		return nil, fmt.Errorf("%w: balance %d below required %d", ErrPaymentRequired, bal, need)
	}

	callID := uuid.NewString()
	channelID := "call_" + callID

	// The busy lock is the cross-instance claim; on_call is the durable
	// mirror the availability gate reads.
	ok, err := s.busy.Acquire(ctx, executiveID, callID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflict, executives.ReasonOnOtherCall)
	}
	release := func() {
		if err := s.busy.Release(context.WithoutCancel(ctx), executiveID, callID); err != nil {
			s.log.Warn("busy lock release failed", "executive_id", executiveID, "error", err)
		}
		if err := s.execs.SetOnCall(context.WithoutCancel(ctx), executiveID, false); err != nil {
			s.log.Warn("on_call clear failed", "executive_id", executiveID, "error", err)
		}
	}
	if err := s.execs.SetOnCall(ctx, executiveID, true); err != nil {
		release()
		return nil, err
	}

	callerToken, err := s.tokens.JoinToken(channelID, CallerUID)
	if err != nil {
		release()
		return nil, err
	}
	calleeToken, err := s.tokens.JoinToken(channelID, CalleeUID)
	if err != nil {
		release()
		return nil, err
	}

	now := s.clock()
	call := &Call{
		ID:                 callID,
		ChannelID:          channelID,
		CallerID:           actor.ID,
		ExecutiveID:        executiveID,
		CallerUID:          CallerUID,
		CalleeUID:          CalleeUID,
		Status:             StatusPending,
		CallerToken:        callerToken,
		CalleeToken:        calleeToken,
		StartedAt:          now,
		RatePerSecondCoins: exec.RatePerSecondCoins,
		RatePerMinute:      exec.RatePerMinute,
	}
	if err := s.repo.Create(ctx, call); err != nil {
		release()
		return nil, err
	}

	s.sup.Arm(callID)
	s.notifier.NotifyExecutive(executiveID, Event{
		Type:   EventIncomingCall,
		CallID: callID,
		Payload: map[string]any{
			"caller_id":  actor.ID,
			"channel_id": channelID,
			"token":      calleeToken,
			"uid":        CalleeUID,
		},
	})
	s.log.Info("call initiated",
		"call_id", callID, "caller_id", actor.ID, "executive_id", executiveID)
	return call, nil
}

// Accept acknowledges an incoming call on the executive side. The ring
// timer stays armed until the executive actually joins the channel.
func (s *Service) Accept(ctx context.Context, actor auth.Actor, callID string) (*Call, error) {
	call, err := s.loadForParty(ctx, actor, callID)
	if err != nil {
		return nil, err
	}
	if !actor.IsSystem() && actor.ID != call.ExecutiveID {
		return nil, ErrPermissionDenied
	}

	call, err = s.repo.Accept(ctx, callID, s.clock())
	if err != nil {
		return nil, err
	}
	s.notifier.NotifyUser(call.CallerID, Event{
		Type:    EventCallAccepted,
		CallID:  callID,
		Payload: map[string]any{"channel_id": call.ChannelID},
	})
	return call, nil
}

// Join marks the media session live: stamps joined_at on first join,
// disarms the ring timer, and tells both sides.
func (s *Service) Join(ctx context.Context, actor auth.Actor, callID string) (*Call, error) {
	call, err := s.loadForParty(ctx, actor, callID)
	if err != nil {
		return nil, err
	}
	return s.markJoined(ctx, call.ID)
}

func (s *Service) markJoined(ctx context.Context, callID string) (*Call, error) {
	call, err := s.repo.MarkJoined(ctx, callID, s.clock())
	if err != nil {
		return nil, err
	}
	s.sup.Cancel(callID)

	ev := Event{
		Type:    EventCallJoined,
		CallID:  callID,
		Payload: map[string]any{"joined_at": call.JoinedAt},
	}
	s.notifier.NotifyUser(call.CallerID, ev)
	s.notifier.NotifyExecutive(call.ExecutiveID, ev)
	s.log.Info("call joined", "call_id", callID)
	return call, nil
}

// Reject declines a not-yet-joined call. Executive side only.
func (s *Service) Reject(ctx context.Context, actor auth.Actor, callID string) (*Call, error) {
	call, err := s.loadForParty(ctx, actor, callID)
	if err != nil {
		return nil, err
	}
	if !actor.IsSystem() && actor.ID != call.ExecutiveID {
		return nil, ErrPermissionDenied
	}
	res, err := s.terminate(ctx, callID, TriggerReject, StatusRejected, EndedByCallee, "action:reject:"+callID)
	if err != nil {
		return nil, err
	}
	return res.Call, nil
}

// Cancel withdraws a not-yet-joined call. Caller side only.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, callID string) (*Call, error) {
	call, err := s.loadForParty(ctx, actor, callID)
	if err != nil {
		return nil, err
	}
	if !actor.IsSystem() && actor.ID != call.CallerID {
		return nil, ErrPermissionDenied
	}
	res, err := s.terminate(ctx, callID, TriggerCancel, StatusCancelled, EndedByCaller, "action:cancel:"+callID)
	if err != nil {
		return nil, err
	}
	return res.Call, nil
}

// End terminates a call from either side, settling billing exactly once.
// requestID is the caller-supplied idempotency token; empty gets a
// deterministic per-actor default.
func (s *Service) End(ctx context.Context, actor auth.Actor, callID, requestID string) (*Call, error) {
	call, err := s.loadForParty(ctx, actor, callID)
	if err != nil {
		return nil, err
	}

	by := EndedBySystem
	switch {
	case actor.IsUser() && actor.ID == call.CallerID:
		by = EndedByCaller
	case actor.IsExecutive() && actor.ID == call.ExecutiveID:
		by = EndedByCallee
	}
	if requestID == "" {
		requestID = fmt.Sprintf("action:end:%s:%s", by, callID)
	}

	res, err := s.terminate(ctx, callID, TriggerEnd, StatusEnded, by, requestID)
	if err != nil {
		return nil, err
	}
	return res.Call, nil
}

// Heartbeat keeps a live call's liveness stamp fresh and enforces the
// balance floor: once the accrued charge can no longer be covered, the
// engine force-ends the call on the caller's behalf.
func (s *Service) Heartbeat(ctx context.Context, actor auth.Actor, callID string) (*Call, error) {
	if _, err := s.loadForParty(ctx, actor, callID); err != nil {
		return nil, err
	}
	call, err := s.repo.Heartbeat(ctx, callID, s.clock())
	if err != nil {
		return nil, err
	}
	if call.Terminated() || call.JoinedAt == nil || call.RatePerSecondCoins <= 0 {
		return call, nil
	}

	bal, err := s.balances.CoinBalance(ctx, call.CallerID)
	if err != nil {
		// Liveness was recorded; the balance check retries next beat.
		s.log.Warn("balance check failed", "call_id", callID, "error", err)
		return call, nil
	}
	elapsed := int64(s.clock().Sub(*call.JoinedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if accrued := elapsed * call.RatePerSecondCoins; accrued >= bal {
		s.audit.ForcedEnd(ctx, callID, "balance_exhausted")
		res, err := s.terminate(ctx, callID, TriggerEnd, StatusEnded, EndedBySystem, "system:balance:"+callID)
		if err != nil {
			return nil, err
		}
		return res.Call, nil
	}
	return call, nil
}

// Get returns a call to one of its parties.
func (s *Service) Get(ctx context.Context, actor auth.Actor, callID string) (*Call, error) {
	return s.loadForParty(ctx, actor, callID)
}

// GetByChannel resolves the latest call bound to a provider channel.
// Reserved for admin and system use; channel ids are not party-scoped.
func (s *Service) GetByChannel(ctx context.Context, channelID string) (*Call, error) {
	return s.repo.GetByChannel(ctx, channelID)
}

// ChannelJoined is the webhook path for the executive entering the media
// channel. Joins keyed by channel rather than call id. Every accepted
// webhook doubles as a liveness signal, so the heartbeat stamp lands even
// when the status does not move.
func (s *Service) ChannelJoined(ctx context.Context, channelID string) error {
	call, err := s.repo.GetByChannel(ctx, channelID)
	if err != nil {
		return err
	}
	s.stampWebhookLiveness(ctx, call.ID)
	if call.Terminated() {
		return nil
	}
	_, err = s.markJoined(ctx, call.ID)
	return err
}

// ChannelEnded is the webhook path for provider-observed teardown. event
// and ts come from the provider payload and form the idempotency token, so
// redelivered webhooks collapse onto one termination.
func (s *Service) ChannelEnded(ctx context.Context, channelID, event string, ts int64) error {
	call, err := s.repo.GetByChannel(ctx, channelID)
	if err != nil {
		return err
	}
	s.stampWebhookLiveness(ctx, call.ID)
	requestID := fmt.Sprintf("webhook:%s:%d", event, ts)
	_, err = s.terminate(ctx, call.ID, TriggerEnd, StatusEnded, EndedByWebhook, requestID)
	return err
}

// stampWebhookLiveness records last_heartbeat_at for a webhook delivery.
// The repository ignores terminated calls; a failed stamp never fails the
// webhook itself.
func (s *Service) stampWebhookLiveness(ctx context.Context, callID string) {
	if _, err := s.repo.Heartbeat(ctx, callID, s.clock()); err != nil {
		s.log.Warn("webhook liveness stamp failed", "call_id", callID, "error", err)
	}
}

func (s *Service) fireRingTimeout(callID string) {
	ctx := context.Background()
	res, err := s.terminate(ctx, callID, TriggerTimeout, StatusMissed, EndedByTimeout, "timeout:"+callID)
	if err != nil {
		s.log.Error("ring timeout termination failed", "call_id", callID, "error", err)
		return
	}
	if res.Won {
		s.log.Info("call missed", "call_id", callID)
	}
}

// terminate is the single funnel for every terminal trigger. The repository
// decides the race; losers get the recorded terminal call, an audit entry,
// and no error.
func (s *Service) terminate(ctx context.Context, callID string, trg Trigger, status CallStatus, by EndedBy, requestID string) (TerminateResult, error) {
	call, err := s.repo.Get(ctx, callID)
	if err != nil {
		return TerminateResult{}, err
	}

	// Pre-validate against the snapshot; the repository re-validates under
	// its own lock.
	_, changed, err := Next(call.Status, trg)
	if err != nil {
		return TerminateResult{}, err
	}
	if !changed && call.Terminated() {
		s.audit.TerminationRace(ctx, callID, string(status), string(by), requestID)
		return TerminateResult{Call: call, Won: false}, nil
	}

	res, err := s.repo.Terminate(ctx, TerminateParams{
		CallID:       callID,
		Trigger:      trg,
		EndedBy:      by,
		EndRequestID: requestID,
		EndedAt:      s.clock(),
	})
	if err != nil {
		return TerminateResult{}, err
	}

	if !res.Won {
		s.audit.TerminationRace(ctx, callID, string(status), string(by), requestID)
		s.log.Info("termination race resolved",
			"call_id", callID, "attempted", status, "recorded", res.Call.Status)
		return res, nil
	}

	s.sup.Cancel(callID)
	s.releaseExecutive(ctx, res.Call)
	s.notifyTerminated(res.Call)

	if res.CoinShortfall > 0 {
		s.audit.ForcedEnd(ctx, callID, "coin_shortfall")
		s.log.Warn("call charge shortfall",
			"call_id", callID, "shortfall", res.CoinShortfall)
	}
	s.log.Info("call terminated",
		"call_id", callID, "status", res.Call.Status, "ended_by", by,
		"duration_seconds", res.Call.DurationSeconds,
		"coins_deducted", res.Call.CoinsDeducted)
	return res, nil
}

func (s *Service) releaseExecutive(ctx context.Context, call *Call) {
	ctx = context.WithoutCancel(ctx)
	if err := s.busy.Release(ctx, call.ExecutiveID, call.ID); err != nil {
		s.log.Warn("busy lock release failed", "executive_id", call.ExecutiveID, "error", err)
	}
	if err := s.execs.SetOnCall(ctx, call.ExecutiveID, false); err != nil {
		s.log.Warn("on_call clear failed", "executive_id", call.ExecutiveID, "error", err)
	}
}

func (s *Service) notifyTerminated(call *Call) {
	var typ EventType
	switch call.Status {
	case StatusRejected:
		typ = EventCallRejected
	case StatusCancelled:
		typ = EventCallCancelled
	case StatusMissed:
		typ = EventCallMissed
	default:
		typ = EventCallEnded
	}
	ev := Event{
		Type:   typ,
		CallID: call.ID,
		Payload: map[string]any{
			"status":           string(call.Status),
			"ended_by":         string(call.EndedBy),
			"duration_seconds": call.DurationSeconds,
			"coins_deducted":   call.CoinsDeducted,
		},
	}
	s.notifier.NotifyUser(call.CallerID, ev)
	s.notifier.NotifyExecutive(call.ExecutiveID, ev)
}

func (s *Service) loadForParty(ctx context.Context, actor auth.Actor, callID string) (*Call, error) {
	if callID == "" {
		return nil, fmt.Errorf("%w: call_id required", ErrMalformedInput)
	}
	call, err := s.repo.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if actor.IsSystem() || actor.Kind == auth.ActorKindAdmin {
		return call, nil
	}
	if actor.ID == call.CallerID || actor.ID == call.ExecutiveID {
		return call, nil
	}
	return nil, ErrPermissionDenied
}
