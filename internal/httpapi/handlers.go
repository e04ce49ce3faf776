package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/executives"
	"callbridge/internal/reporting"
	"callbridge/internal/wallet"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Calls      *calls.Service
	Wallet     *wallet.Service
	Executives *executives.Service
	Reporting  *reporting.Service
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": apiError{Code: code, Message: message}})
}

// writeCallError maps the engine's error taxonomy onto HTTP statuses.
func writeCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, executives.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, calls.ErrPermissionDenied):
		writeError(c, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, calls.ErrConflict):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, calls.ErrPaymentRequired):
		writeError(c, http.StatusPaymentRequired, "payment_required", err.Error())
	case errors.Is(err, calls.ErrMalformedInput):
		writeError(c, http.StatusBadRequest, "malformed_input", err.Error())
	case calls.IsInvalidTransition(err):
		writeError(c, http.StatusConflict, "invalid_transition", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}

func actorOrAbort(c *gin.Context) (auth.Actor, bool) {
	actor, err := auth.ActorFrom(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return auth.Actor{}, false
	}
	return actor, true
}

/* ===================== AUTH ===================== */

type loginRequest struct {
	ActorID   string `json:"actor_id"`
	ActorKind string `json:"actor_kind"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed_input", "invalid json")
		return
	}
	actor := auth.Actor{Kind: auth.ActorKind(req.ActorKind), ID: req.ActorID}
	if actor.ID == "" || !auth.ValidActorKind(actor.Kind) {
		writeError(c, http.StatusBadRequest, "malformed_input", "actor_id and a valid actor_kind are required")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), actor)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal", "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

/* ===================== CALLS ===================== */

type initiateRequest struct {
	ExecutiveID string `json:"executive_id"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed_input", "invalid json")
		return
	}
	call, err := h.Calls.Initiate(c.Request.Context(), actor, req.ExecutiveID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) GetCall(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), actor, c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) AcceptCall(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	call, err := h.Calls.Accept(c.Request.Context(), actor, c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) JoinCall(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	call, err := h.Calls.Join(c.Request.Context(), actor, c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) RejectCall(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	call, err := h.Calls.Reject(c.Request.Context(), actor, c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) CancelCall(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	call, err := h.Calls.Cancel(c.Request.Context(), actor, c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

type endRequest struct {
	RequestID string `json:"request_id"`
}

// EndCall terminates a call and returns the settled record, including the
// billing fields. Resubmitting the same termination returns the same
// settled record.
func (h Handlers) EndCall(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req endRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "malformed_input", "invalid json")
			return
		}
	}
	call, err := h.Calls.End(c.Request.Context(), actor, c.Param("call_id"), req.RequestID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"call": call,
		"billing": gin.H{
			"duration_seconds":   call.DurationSeconds,
			"coins_deducted":     call.CoinsDeducted,
			"executive_earnings": call.ExecutiveEarnings,
		},
	})
}

func (h Handlers) HeartbeatCall(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	call, err := h.Calls.Heartbeat(c.Request.Context(), actor, c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": call.ID, "status": call.Status, "last_heartbeat_at": call.LastHeartbeatAt})
}

// GetCallByChannel resolves a call from its provider channel id. Admin
// surface; used by support tooling when all they have is a provider log.
func (h Handlers) GetCallByChannel(c *gin.Context) {
	if _, ok := actorOrAbort(c); !ok {
		return
	}
	call, err := h.Calls.GetByChannel(c.Request.Context(), c.Param("channel_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

/* ===================== WALLET ===================== */

func (h Handlers) GetCoinBalance(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	bal, err := h.Wallet.CoinBalance(c.Request.Context(), actor.ID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "no account")
			return
		}
		writeError(c, http.StatusInternalServerError, "internal", "balance lookup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": actor.ID, "coin_balance": bal})
}

type adminCreditRequest struct {
	UserID         string `json:"user_id"`
	AmountCoins    int64  `json:"amount_coins"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

// AdminCredit grants coins to a user account. RBAC: admin only.
func (h Handlers) AdminCredit(c *gin.Context) {
	if _, ok := actorOrAbort(c); !ok {
		return
	}
	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed_input", "invalid json")
		return
	}
	if req.UserID == "" {
		writeError(c, http.StatusBadRequest, "malformed_input", "user_id required")
		return
	}
	entry, account, err := h.Wallet.Credit(c.Request.Context(), req.UserID, wallet.CreditRequest{
		AmountCoins:    req.AmountCoins,
		Type:           wallet.LedgerEntryTypeAdminGrant,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidArgument) {
			writeError(c, http.StatusBadRequest, "malformed_input", err.Error())
			return
		}
		if errors.Is(err, wallet.ErrNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "no account")
			return
		}
		writeError(c, http.StatusInternalServerError, "internal", "credit failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ledger_entry": entry, "account": account})
}

/* ===================== EXECUTIVES ===================== */

func (h Handlers) GetMyStats(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	stats, err := h.Executives.Stats(c.Request.Context(), actor.ID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetExecutiveDayReport returns the aggregated report for one executive and
// one UTC day. date defaults to today. RBAC: admin only.
func (h Handlers) GetExecutiveDayReport(c *gin.Context) {
	if _, ok := actorOrAbort(c); !ok {
		return
	}
	day := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "malformed_input", "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	overview, err := h.Reporting.Overview(c.Request.Context(), c.Param("executive_id"), day)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidArgument) {
			writeError(c, http.StatusBadRequest, "malformed_input", err.Error())
			return
		}
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}
