package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callbridge/internal/auth"
	"callbridge/internal/httpapi"
	"callbridge/internal/rbac"
	"callbridge/internal/realtime"
	"callbridge/internal/rtc"
	"callbridge/pkg/utils"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(
	r *gin.Engine,
	db *sql.DB,
	h httpapi.Handlers,
	ws *realtime.Handler,
	webhook *rtc.WebhookHandler,
	authManager *auth.Manager,
) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: protect this with provider signature validation at the edge in
	// production.
	r.POST("/webhooks/rtc", webhook.Handle)

	// Websocket upgrade authenticates inside the handler (token travels as
	// a query parameter).
	r.GET("/ws", ws.Serve)

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager))
	{
		v1.GET("/me", func(c *gin.Context) {
			actor, err := auth.ActorFrom(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"actor_id": actor.ID, "actor_kind": actor.Kind})
		})

		// CALLS routes
		callGroup := v1.Group("/calls")
		callGroup.Use(rbac.RequireAnyKind(rbac.KindUser, rbac.KindExecutive))
		{
			callGroup.POST("", h.InitiateCall)
			callGroup.GET("/:call_id", h.GetCall)
			callGroup.POST("/:call_id/accept", h.AcceptCall)
			callGroup.POST("/:call_id/join", h.JoinCall)
			callGroup.POST("/:call_id/reject", h.RejectCall)
			callGroup.POST("/:call_id/cancel", h.CancelCall)
			callGroup.POST("/:call_id/end", h.EndCall)
			callGroup.POST("/:call_id/heartbeat", h.HeartbeatCall)
		}

		// WALLET routes
		walletGroup := v1.Group("/wallet")
		walletGroup.Use(rbac.RequireAnyKind(rbac.KindUser))
		{
			walletGroup.GET("/balance", h.GetCoinBalance)
		}

		// EXECUTIVE routes
		execGroup := v1.Group("/executives")
		execGroup.Use(rbac.RequireAnyKind(rbac.KindExecutive))
		{
			execGroup.GET("/me/stats", h.GetMyStats)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyKind(rbac.KindAdmin))
		{
			admin.POST("/wallet/credit", h.AdminCredit)
			admin.GET("/channels/:channel_id/call", h.GetCallByChannel)
			admin.GET("/executives/:executive_id/reports/day", h.GetExecutiveDayReport)
		}
	}
}
