package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"callbridge/internal/auth"
)

// Close code sent when the handshake carries a missing or bad token.
const closeAuthFailure = 4001

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients cannot set Authorization headers on websocket
	// handshakes; origin policy is enforced at the edge.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades authenticated websocket connections and binds them to
// the hub.
type Handler struct {
	hub     *Hub
	tokens  *auth.Manager
	actions CallActions
	log     *slog.Logger
}

func NewHandler(hub *Hub, tokens *auth.Manager, actions CallActions, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{hub: hub, tokens: tokens, actions: actions, log: log}
}

// Serve handles GET /ws?token=<access token>. The token travels as a query
// parameter for the same reason CheckOrigin is open: the browser websocket
// API exposes no header control.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	claims, err := h.tokens.Verify(c.Query("token"), auth.TokenTypeAccess, time.Now())
	if err != nil {
		h.log.Info("websocket auth failed", "error", err)
		msg := websocket.FormatCloseMessage(closeAuthFailure, "authentication failed")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	actor := claims.Actor()
	if !actor.IsUser() && !actor.IsExecutive() {
		msg := websocket.FormatCloseMessage(closeAuthFailure, "actor kind not allowed")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := newClient(h.hub, conn, actor, h.actions, h.log)
	h.hub.Register(client)

	go client.writePump()
	// The request context dies when this handler returns; the pump outlives
	// it on the hijacked connection.
	go client.readPump(context.Background())
}
