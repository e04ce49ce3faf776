package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Inbound frame types.
const (
	frameCallAction      = "call_action"
	frameHeartbeat       = "heartbeat"
	frameStatusSubscribe = "status_subscribe"
)

type inboundFrame struct {
	Type      string `json:"type"`
	Action    string `json:"action,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// CallActions is the slice of the engine a connected client may drive.
// Implemented by calls.Service.
type CallActions interface {
	Accept(ctx context.Context, actor auth.Actor, callID string) (*calls.Call, error)
	Join(ctx context.Context, actor auth.Actor, callID string) (*calls.Call, error)
	Reject(ctx context.Context, actor auth.Actor, callID string) (*calls.Call, error)
	Cancel(ctx context.Context, actor auth.Actor, callID string) (*calls.Call, error)
	End(ctx context.Context, actor auth.Actor, callID, requestID string) (*calls.Call, error)
	Heartbeat(ctx context.Context, actor auth.Actor, callID string) (*calls.Call, error)
}

// Client is one websocket connection bound to one authenticated actor.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	actor   auth.Actor
	actions CallActions
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	sendq  chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, actor auth.Actor, actions CallActions, log *slog.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		actor:   actor,
		actions: actions,
		log:     log,
		sendq:   make(chan []byte, 64),
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.sendq)
	}
}

// enqueue hands a payload to the write pump, dropping it if the connection
// is closed or the queue is full.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.sendq <- payload:
		return true
	default:
		return false
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. One writer goroutine per connection; gorilla allows at
// most one concurrent writer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.sendq:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump parses inbound frames and dispatches them to the engine. Runs
// until the peer goes away, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", "actor_id", c.actor.ID, "error", err)
			}
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("", "malformed_frame", "frame is not valid JSON")
			continue
		}
		c.dispatch(ctx, frame)
	}
}

func (c *Client) dispatch(ctx context.Context, frame inboundFrame) {
	var err error
	switch frame.Type {
	case frameHeartbeat:
		c.hub.TouchPresence(c.actor)
		var call *calls.Call
		call, err = c.actions.Heartbeat(ctx, c.actor, frame.CallID)
		if err == nil {
			c.sendEvent(calls.Event{
				Type:    calls.EventHeartbeatAck,
				CallID:  frame.CallID,
				Payload: map[string]any{"status": string(call.Status)},
			})
		}

	case frameStatusSubscribe:
		c.hub.SubscribeStatus(c)
		return

	case frameCallAction:
		switch frame.Action {
		case "accept":
			_, err = c.actions.Accept(ctx, c.actor, frame.CallID)
		case "join":
			_, err = c.actions.Join(ctx, c.actor, frame.CallID)
		case "reject":
			_, err = c.actions.Reject(ctx, c.actor, frame.CallID)
		case "cancel":
			_, err = c.actions.Cancel(ctx, c.actor, frame.CallID)
		case "end":
			_, err = c.actions.End(ctx, c.actor, frame.CallID, frame.RequestID)
		default:
			c.sendError(frame.CallID, "unknown_action", "unsupported call action")
			return
		}

	default:
		c.sendError(frame.CallID, "unknown_frame", "unsupported frame type")
		return
	}

	if err != nil {
		c.sendError(frame.CallID, errorCode(err), err.Error())
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		return "not_found"
	case errors.Is(err, calls.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, calls.ErrConflict):
		return "conflict"
	case errors.Is(err, calls.ErrPaymentRequired):
		return "payment_required"
	case errors.Is(err, calls.ErrMalformedInput):
		return "malformed_input"
	case calls.IsInvalidTransition(err):
		return "invalid_transition"
	default:
		return "internal"
	}
}

func (c *Client) sendError(callID, code, message string) {
	c.sendEvent(calls.Event{
		Type:    calls.EventError,
		CallID:  callID,
		Payload: map[string]any{"code": code, "message": message},
	})
}

func (c *Client) sendEvent(ev calls.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.enqueue(payload)
}
