package rtc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"callbridge/internal/calls"
)

// Provider channel event names, as delivered by the notification webhook.
const (
	EventUserJoined       = "user.joined"
	EventFirstUserJoined  = "channel.firstUserJoined"
	EventUserLeft         = "user.left"
	EventChannelIdle      = "channel.idle"
	EventChannelDestroyed = "channel.destroyed"
)

// WebhookEvent is the provider's notification payload. Timestamp is the
// provider-side event time in unix seconds; together with the event name it
// forms the redelivery idempotency token.
type WebhookEvent struct {
	EventType string `json:"event_type" binding:"required"`
	ChannelID string `json:"channel_id" binding:"required"`
	UID       int    `json:"uid"`
	Timestamp int64  `json:"timestamp"`
}

// CallSink receives channel observations. Implemented by the call session
// engine.
type CallSink interface {
	ChannelJoined(ctx context.Context, channelID string) error
	ChannelEnded(ctx context.Context, channelID, event string, ts int64) error
}

// WebhookHandler translates provider channel events into call transitions.
//
// The provider retries undelivered webhooks aggressively, so the handler
// answers 200 for every well-formed event, including events for unknown
// channels and events that lose the termination race. Only malformed
// payloads get a 4xx.
type WebhookHandler struct {
	sink CallSink
	log  *slog.Logger
}

func NewWebhookHandler(sink CallSink, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{sink: sink, log: log}
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	var ev WebhookEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"code":    "malformed_webhook",
			"message": "event_type and channel_id are required",
		}})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch ev.EventType {
	case EventUserJoined, EventFirstUserJoined:
		err = h.sink.ChannelJoined(ctx, ev.ChannelID)
	case EventUserLeft, EventChannelIdle, EventChannelDestroyed:
		err = h.sink.ChannelEnded(ctx, ev.ChannelID, ev.EventType, ev.Timestamp)
	default:
		h.log.Debug("ignoring webhook event", "event_type", ev.EventType, "channel_id", ev.ChannelID)
	}

	if err != nil && !isBenignWebhookErr(err) {
		h.log.Error("webhook processing failed",
			"event_type", ev.EventType, "channel_id", ev.ChannelID, "error", err)
	}
	// Always acknowledge; the engine's terminal guard makes redelivery safe
	// and a 5xx would only trigger another redelivery.
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// isBenignWebhookErr filters the errors that are expected in normal
// operation: channels we never created, and transitions that already
// happened on another path.
func isBenignWebhookErr(err error) bool {
	return errors.Is(err, calls.ErrNotFound) || calls.IsInvalidTransition(err)
}
