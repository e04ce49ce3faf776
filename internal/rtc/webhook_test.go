package rtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"callbridge/internal/calls"
)

type fakeSink struct {
	joined []string
	ended  []string
	err    error
}

func (s *fakeSink) ChannelJoined(_ context.Context, channelID string) error {
	s.joined = append(s.joined, channelID)
	return s.err
}

func (s *fakeSink) ChannelEnded(_ context.Context, channelID, event string, ts int64) error {
	s.ended = append(s.ended, channelID+"|"+event)
	return s.err
}

func postWebhook(t *testing.T, h *WebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/rtc", h.Handle)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/rtc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookDispatch(t *testing.T) {
	sink := &fakeSink{}
	h := NewWebhookHandler(sink, nil)

	w := postWebhook(t, h, `{"event_type":"channel.firstUserJoined","channel_id":"call_1","timestamp":100}`)
	if w.Code != http.StatusOK {
		t.Fatalf("join event status = %d", w.Code)
	}
	w = postWebhook(t, h, `{"event_type":"user.joined","channel_id":"call_2","uid":2,"timestamp":101}`)
	if w.Code != http.StatusOK {
		t.Fatalf("user joined status = %d", w.Code)
	}
	if len(sink.joined) != 2 || sink.joined[0] != "call_1" || sink.joined[1] != "call_2" {
		t.Fatalf("joined = %v", sink.joined)
	}

	for _, ev := range []string{"user.left", "channel.idle", "channel.destroyed"} {
		w = postWebhook(t, h, `{"event_type":"`+ev+`","channel_id":"call_3","timestamp":102}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", ev, w.Code)
		}
	}
	if len(sink.ended) != 3 || sink.ended[0] != "call_3|user.left" {
		t.Fatalf("ended = %v", sink.ended)
	}
}

func TestWebhookUnknownEventAcknowledged(t *testing.T) {
	sink := &fakeSink{}
	h := NewWebhookHandler(sink, nil)

	w := postWebhook(t, h, `{"event_type":"channel.snapshotReady","channel_id":"call_1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for ignorable event", w.Code)
	}
	if len(sink.joined)+len(sink.ended) != 0 {
		t.Fatal("ignorable event reached the sink")
	}
}

func TestWebhookMalformedRejected(t *testing.T) {
	h := NewWebhookHandler(&fakeSink{}, nil)
	w := postWebhook(t, h, `{"channel_id":"call_1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing event_type", w.Code)
	}
}

func TestWebhookSinkErrorsStillAcknowledged(t *testing.T) {
	sink := &fakeSink{err: calls.ErrNotFound}
	h := NewWebhookHandler(sink, nil)

	w := postWebhook(t, h, `{"event_type":"channel.idle","channel_id":"unknown","timestamp":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for unknown channel", w.Code)
	}
}
