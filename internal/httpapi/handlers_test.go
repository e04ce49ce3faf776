package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/executives"
)

type fixedBalance int64

func (b fixedBalance) CoinBalance(context.Context, string) (int64, error) {
	return int64(b), nil
}

type stubTokens struct{}

func (stubTokens) JoinToken(channelID string, uid int) (string, error) {
	return "tok", nil
}

func newCallService(t *testing.T) (*calls.Service, *calls.MemoryRepo) {
	t.Helper()
	repo := calls.NewMemoryRepo()
	repo.Balances["user-1"] = 1000

	execs := executives.NewMemoryRepo()
	execs.Put(executives.Executive{
		ID:                 "exec-1",
		IsOnline:           true,
		RatePerSecondCoins: 1,
		RatePerMinute:      decimal.RequireFromString("6.00"),
	})

	svc := calls.NewService(calls.ServiceConfig{
		Repo:       repo,
		Executives: execs,
		Balances:   fixedBalance(1000),
		Tokens:     stubTokens{},
		RingWindow: time.Minute,
	})
	t.Cleanup(svc.Close)
	return svc, repo
}

// asActor injects an authenticated actor the way the auth middleware does.
func asActor(actor auth.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func newRouter(h Handlers, actor auth.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", asActor(actor))
	g.POST("/calls", h.InitiateCall)
	g.GET("/calls/:call_id", h.GetCall)
	g.POST("/calls/:call_id/join", h.JoinCall)
	g.POST("/calls/:call_id/end", h.EndCall)
	g.POST("/calls/:call_id/cancel", h.CancelCall)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitiateAndEndOverHTTP(t *testing.T) {
	svc, _ := newCallService(t)
	h := Handlers{Calls: svc}

	userRouter := newRouter(h, auth.UserActor("user-1"))
	execRouter := newRouter(h, auth.ExecutiveActor("exec-1"))

	w := doJSON(t, userRouter, http.MethodPost, "/calls", `{"executive_id":"exec-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate status = %d, body %s", w.Code, w.Body)
	}
	var created calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != calls.StatusPending || created.CallerToken == "" {
		t.Fatalf("created = %+v", created)
	}

	w = doJSON(t, execRouter, http.MethodPost, "/calls/"+created.ID+"/join", "")
	if w.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", w.Code, w.Body)
	}

	w = doJSON(t, userRouter, http.MethodPost, "/calls/"+created.ID+"/end", `{"request_id":"r1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("end status = %d, body %s", w.Code, w.Body)
	}
	var ended struct {
		Billing struct {
			DurationSeconds int64 `json:"duration_seconds"`
			CoinsDeducted   int64 `json:"coins_deducted"`
		} `json:"billing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ended); err != nil {
		t.Fatalf("decode end: %v", err)
	}
	if ended.Billing.CoinsDeducted != ended.Billing.DurationSeconds {
		t.Fatalf("billing inconsistent at 1 coin/s: %+v", ended.Billing)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	svc, _ := newCallService(t)
	h := Handlers{Calls: svc}

	user := newRouter(h, auth.UserActor("user-1"))
	stranger := newRouter(h, auth.UserActor("someone-else"))
	executive := newRouter(h, auth.ExecutiveActor("exec-1"))

	if w := doJSON(t, user, http.MethodGet, "/calls/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing call status = %d", w.Code)
	}
	if w := doJSON(t, user, http.MethodPost, "/calls", `{"executive_id":"ghost"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown executive status = %d", w.Code)
	}
	if w := doJSON(t, user, http.MethodPost, "/calls", `{"executive_id":""}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty executive status = %d", w.Code)
	}
	if w := doJSON(t, executive, http.MethodPost, "/calls", `{"executive_id":"exec-1"}`); w.Code != http.StatusForbidden {
		t.Fatalf("executive-as-caller status = %d", w.Code)
	}

	w := doJSON(t, user, http.MethodPost, "/calls", `{"executive_id":"exec-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate status = %d", w.Code)
	}
	var created calls.Call
	json.Unmarshal(w.Body.Bytes(), &created)

	// Busy executive collides.
	if w := doJSON(t, user, http.MethodPost, "/calls", `{"executive_id":"exec-1"}`); w.Code != http.StatusConflict {
		t.Fatalf("busy executive status = %d", w.Code)
	}
	// Non-party reads are forbidden.
	if w := doJSON(t, stranger, http.MethodGet, "/calls/"+created.ID, ""); w.Code != http.StatusForbidden {
		t.Fatalf("stranger read status = %d", w.Code)
	}
	// Invalid transition surfaces as a conflict.
	doJSON(t, executive, http.MethodPost, "/calls/"+created.ID+"/join", "")
	if w := doJSON(t, user, http.MethodPost, "/calls/"+created.ID+"/cancel", ""); w.Code != http.StatusConflict {
		t.Fatalf("cancel after join status = %d", w.Code)
	}

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	w = doJSON(t, user, http.MethodPost, "/calls/"+created.ID+"/cancel", "")
	json.Unmarshal(w.Body.Bytes(), &payload)
	if payload.Error.Code != "invalid_transition" {
		t.Fatalf("error code = %q", payload.Error.Code)
	}
}

func TestLogin(t *testing.T) {
	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	h := Handlers{Auth: mgr}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", h.Login)

	w := doJSON(t, r, http.MethodPost, "/login", `{"actor_id":"user-1","actor_kind":"user"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body)
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("empty token pair")
	}

	if w := doJSON(t, r, http.MethodPost, "/login", `{"actor_id":"x","actor_kind":"system"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("system login status = %d, want 400", w.Code)
	}
}
