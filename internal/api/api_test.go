package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelc4/aether-queue/internal/dispatcher"
	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/quota"
	"github.com/pavelc4/aether-queue/internal/task"
)

const testToken = "secret"

type fakeIntake struct {
	mu        sync.Mutex
	reqs      map[string]*task.Request
	submitErr error
	last      dispatcher.Submission
	cancelled []string
}

func newFakeIntake() *fakeIntake {
	return &fakeIntake{reqs: make(map[string]*task.Request)}
}

func (f *fakeIntake) Submit(_ context.Context, s dispatcher.Submission) (*task.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = s
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	req := &task.Request{
		ID:          "req-1",
		RequesterID: s.RequesterID,
		RecipientID: s.RecipientID,
		URL:         s.URL,
		Kind:        s.Kind,
		Status:      task.StatusQueued,
		SubmittedAt: time.Now(),
	}
	f.reqs[req.ID] = req
	return req.Clone(), nil
}

func (f *fakeIntake) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reqs[id]; !ok {
		return errs.Newf(errs.CodeNotFound, "request %s not found", id)
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeIntake) Get(id string) (*task.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reqs[id]
	return r.Clone(), ok
}

func (f *fakeIntake) List(userID int64) []*task.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*task.Request
	for _, r := range f.reqs {
		if r.RequesterID == userID {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (f *fakeIntake) Active() []*task.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*task.Request
	for _, r := range f.reqs {
		out = append(out, r.Clone())
	}
	return out
}

func (f *fakeIntake) Position(id string) (int, bool) {
	if id == "req-1" {
		return 2, true
	}
	return 0, false
}

func (f *fakeIntake) Pending() int { return len(f.reqs) }

func newTestServer(t *testing.T) (*Server, *fakeIntake, *quota.Tracker) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	intake := newFakeIntake()
	q := quota.New(1000, nil)
	srv := New(Options{Token: testToken}, intake, q, NewHub())
	return srv, intake, q
}

func do(srv *Server, method, path, body string, auth bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthNeedsNoToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(srv, http.MethodGet, "/healthz", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(srv, http.MethodGet, "/api/v1/requests", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(srv, http.MethodGet, "/api/v1/requests?token="+testToken, "", false)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(srv, http.MethodGet, "/api/v1/requests", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := New(Options{}, newFakeIntake(), quota.New(0, nil), NewHub())

	w := do(srv, http.MethodGet, "/api/v1/requests", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitAndGet(t *testing.T) {
	srv, intake, _ := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/v1/requests",
		`{"user_id": 7, "recipient_id": 70, "url": "https://youtu.be/abc", "kind": "audio"}`, true)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	assert.Equal(t, int64(7), intake.last.RequesterID)
	assert.Equal(t, int64(70), intake.last.RecipientID)
	assert.Equal(t, task.KindAudio, intake.last.Kind)

	body := decode(t, w)
	req := body["request"].(map[string]any)
	assert.Equal(t, "req-1", req["id"])
	assert.Equal(t, "audio", req["kind"])
	assert.Equal(t, float64(2), req["position"])

	w = do(srv, http.MethodGet, "/api/v1/requests/req-1", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "queued", decode(t, w)["request"].(map[string]any)["status"])

	w = do(srv, http.MethodGet, "/api/v1/requests/missing", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/v1/requests", `{"url": "https://x.com/a"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(srv, http.MethodPost, "/api/v1/requests", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", errs.New(errs.CodeInvalidRequest, "bad url"), http.StatusBadRequest},
		{"rate limited", errs.WithRetryAfter(errs.CodeRateLimited, "slow down", 3*time.Second, nil), http.StatusTooManyRequests},
		{"quota", errs.New(errs.CodeQuotaExceeded, "daily limit reached"), http.StatusTooManyRequests},
		{"queue full", errs.New(errs.CodeQueueFull, "queue is full"), http.StatusConflict},
		{"unknown", errs.New(errs.CodeUnknown, "boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, intake, _ := newTestServer(t)
			intake.submitErr = tt.err

			w := do(srv, http.MethodPost, "/api/v1/requests", `{"user_id": 1, "url": "https://x.com/a"}`, true)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, string(errs.CodeOf(tt.err)), decode(t, w)["code"])
		})
	}
}

func TestRetryAfterHeader(t *testing.T) {
	srv, intake, _ := newTestServer(t)
	intake.submitErr = errs.WithRetryAfter(errs.CodeRateLimited, "slow down", 3*time.Second, nil)

	w := do(srv, http.MethodPost, "/api/v1/requests", `{"user_id": 1, "url": "https://x.com/a"}`, true)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
}

func TestListAndCancel(t *testing.T) {
	srv, intake, _ := newTestServer(t)
	intake.reqs["a"] = &task.Request{ID: "a", RequesterID: 1, Status: task.StatusQueued}
	intake.reqs["b"] = &task.Request{ID: "b", RequesterID: 2, Status: task.StatusRunning}

	w := do(srv, http.MethodGet, "/api/v1/requests?user_id=2", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = do(srv, http.MethodGet, "/api/v1/requests", "", true)
	assert.Equal(t, float64(2), decode(t, w)["total"])

	w = do(srv, http.MethodGet, "/api/v1/requests?user_id=abc", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(srv, http.MethodDelete, "/api/v1/requests/a", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a"}, intake.cancelled)

	w = do(srv, http.MethodDelete, "/api/v1/requests/zzz", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuotaEndpoint(t *testing.T) {
	srv, _, q := newTestServer(t)
	require.NoError(t, q.Charge(context.Background(), 5, 400))

	w := do(srv, http.MethodGet, "/api/v1/quota/5", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(400), body["used"])
	assert.Equal(t, float64(1000), body["limit"])
	assert.Equal(t, float64(600), body["remaining"])

	w = do(srv, http.MethodGet, "/api/v1/quota/nope", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebsocketStreamsFilteredEvents(t *testing.T) {
	srv, _, _ := newTestServer(t)
	events := make(chan task.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx, events)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + testToken + "&user_id=7"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	events <- task.Event{Type: task.EventStatus, RequestID: "other", RequesterID: 8, Status: task.StatusRunning}
	events <- task.Event{Type: task.EventStatus, RequestID: "mine", RequesterID: 7, Status: task.StatusRunning}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "mine", got["request_id"])
	assert.Equal(t, "running", got["status"])
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
