package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/protocol"
	"github.com/and161185/duochat/internal/repository/memory"
	"github.com/and161185/duochat/internal/security"
	"github.com/and161185/duochat/internal/service"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type fakeRealtime struct {
	mu        sync.Mutex
	online    map[uuid.UUID]bool
	delivered []model.Message
}

var _ Realtime = (*fakeRealtime)(nil)

func (f *fakeRealtime) Deliver(_ context.Context, m model.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, m)
	return f.online[m.RecipientID]
}

func (f *fakeRealtime) IsOnline(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[id]
}

type statusCounter struct {
	mu     sync.Mutex
	counts map[int]int
}

func (s *statusCounter) RecordHTTPStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[int]int{}
	}
	s.counts[code]++
}

type apiEnv struct {
	srv    http.Handler
	live   *fakeRealtime
	status *statusCounter
}

func newAPI(t *testing.T, rl *RateLimiter) *apiEnv {
	t.Helper()
	st := memory.NewStore()
	users := memory.NewUserRepo(st)
	tm := service.NewTokenManager([]byte("test-key"), time.Hour)
	live := &fakeRealtime{online: map[uuid.UUID]bool{}}
	h := NewHandler(
		service.NewAuthService(users, tm, nil),
		service.NewContactService(users, memory.NewContactRepo(st)),
		service.NewMessageService(memory.NewMessageRepo(st), security.NewTextSanitizer()),
		live,
		zap.NewNop(),
	)
	sc := &statusCounter{}
	return &apiEnv{
		srv: NewRouter(RouterDeps{
			Handler:     h,
			Tokens:      tm,
			Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
			Status:      sc,
			RateLimiter: rl,
			CORSOrigins: []string{"http://localhost:3000"},
		}),
		live:   live,
		status: sc,
	}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, r)
	return w
}

func decodeResp[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *apiEnv) register(t *testing.T, name string) protocol.AuthResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/users/register", "", protocol.RegisterRequest{
		Username: name, Email: name + "@example.com", Password: "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeResp[protocol.AuthResponse](t, w)
}

func TestAPI_RegisterLoginProfile(t *testing.T) {
	t.Parallel()
	e := newAPI(t, nil)

	reg := e.register(t, "alice")
	require.NotEmpty(t, reg.Token)
	require.Equal(t, "alice", reg.User.Username)

	w := e.do(t, http.MethodPost, "/api/users/register", "", protocol.RegisterRequest{
		Username: "alice2", Email: "ALICE@example.com", Password: "secret1",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/users/register", "", protocol.RegisterRequest{
		Username: "bob", Email: "bob@example.com", Password: "123",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/users/login", "", protocol.LoginRequest{Email: "alice@example.com", Password: "wrong!"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/users/login", "", protocol.LoginRequest{Email: "alice@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decodeResp[protocol.AuthResponse](t, w)
	require.Equal(t, reg.User.ID, login.User.ID)

	w = e.do(t, http.MethodGet, "/api/users/profile", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "alice@example.com", decodeResp[protocol.UserResponse](t, w).User.Email)

	w = e.do(t, http.MethodGet, "/api/users/profile", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_Contacts(t *testing.T) {
	t.Parallel()
	e := newAPI(t, nil)
	alice, bob := e.register(t, "alice"), e.register(t, "bob")
	bobID := uuid.FromStringOrNil(bob.User.ID)
	e.live.online[bobID] = true

	w := e.do(t, http.MethodPost, "/api/users/contacts", alice.Token, protocol.AddContactRequest{ContactID: bob.User.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	c := decodeResp[protocol.ContactResponse](t, w).Contact
	require.Equal(t, "bob", c.Username)
	require.True(t, c.Online)

	w = e.do(t, http.MethodPost, "/api/users/contacts", bob.Token, protocol.AddContactRequest{ContactID: alice.User.ID})
	require.Equal(t, http.StatusConflict, w.Code)
	w = e.do(t, http.MethodPost, "/api/users/contacts", alice.Token, protocol.AddContactRequest{ContactID: alice.User.ID})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodPost, "/api/users/contacts", alice.Token, protocol.AddContactRequest{ContactID: uuid.Must(uuid.NewV4()).String()})
	require.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodPost, "/api/users/contacts", alice.Token, protocol.AddContactRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// both directions exist
	w = e.do(t, http.MethodGet, "/api/users/contacts", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeResp[protocol.ContactsResponse](t, w).Contacts
	require.Len(t, list, 1)
	require.Equal(t, alice.User.ID, list[0].ID)
	require.False(t, list[0].Online)

	w = e.do(t, http.MethodGet, "/api/users/search?query=bo", alice.Token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodGet, "/api/users/search?query=bob", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	found := decodeResp[protocol.UsersResponse](t, w).Users
	require.Len(t, found, 1)
	require.Equal(t, bob.User.ID, found[0].ID)
}

func TestAPI_MessagesFlow(t *testing.T) {
	t.Parallel()
	e := newAPI(t, nil)
	alice, bob := e.register(t, "alice"), e.register(t, "bob")

	for i := 0; i < 3; i++ {
		w := e.do(t, http.MethodPost, "/api/messages", alice.Token, protocol.SendRequest{
			RecipientID: bob.User.ID, Content: fmt.Sprintf("<i>m%d</i>", i),
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		m := decodeResp[protocol.MessageResponse](t, w).Message
		require.Equal(t, fmt.Sprintf("m%d", i), m.Content)
	}
	require.Len(t, e.live.delivered, 3)

	w := e.do(t, http.MethodPost, "/api/messages", alice.Token, protocol.SendRequest{RecipientID: bob.User.ID, Content: "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/messages/unread", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]int{alice.User.ID: 3}, decodeResp[protocol.UnreadResponse](t, w).UnreadCounts)

	w = e.do(t, http.MethodGet, "/api/messages/conversation/"+alice.User.ID+"?limit=2", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeResp[protocol.MessagesResponse](t, w).Messages
	require.Len(t, page, 2)
	require.Equal(t, "m2", page[0].Content)
	require.Equal(t, "m1", page[1].Content)

	w = e.do(t, http.MethodGet, "/api/messages/conversation/"+alice.User.ID+"?offset=2", bob.Token, nil)
	require.Equal(t, "m0", decodeResp[protocol.MessagesResponse](t, w).Messages[0].Content)

	// fetching marked everything inbound as read
	w = e.do(t, http.MethodGet, "/api/messages/unread", bob.Token, nil)
	require.Empty(t, decodeResp[protocol.UnreadResponse](t, w).UnreadCounts)

	w = e.do(t, http.MethodGet, "/api/messages/conversation/not-a-uuid", bob.Token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, http.MethodGet, "/api/messages/conversation/"+alice.User.ID+"?limit=x", bob.Token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_MarkRead(t *testing.T) {
	t.Parallel()
	e := newAPI(t, nil)
	alice, bob := e.register(t, "alice"), e.register(t, "bob")

	w := e.do(t, http.MethodPost, "/api/messages", alice.Token, protocol.SendRequest{RecipientID: bob.User.ID, Content: "hi"})
	m := decodeResp[protocol.MessageResponse](t, w).Message
	path := fmt.Sprintf("/api/messages/%d/read", m.ID)

	// the sender cannot mark their own outbound message
	w = e.do(t, http.MethodPut, path, alice.Token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, path, bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decodeResp[protocol.MessageResponse](t, w).Message.ReadAt
	require.NotNil(t, first)

	w = e.do(t, http.MethodPut, path, bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	second := decodeResp[protocol.MessageResponse](t, w).Message.ReadAt
	require.True(t, first.Equal(*second), "first read wins")

	w = e.do(t, http.MethodPut, "/api/messages/999/read", bob.Token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodPut, "/api/messages/abc/read", bob.Token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_HealthMetricsCORS(t *testing.T) {
	t.Parallel()
	e := newAPI(t, nil)

	w := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	r := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	e.srv.ServeHTTP(rec, r)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	e.status.mu.Lock()
	defer e.status.mu.Unlock()
	require.GreaterOrEqual(t, e.status.counts[http.StatusOK], 2)
}

func TestHealth_PingFailure(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	health(func(context.Context) error { return errors.New("db down") })(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPI_RateLimited(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(rate.Limit(0.001), 2, time.Minute)
	t.Cleanup(rl.Stop)
	e := newAPI(t, rl)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, e.do(t, http.MethodPost, "/api/users/login", "", protocol.LoginRequest{Email: "x@example.com", Password: "whatever"}).Code)
	}
	require.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
	require.Equal(t, 1, rl.Len())
}

func TestRecover_Panics(t *testing.T) {
	t.Parallel()
	h := Recover(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(rate.Inf, 1, time.Hour)
	t.Cleanup(rl.Stop)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.get("1.2.3.4")
	rl.get("5.6.7.8")
	require.Equal(t, 2, rl.Len())

	now = now.Add(2 * time.Hour)
	rl.get("5.6.7.8")
	rl.cleanup()
	require.Equal(t, 1, rl.Len())
}
