package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/presence"
	"github.com/and161185/duochat/internal/protocol"
	"github.com/and161185/duochat/internal/repository/memory"
	"github.com/and161185/duochat/internal/service"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type testEnv struct {
	srv    *httptest.Server
	tokens *service.TokenManager
	store  *memory.Store
	engine *presence.Engine
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	st := memory.NewStore()
	msgs := service.NewMessageService(memory.NewMessageRepo(st), nil)
	eng := presence.NewEngine(presence.NewDirectory(), memory.NewContactRepo(st), msgs, zap.NewNop(), nil)
	tm := service.NewTokenManager([]byte("test-key"), time.Hour)
	srv := httptest.NewServer(NewHandler(eng, tm, cfg, zap.NewNop()))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, tokens: tm, store: st, engine: eng}
}

func (e *testEnv) user(t *testing.T, name string) (uuid.UUID, string) {
	t.Helper()
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Username: name, Email: name + "@example.com", PasswordHash: []byte("x")}
	require.NoError(t, memory.NewUserRepo(e.store).Create(context.Background(), u))
	tok, err := e.tokens.Issue(u.ID)
	require.NoError(t, err)
	return u.ID, tok.AccessToken
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + token
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, event string, payload any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, protocol.MustEnvelope(event, payload)))
}

// next reads frames until one with the given event arrives.
func next(t *testing.T, c *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var env protocol.Envelope
		require.NoError(t, wsjson.Read(ctx, c, &env))
		if env.Event == event {
			return env
		}
	}
}

func (e *testEnv) waitOnline(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.Eventually(t, func() bool { return e.engine.Directory().IsOnline(id) }, 5*time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsMissingOrBadToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	for _, q := range []string{"", "?token=garbage"} {
		resp, err := http.Get(env.srv.URL + "/ws" + q)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestHandler_SendDeliverAck(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	alice, aliceTok := env.user(t, "alice")
	bob, bobTok := env.user(t, "bob")

	a := env.dial(t, aliceTok)
	b := env.dial(t, bobTok)
	send(t, a, protocol.EventLogin, alice.String())
	send(t, b, protocol.EventLogin, protocol.Login{UserID: bob.String()})
	env.waitOnline(t, alice)
	env.waitOnline(t, bob)

	send(t, a, protocol.EventSendMessage, protocol.SendMessage{
		SenderID: alice.String(), RecipientID: bob.String(), Content: "hi bob", ClientID: "tmp-1",
	})

	var msg protocol.Message
	require.NoError(t, next(t, b, protocol.EventNewMessage).Decode(&msg))
	require.Equal(t, "hi bob", msg.Content)
	require.Equal(t, alice.String(), msg.SenderID)

	var ack protocol.MessageSent
	require.NoError(t, next(t, a, protocol.EventMessageSent).Decode(&ack))
	require.Equal(t, msg.ID, ack.MessageID)
	require.Equal(t, "tmp-1", ack.ClientID)

	send(t, b, protocol.EventTyping, protocol.Typing{RecipientID: alice.String(), IsTyping: true})
	var ty protocol.UserTyping
	require.NoError(t, next(t, a, protocol.EventUserTyping).Decode(&ty))
	require.Equal(t, protocol.UserTyping{UserID: bob.String(), IsTyping: true}, ty)
}

func TestHandler_LoginMustMatchToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	_, aliceTok := env.user(t, "alice")
	bob, _ := env.user(t, "bob")

	a := env.dial(t, aliceTok)
	send(t, a, protocol.EventLogin, bob.String())

	var me protocol.MessageError
	require.NoError(t, next(t, a, protocol.EventMessageError).Decode(&me))
	require.Contains(t, me.Error, "unauthorized")
	require.False(t, env.engine.Directory().IsOnline(bob))
}

func TestHandler_PresenceAndReplacedConnection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	alice, aliceTok := env.user(t, "alice")
	bob, bobTok := env.user(t, "bob")
	require.NoError(t, memory.NewContactRepo(env.store).AddMutual(context.Background(), alice, bob))

	b := env.dial(t, bobTok)
	send(t, b, protocol.EventLogin, bob.String())
	env.waitOnline(t, bob)

	a1 := env.dial(t, aliceTok)
	send(t, a1, protocol.EventLogin, alice.String())
	var st protocol.UserStatus
	require.NoError(t, next(t, b, protocol.EventUserStatus).Decode(&st))
	require.Equal(t, protocol.UserStatus{UserID: alice.String(), Status: protocol.StatusOnline}, st)

	// the newcomer gets a snapshot of bob
	require.NoError(t, next(t, a1, protocol.EventUserStatus).Decode(&st))
	require.Equal(t, bob.String(), st.UserID)

	// second login of alice closes the first socket with policy violation
	a2 := env.dial(t, aliceTok)
	send(t, a2, protocol.EventLogin, alice.String())
	require.NoError(t, next(t, b, protocol.EventUserStatus).Decode(&st))
	require.Equal(t, protocol.StatusOnline, st.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := a1.Read(ctx); err != nil {
			require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
			break
		}
	}

	// alice stays online through the new socket
	send(t, b, protocol.EventSendMessage, protocol.SendMessage{RecipientID: alice.String(), Content: "still there?"})
	var msg protocol.Message
	require.NoError(t, next(t, a2, protocol.EventNewMessage).Decode(&msg))
	require.Equal(t, "still there?", msg.Content)
	require.True(t, env.engine.Directory().IsOnline(alice))

	// closing the live socket announces offline
	a2.Close(websocket.StatusNormalClosure, "")
	require.NoError(t, next(t, b, protocol.EventUserStatus).Decode(&st))
	require.Equal(t, protocol.UserStatus{UserID: alice.String(), Status: protocol.StatusOffline}, st)
}

func TestHandler_RateLimitAndMalformedFrames(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{EventRate: rate.Limit(0.001), EventBurst: 1})
	_, tok := env.user(t, "alice")
	a := env.dial(t, tok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Write(ctx, websocket.MessageText, []byte(`{not json`)))
	var me protocol.MessageError
	require.NoError(t, next(t, a, protocol.EventMessageError).Decode(&me))
	require.Equal(t, "malformed frame", me.Error)

	send(t, a, protocol.EventTyping, protocol.Typing{})
	require.NoError(t, next(t, a, protocol.EventMessageError).Decode(&me))
	require.Equal(t, "rate limited", me.Error)
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	r.Header.Set("Authorization", "Bearer h")
	require.Equal(t, "q", tokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "bearer h")
	require.Equal(t, "h", tokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	require.Empty(t, tokenFromRequest(r))
}
