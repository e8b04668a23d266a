package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/protocol"
	"github.com/and161185/duochat/internal/repository/memory"
	"github.com/and161185/duochat/internal/service"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	id string

	mu       sync.Mutex
	got      []protocol.Envelope
	pushErr  error
	replaced bool
}

var (
	_ Conn        = (*fakeConn)(nil)
	_ Replaceable = (*fakeConn)(nil)
)

func newConn() *fakeConn { return &fakeConn{id: uuid.Must(uuid.NewV4()).String()} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Push(_ context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushErr != nil {
		return c.pushErr
	}
	c.got = append(c.got, env)
	return nil
}

func (c *fakeConn) Replaced() {
	c.mu.Lock()
	c.replaced = true
	c.mu.Unlock()
}

func (c *fakeConn) events(name string) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, e := range c.got {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) wasReplaced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaced
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, env.Decode(&v))
	return v
}

type counts struct {
	online, sent, delivered, failed, dropped int
}

// countingMetrics records engine counters.
type countingMetrics struct {
	mu sync.Mutex
	c  counts
}

func (m *countingMetrics) SetOnline(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.online = n
}

func (m *countingMetrics) MessageSent()      { m.inc(&m.c.sent) }
func (m *countingMetrics) MessageDelivered() { m.inc(&m.c.delivered) }
func (m *countingMetrics) SendFailed()       { m.inc(&m.c.failed) }
func (m *countingMetrics) PushDropped()      { m.inc(&m.c.dropped) }

func (m *countingMetrics) inc(p *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*p++
}

func (m *countingMetrics) snapshot() counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c
}

type failingStore struct {
	calls int
}

func (f *failingStore) Append(context.Context, uuid.UUID, uuid.UUID, string) (model.Message, error) {
	f.calls++
	return model.Message{}, errors.New("connection refused")
}

type fixture struct {
	engine   *Engine
	store    *memory.Store
	messages *service.MessageServiceImpl
	contacts *memory.ContactRepo
	metrics  *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.NewStore()
	msgs := service.NewMessageService(memory.NewMessageRepo(st), nil)
	cr := memory.NewContactRepo(st)
	m := &countingMetrics{}
	return &fixture{
		engine:   NewEngine(NewDirectory(), cr, msgs, zaptest.NewLogger(t), m),
		store:    st,
		messages: msgs,
		contacts: cr,
		metrics:  m,
	}
}

// user creates an account and returns its id.
func (f *fixture) user(t *testing.T, name string) uuid.UUID {
	t.Helper()
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Username: name, Email: name + "@example.com", PasswordHash: []byte("x")}
	require.NoError(t, memory.NewUserRepo(f.store).Create(context.Background(), u))
	return u.ID
}

func (f *fixture) befriend(t *testing.T, a, b uuid.UUID) {
	t.Helper()
	require.NoError(t, f.contacts.AddMutual(context.Background(), a, b))
}

// login opens an identified session for id on a fresh connection.
func (f *fixture) login(t *testing.T, id uuid.UUID) (*Session, *fakeConn) {
	t.Helper()
	c := newConn()
	s := f.engine.NewSession(c, id)
	require.NoError(t, s.Handle(context.Background(), protocol.MustEnvelope(protocol.EventLogin, id.String())))
	return s, c
}

// gatedGraph blocks the first ContactIDs call for user until release is closed.
type gatedGraph struct {
	ContactGraph
	user    uuid.UUID
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedGraph(inner ContactGraph, user uuid.UUID) *gatedGraph {
	return &gatedGraph{
		ContactGraph: inner,
		user:         user,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (g *gatedGraph) ContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if userID == g.user {
		first := false
		g.once.Do(func() { first = true })
		if first {
			close(g.entered)
			<-g.release
		}
	}
	return g.ContactGraph.ContactIDs(ctx, userID)
}
