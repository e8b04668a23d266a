package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/and161185/duochat/internal/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var (
	errQueueFull = errors.New("send queue full")
	errConnGone  = errors.New("connection closed")
)

// conn adapts a websocket to presence.Conn. Pushes go through a bounded
// queue drained by a single writer goroutine.
type conn struct {
	id  string
	ws  *websocket.Conn
	log *zap.Logger

	out  chan protocol.Envelope
	kick chan struct{}
	done chan struct{}

	kickOnce sync.Once
	doneOnce sync.Once
}

func newConn(id string, c *websocket.Conn, queue int, log *zap.Logger) *conn {
	return &conn{
		id:   id,
		ws:   c,
		log:  log,
		out:  make(chan protocol.Envelope, queue),
		kick: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Push never blocks: a full queue drops the event.
func (c *conn) Push(_ context.Context, env protocol.Envelope) error {
	select {
	case <-c.done:
		return errConnGone
	default:
	}
	select {
	case c.out <- env:
		return nil
	case <-c.done:
		return errConnGone
	default:
		return errQueueFull
	}
}

// Replaced asks the writer to close the socket. Called from the goroutine
// of the newer connection, so it must not wait for the close handshake.
func (c *conn) Replaced() {
	c.kickOnce.Do(func() { close(c.kick) })
}

func (c *conn) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// writeLoop owns all data writes to the socket.
func (c *conn) writeLoop(ctx context.Context, writeTimeout time.Duration) {
	for {
		select {
		case env := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, env)
			cancel()
			if err != nil {
				c.log.Debug("ws write", zap.String("conn", c.id), zap.Error(err))
				c.ws.CloseNow()
				return
			}
		case <-c.kick:
			c.log.Info("ws closing replaced connection", zap.String("conn", c.id))
			c.ws.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
			return
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// heartbeat pings the peer; a missed pong closes the socket.
func (c *conn) heartbeat(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, every)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("ws ping", zap.String("conn", c.id), zap.Error(err))
				c.ws.CloseNow()
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
