// Package ws serves the realtime WebSocket endpoint.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/duochat/internal/presence"
	"github.com/and161185/duochat/internal/protocol"
	"github.com/and161185/duochat/internal/service"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// Config tunes per-connection limits.
type Config struct {
	SendQueue      int
	EventRate      rate.Limit
	EventBurst     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ReadLimit      int64
	OriginPatterns []string
}

// DefaultConfig returns limits suitable for interactive chat.
func DefaultConfig() Config {
	return Config{
		SendQueue:    64,
		EventRate:    rate.Limit(20),
		EventBurst:   40,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		ReadLimit:    64 << 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.EventRate <= 0 {
		c.EventRate = d.EventRate
	}
	if c.EventBurst <= 0 {
		c.EventBurst = d.EventBurst
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	return c
}

// Handler upgrades authenticated requests and runs one session per socket.
type Handler struct {
	engine *presence.Engine
	tokens service.TokenVerifier
	cfg    Config
	log    *zap.Logger
}

// NewHandler builds the endpoint. Zero config fields take defaults.
func NewHandler(engine *presence.Engine, tokens service.TokenVerifier, cfg Config, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: engine, tokens: tokens, cfg: cfg.withDefaults(), log: log}
}

// tokenFromRequest reads ?token= first, then a Bearer header.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	const prefix = "bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.Verify(tokenFromRequest(r))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "unauthorized"})
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		// Accept already wrote the HTTP error
		h.log.Debug("ws accept", zap.Error(err))
		return
	}
	c.SetReadLimit(h.cfg.ReadLimit)

	h.serve(r.Context(), c, userID)
}

func (h *Handler) serve(parent context.Context, c *websocket.Conn, userID uuid.UUID) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	id := uuid.Must(uuid.NewV4()).String()
	log := h.log.With(zap.String("conn", id), zap.Stringer("user", userID))
	cn := newConn(id, c, h.cfg.SendQueue, log)
	go cn.writeLoop(ctx, h.cfg.WriteTimeout)
	go cn.heartbeat(ctx, h.cfg.PingInterval)

	sess := h.engine.NewSession(cn, userID)
	defer func() {
		sess.Close(ctx)
		cn.shutdown()
		c.Close(websocket.StatusNormalClosure, "")
	}()

	log.Debug("ws connected")
	lim := rate.NewLimiter(h.cfg.EventRate, h.cfg.EventBurst)
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("ws closed by peer")
			default:
				if !errors.Is(err, context.Canceled) {
					log.Debug("ws read", zap.Error(err))
				}
			}
			return
		}
		if typ != websocket.MessageText {
			h.reject(ctx, cn, "binary frames are not supported")
			continue
		}
		if !lim.Allow() {
			h.reject(ctx, cn, "rate limited")
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.reject(ctx, cn, "malformed frame")
			continue
		}
		if err := sess.Handle(ctx, env); err != nil {
			log.Debug("ws event rejected", zap.String("event", env.Event), zap.Error(err))
			if errors.Is(err, presence.ErrSessionClosed) {
				return
			}
		}
	}
}

func (h *Handler) reject(ctx context.Context, cn *conn, msg string) {
	_ = cn.Push(ctx, protocol.MustEnvelope(protocol.EventMessageError, protocol.MessageError{Error: msg}))
}
