package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/and161185/duochat/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RouterDeps collects what NewRouter needs. Optional fields may be nil.
type RouterDeps struct {
	Handler     *Handler
	Tokens      service.TokenVerifier
	Realtime    http.Handler // mounted at /ws
	Metrics     http.Handler // mounted at /metrics
	Status      StatusRecorder
	RateLimiter *RateLimiter
	CORSOrigins []string
	Ping        func(ctx context.Context) error
	Log         *zap.Logger
}

// NewRouter builds the full HTTP surface.
//
// Middleware order: RequestID -> RealIP -> Recover -> Logging -> CORS, then
// RateLimit and RequireAuth on /api.
func NewRouter(d RouterDeps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := d.Handler

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, Recover(log), Logging(log, d.Status), CORS(d.CORSOrigins))

	r.Get("/health", health(d.Ping))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	if d.Realtime != nil {
		r.Handle("/ws", d.Realtime)
	}

	r.Route("/api", func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}

		r.Post("/users/register", h.Register)
		r.Post("/users/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(d.Tokens))

			r.Route("/users", func(r chi.Router) {
				r.Get("/profile", h.Profile)
				r.Get("/contacts", h.ListContacts)
				r.Post("/contacts", h.AddContact)
				r.Get("/search", h.Search)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", h.Send)
				r.Get("/unread", h.Unread)
				r.Get("/conversation/{contactId}", h.Conversation)
				r.Put("/{messageId}/read", h.MarkRead)
			})
		})
	})

	return r
}

func health(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
