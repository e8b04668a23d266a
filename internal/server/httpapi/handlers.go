// Package httpapi exposes the request/response API over chi.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/and161185/duochat/internal/convert"
	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/protocol"
	"github.com/and161185/duochat/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Realtime is the part of the presence engine the HTTP API needs.
type Realtime interface {
	Deliver(ctx context.Context, m model.Message) bool
	IsOnline(userID uuid.UUID) bool
}

// Handler implements the REST endpoints.
type Handler struct {
	auth     service.AuthService
	contacts service.ContactService
	messages service.MessageService
	live     Realtime
	log      *zap.Logger
}

// NewHandler wires services into HTTP handlers.
func NewHandler(auth service.AuthService, contacts service.ContactService, messages service.MessageService, live Realtime, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{auth: auth, contacts: contacts, messages: messages, live: live, log: log}
}

// --- users ---

// Register handles POST /api/users/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	usr, tok, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.AuthResponse{
		User:      convert.ToWireUser(usr),
		Token:     tok.AccessToken,
		ExpiresAt: tok.ExpiresAt.UTC(),
	})
}

// Login handles POST /api/users/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	tok, usr, err := h.auth.LoginWithIP(r.Context(), req.Email, req.Password, r.RemoteAddr)
	if err != nil {
		h.writeServiceError(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.AuthResponse{
		User:      convert.ToWireUser(usr),
		Token:     tok.AccessToken,
		ExpiresAt: tok.ExpiresAt.UTC(),
	})
}

// Profile handles GET /api/users/profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	usr, err := h.auth.Profile(r.Context(), uid)
	if err != nil {
		h.writeServiceError(w, r, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.UserResponse{User: convert.ToWireUser(usr)})
}

// --- contacts ---

// ListContacts handles GET /api/users/contacts.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	cs, err := h.contacts.List(r.Context(), uid)
	if err != nil {
		h.writeServiceError(w, r, "list contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.ContactsResponse{Contacts: convert.ToWireContacts(cs, h.live.IsOnline)})
}

// AddContact handles POST /api/users/contacts.
func (h *Handler) AddContact(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	var req protocol.AddContactRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	cid, err := convert.ParseID(req.ContactID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "contactId is required")
		return
	}
	c, err := h.contacts.Add(r.Context(), uid, cid)
	if err != nil {
		h.writeServiceError(w, r, "add contact", err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.ContactResponse{Contact: convert.ToWireContact(c, h.live.IsOnline(c.ID))})
}

// Search handles GET /api/users/search?query=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	us, err := h.contacts.Search(r.Context(), uid, r.URL.Query().Get("query"))
	if err != nil {
		h.writeServiceError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.UsersResponse{Users: convert.ToWireUsers(us)})
}

// --- messages ---

func intParam(r *http.Request, name string, def int) (int, bool) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Conversation handles GET /api/messages/conversation/{contactId}.
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	cid, err := convert.ParseID(chi.URLParam(r, "contactId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}
	limit, ok := intParam(r, "limit", service.DefaultPageSize)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, ok := intParam(r, "offset", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	ms, err := h.messages.Conversation(r.Context(), uid, cid, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, "conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.MessagesResponse{Messages: convert.ToWireMessages(ms)})
}

// Send handles POST /api/messages. A bound recipient also gets the message live.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	var req protocol.SendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	rid, err := convert.ParseID(req.RecipientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "recipientId is required")
		return
	}
	m, err := h.messages.Append(r.Context(), uid, rid, req.Content)
	if err != nil {
		h.writeServiceError(w, r, "send", err)
		return
	}
	h.live.Deliver(r.Context(), m)
	writeJSON(w, http.StatusCreated, protocol.MessageResponse{Message: convert.ToWireMessage(m)})
}

// MarkRead handles PUT /api/messages/{messageId}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "messageId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	m, err := h.messages.MarkRead(r.Context(), uid, id)
	if err != nil {
		h.writeServiceError(w, r, "mark read", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.MessageResponse{Message: convert.ToWireMessage(m)})
}

// Unread handles GET /api/messages/unread.
func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	c, err := h.messages.UnreadCounts(r.Context(), uid)
	if err != nil {
		h.writeServiceError(w, r, "unread counts", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.UnreadResponse{UnreadCounts: convert.ToWireUnread(c)})
}
