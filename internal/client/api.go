package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/duochat/internal/convert"
	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/protocol"
	"github.com/gofrs/uuid/v5"
)

// APIError is a non-2xx answer of the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d", e.Status)
	}
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

// Is maps status codes back onto the shared sentinels.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusBadRequest:
		return target == errs.ErrInvalidArgument
	case http.StatusUnauthorized:
		return target == errs.ErrUnauthorized
	case http.StatusNotFound:
		return target == errs.ErrNotFound
	case http.StatusConflict:
		return target == errs.ErrConflict
	case http.StatusTooManyRequests:
		return target == errs.ErrRateLimited
	}
	return false
}

// API talks to the HTTP surface of the server.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures an API client.
type Option func(*API)

// WithHTTPClient replaces the default client with a 15s timeout.
func WithHTTPClient(c *http.Client) Option { return func(a *API) { a.http = c } }

// WithToken sets the bearer token.
func WithToken(token string) Option { return func(a *API) { a.token = token } }

// NewAPI creates a client for the server at baseURL.
func NewAPI(baseURL string, opts ...Option) *API {
	a := &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// BaseURL returns the server URL without a trailing slash.
func (a *API) BaseURL() string { return a.baseURL }

// Token returns the current bearer token.
func (a *API) Token() string { return a.token }

// SetToken replaces the bearer token.
func (a *API) SetToken(token string) { a.token = token }

func (a *API) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e protocol.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Session is the result of register or login.
type Session struct {
	User      protocol.User
	Token     string
	ExpiresAt time.Time
}

func (a *API) auth(ctx context.Context, path string, body any) (Session, error) {
	var resp protocol.AuthResponse
	if err := a.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return Session{}, err
	}
	a.token = resp.Token
	return Session{User: resp.User, Token: resp.Token, ExpiresAt: resp.ExpiresAt}, nil
}

// Register creates an account and keeps the issued token.
func (a *API) Register(ctx context.Context, username, email, password string) (Session, error) {
	return a.auth(ctx, "/api/users/register", protocol.RegisterRequest{Username: username, Email: email, Password: password})
}

// Login signs in and keeps the issued token.
func (a *API) Login(ctx context.Context, email, password string) (Session, error) {
	return a.auth(ctx, "/api/users/login", protocol.LoginRequest{Email: email, Password: password})
}

// Profile returns the signed-in user.
func (a *API) Profile(ctx context.Context) (protocol.User, error) {
	var resp protocol.UserResponse
	err := a.do(ctx, http.MethodGet, "/api/users/profile", nil, nil, &resp)
	return resp.User, err
}

// Contacts lists the contact list with online flags.
func (a *API) Contacts(ctx context.Context) ([]protocol.Contact, error) {
	var resp protocol.ContactsResponse
	err := a.do(ctx, http.MethodGet, "/api/users/contacts", nil, nil, &resp)
	return resp.Contacts, err
}

// AddContact connects the signed-in user with contactID in both directions.
func (a *API) AddContact(ctx context.Context, contactID uuid.UUID) (protocol.Contact, error) {
	var resp protocol.ContactResponse
	err := a.do(ctx, http.MethodPost, "/api/users/contacts", nil, protocol.AddContactRequest{ContactID: contactID.String()}, &resp)
	return resp.Contact, err
}

// Search finds users by username or email.
func (a *API) Search(ctx context.Context, query string) ([]protocol.User, error) {
	var resp protocol.UsersResponse
	err := a.do(ctx, http.MethodGet, "/api/users/search", url.Values{"query": {query}}, nil, &resp)
	return resp.Users, err
}

// Conversation fetches one page of history, newest first. The server marks
// inbound messages read as a side effect.
func (a *API) Conversation(ctx context.Context, contactID uuid.UUID, limit, offset int) ([]model.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var resp protocol.MessagesResponse
	if err := a.do(ctx, http.MethodGet, "/api/messages/conversation/"+contactID.String(), q, nil, &resp); err != nil {
		return nil, err
	}
	return convert.FromWireMessages(resp.Messages)
}

// Send posts a message over HTTP.
func (a *API) Send(ctx context.Context, recipientID uuid.UUID, content string) (model.Message, error) {
	var resp protocol.MessageResponse
	if err := a.do(ctx, http.MethodPost, "/api/messages", nil, protocol.SendRequest{RecipientID: recipientID.String(), Content: content}, &resp); err != nil {
		return model.Message{}, err
	}
	return convert.FromWireMessage(resp.Message)
}

// MarkRead marks one inbound message read.
func (a *API) MarkRead(ctx context.Context, messageID int64) (model.Message, error) {
	var resp protocol.MessageResponse
	path := "/api/messages/" + strconv.FormatInt(messageID, 10) + "/read"
	if err := a.do(ctx, http.MethodPut, path, nil, nil, &resp); err != nil {
		return model.Message{}, err
	}
	return convert.FromWireMessage(resp.Message)
}

// Unread returns unread counters keyed by sender.
func (a *API) Unread(ctx context.Context) (model.UnreadCounts, error) {
	var resp protocol.UnreadResponse
	if err := a.do(ctx, http.MethodGet, "/api/messages/unread", nil, nil, &resp); err != nil {
		return nil, err
	}
	return convert.FromWireUnread(resp.UnreadCounts), nil
}

// IsAuthError reports whether err means the token is missing or expired.
func IsAuthError(err error) bool { return errors.Is(err, errs.ErrUnauthorized) }
