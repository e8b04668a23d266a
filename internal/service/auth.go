// Package service contains application services: accounts, contacts and messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	pkgcrypto "github.com/and161185/duochat/internal/crypto"
	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/limiter"
	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/repository"
	"github.com/gofrs/uuid/v5"
)

const maxUsernameLen = 50

// AuthService defines registration, login and profile lookup.
type AuthService interface {
	// Register creates a new user and returns it with a fresh access token.
	Register(ctx context.Context, username, email, password string) (model.User, model.Tokens, error)
	// LoginWithIP applies rate-limiting and authenticates the user by email.
	LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error)
	// Profile returns the user by id.
	Profile(ctx context.Context, userID uuid.UUID) (model.User, error)
}

type AuthServiceImpl struct {
	users  repository.UserRepository
	tokens *TokenManager
	lim    limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, tokens *TokenManager, lim limiter.Limiter) *AuthServiceImpl {
	if lim == nil {
		lim = limiter.Noop{}
	}
	return &AuthServiceImpl{users: users, tokens: tokens, lim: lim}
}

// Register validates input, hashes the password and stores the user.
func (s *AuthServiceImpl) Register(ctx context.Context, username, email, password string) (model.User, model.Tokens, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	switch {
	case username == "" || email == "" || password == "":
		return model.User{}, model.Tokens{}, fmt.Errorf("%w: username, email and password are required", errs.ErrInvalidArgument)
	case utf8.RuneCountInString(username) > maxUsernameLen:
		return model.User{}, model.Tokens{}, fmt.Errorf("%w: username too long", errs.ErrInvalidArgument)
	case len(password) < pkgcrypto.MinPasswordLen:
		return model.User{}, model.Tokens{}, fmt.Errorf("%w: password must be at least %d characters", errs.ErrInvalidArgument, pkgcrypto.MinPasswordLen)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return model.User{}, model.Tokens{}, fmt.Errorf("%w: malformed email", errs.ErrInvalidArgument)
	}

	hash, err := pkgcrypto.HashPassword([]byte(password))
	if err != nil {
		if errors.Is(err, pkgcrypto.ErrPasswordTooLong) {
			return model.User{}, model.Tokens{}, fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
		}
		return model.User{}, model.Tokens{}, err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	u := &model.User{ID: uid, Username: username, Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		return model.User{}, model.Tokens{}, err
	}
	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	return *u, tok, nil
}

// LoginWithIP authenticates with rate limiting by (email, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.PasswordHash) {
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, model.User{}, err
		}
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// same answer for unknown email and wrong password
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, email, ipHash)

	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, *u, nil
}

// Profile loads the user record.
func (s *AuthServiceImpl) Profile(ctx context.Context, userID uuid.UUID) (model.User, error) {
	if userID == uuid.Nil {
		return model.User{}, fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}
