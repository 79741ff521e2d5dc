// Package auth is the identity provider: password sign-in, signed session
// tokens, sign-out revocation and auth-change notifications.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"verdeling/internal/cache"
	"verdeling/internal/core"
	"verdeling/internal/ports"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// User is the authenticated identity.
type User struct {
	ID    string
	Email string
}

// Session is the result of a successful sign-in.
type Session struct {
	Token     string
	User      User
	ExpiresAt time.Time
}

type AuthEventType string

const (
	SignedIn  AuthEventType = "signed_in"
	SignedOut AuthEventType = "signed_out"
)

type AuthEvent struct {
	Type AuthEventType
	User User
}

type Provider struct {
	users   ports.UserStore
	tokens  *JWTManager
	revoked *cache.LRUCache[struct{}]

	mu        sync.Mutex
	listeners map[int]func(AuthEvent)
	nextID    int
}

// NewProvider builds a provider whose sessions last ttl.
func NewProvider(users ports.UserStore, secret string, ttl time.Duration) *Provider {
	return &Provider{
		users:     users,
		tokens:    NewJWTManager(secret, ttl),
		revoked:   cache.NewLRUCache[struct{}](10000, ttl),
		listeners: make(map[int]func(AuthEvent)),
	}
}

// RevocationCache exposes the revocation list for periodic cleanup.
func (p *Provider) RevocationCache() cache.Cleaner {
	return p.revoked
}

// OnAuthChange registers cb for sign-in and sign-out events and returns a
// function that unregisters it.
func (p *Provider) OnAuthChange(cb func(AuthEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = cb
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *Provider) emit(ev AuthEvent) {
	p.mu.Lock()
	cbs := make([]func(AuthEvent), 0, len(p.listeners))
	for _, cb := range p.listeners {
		cbs = append(cbs, cb)
	}
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (Session, error) {
	u, err := p.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("sign in: %w", err)
	}
	if !CheckPassword(password, u.PasswordHash) {
		slog.WarnContext(ctx, "Failed sign-in attempt", "user_id", u.ID)
		return Session{}, ErrInvalidCredentials
	}

	token, claims, err := p.tokens.Generate(u.ID, u.Email)
	if err != nil {
		return Session{}, fmt.Errorf("sign in: %w", err)
	}

	user := User{ID: u.ID, Email: u.Email}
	slog.InfoContext(ctx, "User signed in", "user_id", u.ID)
	p.emit(AuthEvent{Type: SignedIn, User: user})
	return Session{Token: token, User: user, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// SignOut revokes the session until it would have expired anyway.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.tokens.Validate(token)
	if err != nil {
		// an invalid token is already signed out
		return nil
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > 0 {
		p.revoked.SetWithTTL(claims.ID, struct{}{}, ttl)
	}
	slog.InfoContext(ctx, "User signed out", "user_id", claims.UserID)
	p.emit(AuthEvent{Type: SignedOut, User: User{ID: claims.UserID, Email: claims.Email}})
	return nil
}

// CurrentUser resolves the user behind a session token.
func (p *Provider) CurrentUser(ctx context.Context, token string) (*User, error) {
	claims, err := p.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	if _, revoked := p.revoked.Get(claims.ID); revoked {
		return nil, fmt.Errorf("%w: session revoked", ErrNotAuthenticated)
	}
	return &User{ID: claims.UserID, Email: claims.Email}, nil
}

// Register creates a user with a hashed password.
func (p *Provider) Register(ctx context.Context, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, fmt.Errorf("register: invalid email %q", email)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	id, err := p.users.CreateUser(ctx, core.User{Email: email, PasswordHash: hash})
	if errors.Is(err, ports.ErrConflict) {
		return User{}, ErrEmailExists
	}
	if err != nil {
		return User{}, fmt.Errorf("register: %w", err)
	}
	return User{ID: id, Email: email}, nil
}
