package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdeling/internal/memory"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	return NewProvider(memory.New(nil), "test-secret-test-secret-test-secret", time.Hour)
}

func TestRegisterAndSignIn(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	u, err := p.Register(ctx, " Admin@Example.be ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.be", u.Email)

	_, err = p.Register(ctx, "admin@example.be", "another password")
	assert.ErrorIs(t, err, ErrEmailExists)

	_, err = p.Register(ctx, "other@example.be", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = p.Register(ctx, "not-an-email", "long enough")
	assert.Error(t, err)

	sess, err := p.SignIn(ctx, "admin@example.be", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, u.ID, sess.User.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)

	cur, err := p.CurrentUser(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, cur.ID)
}

func TestSignInFailures(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	_, err := p.Register(ctx, "a@b.be", "password1")
	require.NoError(t, err)

	_, err = p.SignIn(ctx, "a@b.be", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = p.SignIn(ctx, "nobody@b.be", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown email looks like a bad password")
}

func TestSignOutRevokesSession(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	_, err := p.Register(ctx, "a@b.be", "password1")
	require.NoError(t, err)

	first, err := p.SignIn(ctx, "a@b.be", "password1")
	require.NoError(t, err)
	second, err := p.SignIn(ctx, "a@b.be", "password1")
	require.NoError(t, err)

	require.NoError(t, p.SignOut(ctx, first.Token))

	_, err = p.CurrentUser(ctx, first.Token)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = p.CurrentUser(ctx, second.Token)
	assert.NoError(t, err, "other sessions stay valid")

	assert.NoError(t, p.SignOut(ctx, "garbage"))
}

func TestCurrentUserRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	_, err := p.CurrentUser(ctx, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.ErrorIs(t, err, ErrMissingToken)

	other := NewJWTManager("a-different-secret", time.Hour)
	forged, _, err := other.Generate("u1", "x@y.be")
	require.NoError(t, err)
	_, err = p.CurrentUser(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	p.tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := p.tokens.Generate("u1", "x@y.be")
	require.NoError(t, err)
	p.tokens.now = time.Now
	_, err = p.CurrentUser(ctx, expired)
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
}

func TestOnAuthChange(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	_, err := p.Register(ctx, "a@b.be", "password1")
	require.NoError(t, err)

	var events []AuthEventType
	unsubscribe := p.OnAuthChange(func(ev AuthEvent) {
		events = append(events, ev.Type)
		assert.Equal(t, "a@b.be", ev.User.Email)
	})

	sess, err := p.SignIn(ctx, "a@b.be", "password1")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx, sess.Token))
	assert.Equal(t, []AuthEventType{SignedIn, SignedOut}, events)

	unsubscribe()
	_, err = p.SignIn(ctx, "a@b.be", "password1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestJWTManagerRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	token, claims, err := m.Generate("u1", "x@y.be")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")))
	assert.NotEmpty(t, claims.ID)

	got, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, claims.ID, got.ID)
}
