package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"verdeling/internal/auth"
	"verdeling/internal/core"
	applog "verdeling/internal/log"
	"verdeling/internal/middleware/security"
	"verdeling/internal/ports"
)

const sessionCookie = "session"

// errNoProfile marks a signed-in user that is not linked to a role yet.
var errNoProfile = errors.New("user has no profile")

// viewer is the signed-in user together with the profile that decides what
// they may see.
type viewer struct {
	User    auth.User
	Profile core.Profile
}

func (v *viewer) IsAdmin() bool {
	return v != nil && v.Profile.IsAdmin()
}

// Name is what the navigation shows.
func (v *viewer) Name() string {
	if v.Profile.DisplayName != "" {
		return v.Profile.DisplayName
	}
	return v.User.Email
}

type viewerKey struct{}

func viewerFrom(ctx context.Context) *viewer {
	v, _ := ctx.Value(viewerKey{}).(*viewer)
	return v
}

// resolveViewer authenticates the session cookie and loads the profile.
func (s *Server) resolveViewer(r *http.Request) (*viewer, error) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil, auth.ErrNotAuthenticated
	}
	user, err := s.auth.CurrentUser(r.Context(), c.Value)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withStoreTimeout(r)
	defer cancel()
	profile, err := s.store.GetProfile(ctx, user.ID)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, errNoProfile
	}
	if err != nil {
		return nil, err
	}
	if profile.Email == "" {
		profile.Email = user.Email
	}
	return &viewer{User: *user, Profile: profile}, nil
}

// requireUser lets signed-in users with a profile through.
func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return security.NoStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, err := s.resolveViewer(r)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrNotAuthenticated):
			s.unauthenticated(w, r)
			return
		case errors.Is(err, errNoProfile):
			s.log.WarnContext(r.Context(), "Signed-in user without profile", applog.FieldPath, r.URL.Path)
			ForbiddenError("Je account is nog niet gekoppeld. Neem contact op met de beheerder.").Write(w)
			return
		default:
			s.writeError(w, r, applog.ComponentAuth, applog.OpRead, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), viewerKey{}, v)))
	}))
}

// requireAdmin is requireUser restricted to the admin role.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request) {
		v := viewerFrom(r.Context())
		if !v.IsAdmin() {
			s.log.WarnContext(r.Context(), "Admin route refused",
				applog.FieldUserID, v.User.ID,
				applog.FieldPath, r.URL.Path)
			ForbiddenError("Geen toegang").Write(w)
			return
		}
		next(w, r)
	})
}

// unauthenticated sends browsers to the login page. htmx requests get a 401
// with HX-Redirect so the whole page navigates.
func (s *Server) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if isHTMX(r) {
		UnauthorizedError("Je sessie is verlopen. Log opnieuw in.").Redirect("/login").Write(w)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
