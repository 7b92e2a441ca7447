package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/3leaps/gomian/internal/errors"
	"github.com/3leaps/gomian/pkg/session"
)

type userKey struct{}

// UserFrom returns the session user stored by Session.
func UserFrom(ctx context.Context) (*session.User, bool) {
	u, ok := ctx.Value(userKey{}).(*session.User)
	return u, ok && u != nil
}

// WithUser stores u on ctx.
func WithUser(ctx context.Context, u *session.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// Session resolves the caller from the session cookie or a bearer token
// and rejects the request with 401 when neither names a live session.
func Session(store session.Store, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r, cookieName)
			if token == "" || store == nil {
				apperrors.RespondWithError(w, r, apperrors.NewUnauthorized(""))
				return
			}
			user, err := store.Lookup(r.Context(), token)
			if err != nil {
				if errors.Is(err, session.ErrNoSession) {
					apperrors.RespondWithError(w, r, apperrors.NewUnauthorized("session expired or unknown"))
					return
				}
				apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "session lookup failed"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func sessionToken(r *http.Request, cookieName string) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, tok, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
