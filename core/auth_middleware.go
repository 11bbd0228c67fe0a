package core

import (
	"context"
	"net/http"
	"strings"

	"github.com/putto11262002/roomchat/pkg/router"
)

const key sessionKey = "session"

type sessionKey string

func contextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, key, session)
}

func sessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(key).(Session)
	return session, ok
}

// SessionFromRequest extracts the session from the request context.
// It must be called in handlers that are protected by the BearerMiddleware.
// It panics if the session is not found in the request context.
func SessionFromRequest(r *http.Request) Session {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		panic("session not found in request context: call this function in handlers that are protected by BearerMiddleware")
	}
	return session
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// BearerMiddleware validates the bearer token of the request and attaches the session to the request context.
// The session is guaranteed to be attached to the request context for subsequent handlers.
func BearerMiddleware(a AuthStore) router.Middleware {
	return func(next http.Handler) router.HandlerFunc {
		return router.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			ctx := r.Context()

			session, err := a.Session(ctx, BearerToken(r))
			if err != nil {
				return err
			}

			next.ServeHTTP(w, r.WithContext(contextWithSession(ctx, *session)))
			return nil
		})
	}
}
