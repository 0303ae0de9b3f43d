package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const ctxKeyPrincipal ctxKey = iota

// Principal is the authenticated caller as carried on the request context.
type Principal struct {
	ID   string
	Role string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok
}

// Middleware verifies a bearer token and stores the caller on the context.
// Requests without a valid token are passed to onFail.
func Middleware(secret string, onFail func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				onFail(w, r, ErrInvalidToken)
				return
			}
			claims, err := ParseAndVerifyHS256(token, secret)
			if err != nil {
				onFail(w, r, err)
				return
			}
			ctx := WithPrincipal(r.Context(), Principal{ID: claims.Subject, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-Role"
)

// TrustedHeaders reads the caller from gateway-set headers. Only use it behind a
// gateway that strips and re-sets these headers after verifying the token.
func TrustedHeaders(onFail func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if id == "" {
				onFail(w, r, ErrInvalidToken)
				return
			}
			p := Principal{ID: id, Role: strings.TrimSpace(r.Header.Get(HeaderRole))}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
