package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"homestats.org/internal/account"
	"homestats.org/internal/service"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/api/v1/auth/register",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
	"/healthz",
	"/readyz",
	"/metrics",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		user, err := a.svc.VerifyAccess(r.Context(), raw)
		if err != nil {
			if errors.Is(err, service.ErrUnauthorized) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), user)))
	})
}

func contextWithUser(ctx context.Context, u *account.User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

func userFromContext(ctx context.Context) (*account.User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(*account.User)
	return u, ok
}

// caller returns the authenticated user or writes 401 and reports false.
func (a *API) caller(w http.ResponseWriter, r *http.Request) (*account.User, bool) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return u, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
