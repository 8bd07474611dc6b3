package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"stexcore.dev/hub/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errMissingToken = errors.New("missing bearer token")

// withAuth resolves the bearer token into a session and stores both in the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="stexcore-hub"`)
			writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
			return
		}

		info, ok, err := a.auth.SessionByToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="stexcore-hub", error="invalid_token"`)
			}
			a.handleError(w, r, err)
			return
		}
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="stexcore-hub", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid_credentials", "Session is no longer active", nil)
			return
		}

		ctx := auth.ContextWithSession(r.Context(), info)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission guards a route with one module permission of the session role.
func requirePermission(module, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := auth.SessionFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="stexcore-hub"`)
				writeError(w, r, http.StatusUnauthorized, "unauthorized", errMissingToken.Error(), nil)
				return
			}
			if !info.Can(module, permission) {
				writeError(w, r, http.StatusForbidden, "forbidden", "Insufficient permissions", map[string]string{
					"module":     module,
					"permission": permission,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
