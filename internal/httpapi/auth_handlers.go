package httpapi

import (
	"context"
	"net/http"
	"strings"

	"stexcore.dev/hub/internal/audit"
	"stexcore.dev/hub/internal/auth"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "email and password are required", nil)
		return
	}

	info, err := a.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	ctx := auth.ContextWithSession(r.Context(), info)
	a.audit(ctx, "auth.signin", nil)
	writeData(w, http.StatusOK, "Signed in!", info)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	info, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", errMissingToken.Error(), nil)
		return
	}
	writeData(w, http.StatusOK, "Session is active", info)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", errMissingToken.Error(), nil)
		return
	}
	if err := a.auth.Logout(r.Context(), token); err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.logout", nil)
	writeData(w, http.StatusOK, "Logged out!", nil)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.auth.ListRoles(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Retrieved all roles!", roles)
}

// audit records a mutation; failures are logged and never fail the request.
func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		a.logger.WarnContext(ctx, "audit log failed", "event", event, "error", err.Error())
	}
}
