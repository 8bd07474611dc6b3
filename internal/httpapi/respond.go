package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"stexcore.dev/hub/internal/accounts"
	"stexcore.dev/hub/internal/auth"
	"stexcore.dev/hub/internal/entities"
)

type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type errorEnvelope struct {
	Message   string `json:"message"`
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Message: message, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind, message string, details any) {
	writeJSON(w, code, errorEnvelope{
		Message:   message,
		Error:     kind,
		Details:   details,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// handleError translates service errors into the error envelope.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		accountConflict *accounts.ConflictError
		entityConflict  *entities.ConflictError
	)
	switch {
	case errors.As(err, &accountConflict):
		writeError(w, r, http.StatusConflict, "conflict", "The account conflicts with existing records", accountConflict)
	case errors.As(err, &entityConflict):
		writeError(w, r, http.StatusConflict, "conflict", "The entity conflicts with existing records", entityConflict)
	case errors.Is(err, entities.ErrLinked):
		writeError(w, r, http.StatusConflict, "conflict", "The entity is linked to an account", nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials", nil)
	case errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, r, http.StatusForbidden, "account_disabled", "Account is disabled", nil)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "Insufficient permissions", nil)
	case errors.Is(err, entities.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "Entity not found", nil)
	case errors.Is(err, accounts.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "Account not found", nil)
	case errors.Is(err, entities.ErrInvalidInput),
		errors.Is(err, accounts.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	default:
		a.logger.ErrorContext(r.Context(), "request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeError(w, r, http.StatusInternalServerError, "internal", "Internal server error", nil)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeBody decodes into dst and answers 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return false
	}
	return true
}

// pathID parses the {id} route parameter and answers 400 when it is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
