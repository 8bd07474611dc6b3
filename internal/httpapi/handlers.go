// Package httpapi exposes the hub services over JSON/HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stexcore.dev/hub/internal/accounts"
	"stexcore.dev/hub/internal/auth"
	"stexcore.dev/hub/internal/entities"
	"stexcore.dev/hub/internal/obs"
)

// ReadyProbe reports whether the backing store answers.
type ReadyProbe interface {
	PingContext(ctx context.Context) error
}

// EntityService is the entity surface served over HTTP.
type EntityService interface {
	CreateEntity(ctx context.Context, in entities.Input) (entities.Entity, error)
	UpdateEntity(ctx context.Context, id int64, in entities.Input) (int, error)
	DeleteEntity(ctx context.Context, id int64) (bool, error)
	GetEntity(ctx context.Context, id int64) (entities.Entity, error)
	ListEntities(ctx context.Context) ([]entities.Entity, error)
	SearchEntitiesByDNI(ctx context.Context, raw string) ([]entities.Entity, error)
}

// AccountService is the account surface served over HTTP.
type AccountService interface {
	CreateAccount(ctx context.Context, in accounts.CreateInput) (accounts.Account, error)
	UpdateAccount(ctx context.Context, id int64, in accounts.UpdateInput) (int, error)
	DeleteAccount(ctx context.Context, id int64) (int64, error)
	GetAccount(ctx context.Context, id int64) (accounts.Account, error)
	ListAccounts(ctx context.Context) ([]accounts.Account, error)
}

// AuthService issues and resolves sessions.
type AuthService interface {
	SignIn(ctx context.Context, email, password string) (auth.SessionInfo, error)
	SessionByToken(ctx context.Context, token string) (auth.SessionInfo, bool, error)
	Logout(ctx context.Context, token string) error
	ListRoles(ctx context.Context) ([]auth.RoleInfo, error)
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Entities EntityService
	Accounts AccountService
	Auth     AuthService
	Ready    ReadyProbe
	Logger   *slog.Logger
	Version  string

	MaxBodyBytes    int64
	SignInBurst     int
	SignInPerSecond int
}

// API is the HTTP layer.
type API struct {
	entities EntityService
	accounts AccountService
	auth     AuthService
	ready    ReadyProbe
	logger   *slog.Logger
	version  string

	maxBody    int64
	rateBurst  int
	ratePerSec int

	router chi.Router
}

// New builds the API and its routes.
func New(deps Deps) *API {
	a := &API{
		entities:   deps.Entities,
		accounts:   deps.Accounts,
		auth:       deps.Auth,
		ready:      deps.Ready,
		logger:     deps.Logger,
		version:    deps.Version,
		maxBody:    deps.MaxBodyBytes,
		rateBurst:  deps.SignInBurst,
		ratePerSec: deps.SignInPerSecond,
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(a.Recover)
	r.Use(a.Logging)
	r.Use(SecurityHeaders)
	r.Use(CORS)
	r.Use(MaxBodyBytes(a.maxBody))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(RateLimit(a.rateBurst, a.ratePerSec)).Post("/signin", a.handleSignIn)
			r.Group(func(r chi.Router) {
				r.Use(a.withAuth)
				r.Get("/session", a.handleSession)
				r.Post("/logout", a.handleLogout)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Route("/entities", func(r chi.Router) {
				r.With(requirePermission("entities", "read")).Get("/", a.listEntities)
				r.With(requirePermission("entities", "create")).Post("/", a.createEntity)
				r.With(requirePermission("entities", "read")).Get("/dni/{search}", a.searchEntities)
				r.With(requirePermission("entities", "read")).Get("/{id}", a.getEntity)
				r.With(requirePermission("entities", "update")).Put("/{id}", a.updateEntity)
				r.With(requirePermission("entities", "delete")).Delete("/{id}", a.deleteEntity)
			})

			r.Route("/accounts", func(r chi.Router) {
				r.With(requirePermission("accounts", "read")).Get("/", a.listAccounts)
				r.With(requirePermission("accounts", "create")).Post("/", a.createAccount)
				r.With(requirePermission("accounts", "read")).Get("/{id}", a.getAccount)
				r.With(requirePermission("accounts", "update")).Put("/{id}", a.updateAccount)
				r.With(requirePermission("accounts", "delete")).Delete("/{id}", a.deleteAccount)
			})

			r.With(requirePermission("roles", "read")).Get("/roles", a.listRoles)
		})
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "stexcore-hub",
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
