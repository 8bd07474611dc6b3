package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stexcore.dev/hub/internal/accounts"
	"stexcore.dev/hub/internal/auth"
	"stexcore.dev/hub/internal/config"
	"stexcore.dev/hub/internal/entities"
	"stexcore.dev/hub/internal/httpapi"
	"stexcore.dev/hub/internal/migrate"
	"stexcore.dev/hub/internal/obs"
	"stexcore.dev/hub/internal/store/sqldb"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("api stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	obs.SetLogger(logger)
	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqldb.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	obs.InitBuildInfo(cfg.Version, cfg.Commit, string(db.Dialect()))

	mgr, err := migrate.NewManager(db)
	if err != nil {
		return err
	}
	if err := mgr.Sync(ctx); err != nil {
		return fmt.Errorf("schema sync: %w", err)
	}

	if cfg.APIKey == "" {
		logger.Warn("API_KEY is empty; session tokens are signed with an empty key")
	}

	ents := entities.NewService(db)
	accs := accounts.NewService(db, ents)
	authSvc, err := auth.NewService(db, cfg.APIKey)
	if err != nil {
		return err
	}

	if cfg.Bootstrap.Enabled() {
		if err := bootstrapAdmin(ctx, logger, accs, cfg.Bootstrap); err != nil {
			return err
		}
	}

	api := httpapi.New(httpapi.Deps{
		Entities:        ents,
		Accounts:        accs,
		Auth:            authSvc,
		Ready:           db,
		Logger:          logger,
		Version:         cfg.Version,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		SignInBurst:     cfg.HTTP.SignInBurst,
		SignInPerSecond: cfg.HTTP.SignInPerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting stexcore-hub", "version", cfg.Version, "addr", srv.Addr, "dialect", db.Dialect())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

func bootstrapAdmin(ctx context.Context, logger *slog.Logger, accs *accounts.Service, b config.Bootstrap) error {
	const adminRole = 1
	acc, created, err := accs.Bootstrap(ctx, accounts.CreateInput{
		Username: b.Username,
		Password: b.Password,
		RoleID:   adminRole,
		Entity: &entities.Input{
			Name:            "System",
			Lastname:        "Administrator",
			Birthdate:       entities.NewDate(1970, time.January, 1),
			NationalID:      "0",
			NationalityType: "V",
			Emails:          []string{b.Email},
		},
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Info("bootstrap administrator created", "account_id", acc.ID, "username", acc.Username)
	}
	return nil
}
