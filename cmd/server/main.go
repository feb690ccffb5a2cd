// Command server runs the tenancy HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/tenancy/api"
	"github.com/GoCodeAlone/tenancy/auth"
	"github.com/GoCodeAlone/tenancy/config"
	"github.com/GoCodeAlone/tenancy/observability/tracing"
	"github.com/GoCodeAlone/tenancy/setup"
	"github.com/GoCodeAlone/tenancy/tenant"
)

var configFile = flag.String("config", "", "Path to YAML configuration file")

func main() {
	flag.Parse()
	if err := run(*configFile); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var level slog.LevelVar
	l, _ := config.ParseLevel(cfg.Log.Level)
	level.Set(l)
	logger := cfg.NewLogger(os.Stdout, &level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled() {
		tp, err := tracing.NewProvider(ctx, cfg.Tracing)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(sctx); err != nil {
				logger.Error("flush traces", "error", err)
			}
		}()
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	app, err := setup.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			logger.Error("close stores", "error", err)
		}
	}()
	if _, err := app.Migrate(ctx); err != nil {
		return err
	}

	router, err := newRouter(app, logger)
	if err != nil {
		return err
	}
	defer router.Close()

	if path != "" {
		w := config.NewWatcher(config.NewFileSource(path), func(evt config.ChangeEvent) {
			applyReload(&level, evt.Config, logger)
		}, config.WithWatcherLogger(logger))
		if err := w.Start(); err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// newRouter builds the API over app. Without a configured JWT secret tokens
// are signed with a random per-process key.
func newRouter(app *setup.App, logger *slog.Logger) (*api.Router, error) {
	cfg := app.Config

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		s, err := auth.GenerateState()
		if err != nil {
			return nil, err
		}
		secret = s
		logger.Warn("auth.jwt_secret not set; tokens will not survive a restart")
	}
	tokens, err := auth.NewTokenIssuer([]byte(secret), cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	var google *auth.GoogleProvider
	if cfg.Auth.Google.ClientID != "" {
		google, err = auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.Auth.Google.ClientID,
			ClientSecret: cfg.Auth.Google.ClientSecret,
			CallbackURL:  cfg.Auth.Google.CallbackURL,
		})
		if err != nil {
			return nil, err
		}
	}

	var quotas *tenant.QuotaRegistry
	if n := cfg.Server.APIRequestsPerMinute; n > 0 {
		quotas = tenant.NewQuotaRegistry()
		quotas.SetDefaultRate(n)
	}

	return api.NewRouter(api.Deps{
		Tenants:       app.Tenants,
		Users:         app.Users,
		Subscriptions: app.Subscriptions,
		Provisioner:   app.Provisioner,
		Auth:          auth.NewService(app.Users, tokens, app.UserTarget(), logger),
		Google:        google,
		Quotas:        quotas,
		Health:        app,
		Metrics:       app.Metrics,
		Logger:        logger,
	}, api.Config{
		TenantTarget:  cfg.TenantTarget(),
		UserTarget:    app.UserTarget(),
		AuthRateLimit: cfg.Server.AuthRateLimit,
		FrontendURL:   cfg.Server.FrontendURL,
	}), nil
}

// applyReload applies the settings that can change without a restart.
func applyReload(level *slog.LevelVar, cfg *config.Config, logger *slog.Logger) {
	l, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warn("ignoring log level", "level", cfg.Log.Level, "error", err)
		return
	}
	if l != level.Level() {
		level.Set(l)
		logger.Info("log level changed", "level", l.String())
	}
}
