package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/inspectsync/inspectsync-go/internal/config"
	"github.com/inspectsync/inspectsync-go/internal/handler"
	"github.com/inspectsync/inspectsync-go/internal/middleware"
	"github.com/inspectsync/inspectsync-go/internal/repository"
	"github.com/inspectsync/inspectsync-go/internal/service"
)

func newServeCmd(cfg func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg())
		},
	}
}

func newRouter(cfg config.Config, db *repository.DB) (http.Handler, error) {
	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	records := repository.NewRecordRepository(db)
	tenants := repository.NewTenantRepository(db)

	guard := service.NewGuard(tenants, service.NewTenantBillingVerifier(tenants))
	pullService := service.NewPullService(guard, records, tenants, cfg.SyncJobWindowDays)
	pushService := service.NewPushService(guard, service.NewItemProcessor(service.NewEntityRouter(records)), cfg.SyncMaxPushItems)
	syncHandler := handler.NewSyncHandler(pullService, pushService)

	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/health", handler.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret))
		r.Get("/sync/pull", syncHandler.HandlePull)
		r.Get("/sync/bootstrap", syncHandler.HandleBootstrap)
	})

	r.Group(func(r chi.Router) {
		rps, burst := middleware.PerMinute(cfg.SyncRateLimitPerMinute)
		r.Use(middleware.RateLimit(rps, burst, trusted...))
		r.Use(middleware.JWTAuth(cfg.JWTSecret))
		r.Post("/sync/push", syncHandler.HandlePush)
	})

	return r, nil
}

func serve(cfg config.Config) error {
	db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	router, err := newRouter(cfg, db)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Env, "driver", db.Dialect.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced shutdown", "error", err)
		return err
	}

	slog.Info("server stopped")
	return nil
}
