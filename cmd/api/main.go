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

	"golang.org/x/sync/errgroup"

	"github.com/cimillas/fulfillment-desk/internal/app"
	"github.com/cimillas/fulfillment-desk/internal/authz"
	"github.com/cimillas/fulfillment-desk/internal/catalog"
	"github.com/cimillas/fulfillment-desk/internal/clock"
	"github.com/cimillas/fulfillment-desk/internal/config"
	"github.com/cimillas/fulfillment-desk/internal/notify"
	"github.com/cimillas/fulfillment-desk/internal/packager"
	"github.com/cimillas/fulfillment-desk/internal/storage/memory"
	"github.com/cimillas/fulfillment-desk/internal/storage/postgres"
	"github.com/cimillas/fulfillment-desk/internal/storage/sqlite"
	transporthttp "github.com/cimillas/fulfillment-desk/internal/transport/http"
	"github.com/cimillas/fulfillment-desk/migrations"
)

const (
	shutdownTimeout = 10 * time.Second
	startupTimeout  = 10 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	config.LoadEnvFile(logger)

	cfg, err := config.Load(os.Args[1:], nil)
	if err != nil {
		logger.Error("config_invalid", "error", err)
		os.Exit(2)
	}
	logger = newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("service_stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	restored, err := cat.ApplySourceDir(cfg.SourceDir)
	if err != nil {
		return fmt.Errorf("restore uploaded sources: %w", err)
	}
	if restored > 0 {
		logger.Info("offer_sources_restored", "products", restored, "dir", cfg.SourceDir)
	}
	pkg := packager.New(cfg.ArtifactDir, logger)

	proof, err := app.NewProofPolicy(cfg.ProofPrefix)
	if err != nil {
		return fmt.Errorf("proof policy: %w", err)
	}

	directory := notify.StaticDirectory{}
	for audience, members := range cfg.Notify.Audiences {
		directory[audience] = members
	}
	if _, ok := directory[cfg.Notify.AdminAudience]; !ok {
		directory[cfg.Notify.AdminAudience] = cfg.Admins.IDs
	}
	messenger := notify.NewWebhookMessenger(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken, &http.Client{Timeout: cfg.Notify.SendTimeout})
	fanout := notify.NewFanout(messenger, directory, notify.Config{
		AdminAudience: cfg.Notify.AdminAudience,
		SendTimeout:   cfg.Notify.SendTimeout,
		Concurrency:   cfg.Notify.Concurrency,
	}, logger)

	engine := app.NewEngine(store, fanout, pkg, proof, clock.NewSystem(), app.EngineConfig{
		DeliveryLogAudience: cfg.Notify.DeliveryLogAudience,
		SalesLogAudience:    cfg.Notify.SalesLogAudience,
		UpdateTimeout:       cfg.Engine.UpdateTimeout,
		RecheckTimeout:      cfg.Engine.RecheckTimeout,
	}, logger)
	intake := app.NewIntake(cat, pkg, engine, proof, logger)

	authorizer, err := authz.New(append(authz.DefaultPolicy(cfg.Admins.IDs), cfg.Admins.Policy...))
	if err != nil {
		return fmt.Errorf("load admin policy: %w", err)
	}
	admin := app.NewAdminActions(engine, authorizer, cat, cfg.SourceDir, logger)

	router := transporthttp.NewRouter(transporthttp.RouterDeps{
		Catalog:     cat,
		Orders:      intake,
		OrderReader: engine,
		Admin:       admin,
		Auth: transporthttp.NewAdminAuth(transporthttp.AuthConfig{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		}, logger),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	reporter := app.NewStatusReporter(engine, cfg.ReportInterval, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api_listening", "port", cfg.Port, "store", cfg.Store.Kind, "products", len(cat.List()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return reporter.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_started")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// openStore builds the record store named by the config. The returned func
// releases it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (app.OrderStore, func(), error) {
	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	switch cfg.Store.Kind {
	case config.StorePostgres:
		pool, err := postgres.Connect(startupCtx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to db: %w", err)
		}
		if err := migrations.Apply(startupCtx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		return postgres.NewStore(pool), pool.Close, nil
	case config.StoreSQLite:
		store, err := sqlite.Open(startupCtx, sqlite.Config{Path: cfg.Store.SQLitePath, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("sqlite_close_failed", "error", err)
			}
		}, nil
	default:
		logger.Warn("memory_store_in_use", "detail", "orders are lost on restart")
		return memory.New(), func() {}, nil
	}
}
