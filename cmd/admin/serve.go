package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/damio-kids/admin-console/internal/api/http"
	"github.com/damio-kids/admin-console/internal/api/http/handlers"
	"github.com/damio-kids/admin-console/internal/apiclient"
	"github.com/damio-kids/admin-console/internal/config"
	"github.com/damio-kids/admin-console/internal/events"
	"github.com/damio-kids/admin-console/internal/guard"
	"github.com/damio-kids/admin-console/internal/observability"
	"github.com/damio-kids/admin-console/internal/persistence"
	"github.com/damio-kids/admin-console/internal/repository"
	"github.com/damio-kids/admin-console/internal/service"
	"github.com/damio-kids/admin-console/internal/session"
	"github.com/damio-kids/admin-console/internal/tokenstore"
	"github.com/damio-kids/admin-console/internal/views"
	"github.com/damio-kids/admin-console/internal/worker"
)

const (
	shutdownTimeout   = 10 * time.Second
	auditRingCapacity = 500
	apiPrefix         = "/admin/api/"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin console HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if _, err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	rd := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer rd.Close()

	storage, err := buildStorage(cfg, pg, rd)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	eventRepo := repository.NewMemorySessionEventRepository(auditRingCapacity)
	if pg.Enabled() {
		eventRepo = repository.NewSessionEventRepository(pg.Pool)
	}
	audit := service.NewSessionAuditService(dispatcher, eventRepo, logger.Named("audit"), metrics)
	audit.RegisterHandlers()

	clientOpts := apiclient.Options{
		BaseURL:       cfg.Backend.BaseURL,
		HTTPClient:    apiclient.NewHTTPClient(cfg.Backend.Timeout()),
		Logger:        logger.Named("backend"),
		Metrics:       metrics,
		WarmupPath:    cfg.Backend.WarmupPath,
		WarmupTimeout: cfg.Backend.WarmupTimeout(),
		WarmupGate:    apiclient.NewWarmupGate(cfg.Backend.WarmupInterval()),
	}
	manager := session.NewManager(session.ManagerOptions{
		Storage:     storage,
		Factory:     session.ClientFactory(clientOpts),
		Logger:      logger.Named("session"),
		Events:      dispatcher,
		Metrics:     metrics,
		InitTimeout: cfg.Backend.Timeout() + cfg.Backend.WarmupTimeout(),
		MaxSessions: cfg.Session.MaxActive,
	})

	go func() {
		if err := apiclient.New(clientOpts, nil, nil).Warmup(ctx); err != nil {
			logger.Warn("backend warm-up failed", zap.Error(err))
		}
	}()

	renderer, err := views.New()
	if err != nil {
		return err
	}
	guardCfg := guard.Config{
		LoginPath:   cfg.Routes.LoginPath,
		LandingPath: cfg.Routes.LandingPath,
		APIPrefix:   apiPrefix,
		InitWait:    cfg.Session.InitWait(),
		Views:       renderer,
	}

	checks := map[string]handlers.Checker{}
	if pg.Enabled() {
		checks["postgres"] = pg
	}
	if rd.Enabled() {
		checks["redis"] = rd
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:   handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, checks),
		Auth:     handlers.NewAuthHandler(guardCfg, renderer),
		Pages:    handlers.NewPagesHandler(cfg.App.Name, guardCfg, renderer, handlers.DefaultSections(guardCfg.LandingPath), audit),
		Session:  handlers.NewSessionHandler(guardCfg),
		Proxy:    handlers.NewProxyHandler(guardCfg),
		Push:     handlers.NewPushHandler(guardCfg),
		Metrics:  metrics.Handler(),
		Sessions: manager,
		Cookie: guard.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.CookieSecure,
			MaxAge: cfg.Session.IdleTTL(),
		},
		Guard: guardCfg,
		Login: cfg.Login,
	})

	sweeper := worker.NewSessionSweeper(manager, storage, cfg.Session.IdleTTL(), cfg.Session.SweepInterval(), logger.Named("sweeper"), metrics)
	go sweeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.App.Addr())
	}()
	logger.Info("admin console listening",
		zap.String("addr", cfg.App.Addr()),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("session_store", cfg.Session.Store))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	}
	return app.ShutdownWithTimeout(shutdownTimeout)
}

// buildStorage picks the Token Store backend, sealing values when an
// encryption key is configured.
func buildStorage(cfg *config.Config, pg *persistence.Postgres, rd *persistence.Redis) (tokenstore.Backend, error) {
	ttl := cfg.Session.IdleTTL()

	var backend tokenstore.Backend
	switch cfg.Session.Store {
	case config.StoreRedis:
		if !rd.Enabled() {
			return nil, fmt.Errorf("session store redis: %w", persistence.ErrRedisDisabled)
		}
		backend = tokenstore.NewRedisBackend(rd.Client, cfg.Redis.KeyPrefix, ttl)
	case config.StorePostgres:
		if !pg.Enabled() {
			return nil, fmt.Errorf("session store postgres: %w", persistence.ErrPostgresDisabled)
		}
		backend = tokenstore.NewPostgresBackend(pg.Pool, ttl)
	default:
		backend = tokenstore.NewMemoryBackend(ttl)
	}

	if cfg.Session.EncryptionKey == "" {
		return backend, nil
	}
	sealed, err := tokenstore.NewSealedBackend(backend, cfg.Session.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("seal session store: %w", err)
	}
	return sealed, nil
}
