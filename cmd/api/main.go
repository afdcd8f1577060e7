package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-desk/internal/api/http"
	"github.com/spec-kit/ticket-desk/internal/api/http/handlers"
	"github.com/spec-kit/ticket-desk/internal/auth"
	"github.com/spec-kit/ticket-desk/internal/config"
	"github.com/spec-kit/ticket-desk/internal/events"
	"github.com/spec-kit/ticket-desk/internal/lock"
	"github.com/spec-kit/ticket-desk/internal/observability"
	"github.com/spec-kit/ticket-desk/internal/persistence"
	"github.com/spec-kit/ticket-desk/internal/query"
	"github.com/spec-kit/ticket-desk/internal/repository"
	"github.com/spec-kit/ticket-desk/internal/service"
	"github.com/spec-kit/ticket-desk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Name)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks []handlers.DependencyCheck

	var (
		ticketRepo repository.TicketRepository
		userRepo   repository.UserRepository
	)
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, cfg.App.Name, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.Pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		ticketRepo = repository.NewTicketRepository(pg.Pool)
		userRepo = repository.NewUserRepository(pg.Pool)
		checks = append(checks, handlers.DependencyCheck{Name: "postgres", Ping: pg.Ping})
	default:
		logger.Info("using in-memory ticket store")
		ticketRepo = repository.NewMemoryTicketRepository()
		userRepo = repository.NewMemoryUserRepository()
	}

	var redis *persistence.Redis
	if cfg.Lock.Backend == config.BackendRedis || cfg.Events.RedisChannel != "" {
		redis, err = persistence.NewRedis(ctx, cfg.Redis, cfg.Lock.Backend == config.BackendRedis, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redis.Close()
		checks = append(checks, handlers.DependencyCheck{Name: "redis", Ping: redis.Ping})
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Lock.Backend == config.BackendRedis {
		locker = lock.NewRedisLocker(redis.Client, cfg.Lock.KeyPrefix, cfg.Lock.TTL())
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	var publisher *events.RedisPublisher
	if cfg.Events.RedisChannel != "" {
		publisher = events.NewRedisPublisher(redis.Client, cfg.Events.RedisChannel)
	}
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(dispatcher, notificationService, publisher)

	authService := service.NewAuthService(cfg.Auth, userRepo)
	if cfg.Auth.DemoUserEmail != "" && cfg.Auth.DemoUserPassword != "" {
		if _, err := authService.EnsureUser(ctx, cfg.Auth.DemoUserName, cfg.Auth.DemoUserEmail, cfg.Auth.DemoUserPassword); err != nil {
			logger.Fatal("failed to seed demo user", zap.Error(err))
		}
		logger.Info("demo user ready", zap.String("email", cfg.Auth.DemoUserEmail))
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager())

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		Locker:     locker,
		Engine:     query.NewEngine(cfg.Query.Locale),
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	metrics := observability.NewMetrics()
	app := httptransport.NewApp(cfg.App.Name)
	httptransport.RegisterMiddlewares(app, logger, metrics, httptransport.MiddlewareConfig{
		Timeout:       cfg.App.RequestTimeout(),
		AllowedOrigin: cfg.App.AllowedOrigin,
	})

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, metrics, checks...),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("store", cfg.Store.Backend), zap.String("lock", cfg.Lock.Backend))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
