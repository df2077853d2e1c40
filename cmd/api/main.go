package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/maintenance-service/internal/api/http"
	"github.com/spec-kit/maintenance-service/internal/api/http/handlers"
	"github.com/spec-kit/maintenance-service/internal/auth"
	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/notify"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/persistence"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/service"
	"github.com/spec-kit/maintenance-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	technicianRepo := repository.NewTechnicianRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)
	calendarRepo := repository.NewCalendarRepository(pool)
	policyRepo := repository.NewSlaPolicyRepository(pool)

	settingsDeps := service.SettingsDependencies{
		CalendarRepo:    calendarRepo,
		PolicyRepo:      policyRepo,
		ConfigChannel:   cfg.Redis.ConfigChannel,
		DefaultCalendar: config.DefaultCalendar(),
		DefaultPolicies: config.DefaultPolicies(),
		Metrics:         metrics,
		Logger:          logger,
	}
	if redis.Enabled() {
		settingsDeps.Broadcaster = redis
	}
	settingsService, err := service.NewSettingsService(settingsDeps)
	if err != nil {
		logger.Fatal("invalid default settings", zap.Error(err))
	}
	if err := settingsService.Reload(ctx); err != nil {
		logger.Warn("using default calendar and policies", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher(logger)

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		HistoryRepo: historyRepo,
		Policies:    settingsService,
		Calendars:   settingsService,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:     ticketRepo,
		TechnicianRepo: technicianRepo,
		HistoryRepo:    historyRepo,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		Logger:         logger,
	})

	sink, err := notify.NewSink(*cfg, redis, logger)
	if err != nil {
		logger.Fatal("failed to build notification sink", zap.Error(err))
	}
	notifications := worker.NewNotificationWorker(sink, cfg.Notification.QueueSize, metrics, logger)
	service.NewNotificationService(dispatcher, notifications, logger).RegisterHandlers()

	sweeper := worker.NewSLASweeper(ticketService, cfg.SLA.SweepInterval(), cfg.SLA.SweepBatchSize, logger)
	var feed worker.ChangeFeed
	if redis.Enabled() {
		feed = worker.NewRedisChangeFeed(redis, cfg.Redis.ConfigChannel)
	}
	reloader := worker.NewConfigReloader(settingsService, feed, cfg.SLA.ReloadInterval(), logger)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, run := range []func(context.Context){notifications.Run, sweeper.Run, reloader.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(workerCtx)
		}(run)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tickets:        handlers.NewTicketsHandler(ticketService, assignmentService),
		Technicians:    handlers.NewTechniciansHandler(assignmentService),
		Settings:       handlers.NewSettingsHandler(settingsService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopWorkers()
	wg.Wait()
	if err := sink.Close(); err != nil {
		logger.Warn("close notification sink", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
