package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"twinpool/app/handler"
	"twinpool/app/router"
	"twinpool/internal/service"
	"twinpool/pkg/config"
	"twinpool/pkg/events"
	"twinpool/pkg/jobmonitor"
	"twinpool/pkg/logger"
	"twinpool/pkg/notification"
	"twinpool/pkg/pool"
	"twinpool/pkg/probe"
	"twinpool/pkg/recent"
	mysqlstore "twinpool/pkg/store/mysql"
	redisstore "twinpool/pkg/store/redis"
	"twinpool/pkg/workspace"
	"twinpool/pkg/workspace/queue"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(app.config.Logger); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		logger.Sync()
	})
	return nil
}

// initMySQL initializes MySQL; history is disabled when it is not configured
func (app *Application) initMySQL() error {
	if !app.config.MySQL.Enabled {
		logger.InfoCtx(app.ctx, "MySQL disabled, scaling and resource history will not be kept")
		return nil
	}

	repo, err := mysqlstore.NewRepository(app.ctx, mysqlstore.DSN(app.config.MySQL))
	if err != nil {
		return err
	}
	app.mysqlRepo = repo

	app.registerCleanup(func() {
		if err := app.mysqlRepo.Close(); err != nil {
			logger.ErrorCtx(app.ctx, "Failed to close MySQL: %v", err)
			return
		}
		logger.InfoCtx(app.ctx, "MySQL connection closed")
	})
	return nil
}

// initRedis initializes Redis. It is required by the queue workspace backend
// and the redis recent store; otherwise it only backs the distributed locks.
func (app *Application) initRedis() error {
	cfg := app.config
	needed := cfg.Redis.Enabled || cfg.Workspace.Backend == "queue" || cfg.Recent.Backend == "redis"
	if !needed {
		logger.InfoCtx(app.ctx, "Redis disabled, running in single-instance mode")
		return nil
	}

	client, err := redisstore.NewRedisClient(app.ctx, cfg.Redis)
	if err != nil {
		return err
	}
	app.redisClient = client

	app.registerCleanup(func() {
		if err := app.redisClient.Close(); err != nil {
			logger.ErrorCtx(app.ctx, "Failed to close Redis: %v", err)
			return
		}
		logger.InfoCtx(app.ctx, "Redis connection closed")
	})
	return nil
}

// initRecent initializes the recent workspace store
func (app *Application) initRecent() error {
	defaultCount := recent.DefaultWorkerCount(probe.CPUCount(app.ctx))

	switch app.config.Recent.Backend {
	case "redis":
		if app.redisClient == nil {
			return fmt.Errorf("recent backend redis requires a redis connection")
		}
		app.recentStore = recent.NewRedisStore(app.redisClient.GetClient(), defaultCount)
	default:
		path := app.config.Recent.Path
		if path == "" {
			path = recent.DefaultPath()
		}
		store, err := recent.NewFileStore(path, defaultCount)
		if err != nil {
			return err
		}
		logger.Info("recent workspaces loaded", zap.String("path", store.Path()))
		app.recentStore = store
	}

	app.registerCleanup(func() {
		if err := app.recentStore.Close(); err != nil {
			logger.ErrorCtx(app.ctx, "Failed to close recent store: %v", err)
		}
	})
	return nil
}

// initWorkspaceBackend initializes the opener used to attach workspaces
func (app *Application) initWorkspaceBackend() error {
	cfg := app.config

	if cfg.Workspace.Backend == "memory" {
		logger.WarnCtx(app.ctx, "Using in-memory workspace backend, jobs will not run")
		app.opener = workspace.MemoryOpener()
		return nil
	}

	if app.redisClient == nil {
		return fmt.Errorf("workspace backend queue requires a redis connection")
	}
	spawner, err := queue.NewExecSpawner(cfg.Workspace.WorkerBinary, os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	retention := time.Duration(cfg.Workspace.TaskRetention) * time.Hour
	jobs := redisstore.NewJobRepository(app.redisClient.GetClient(), retention)
	app.opener = queue.NewOpener(app.redisClient.AsynqOpt(), jobs, spawner, cfg.Workspace)
	return nil
}

// initServices initializes the event bus, the controllers and the services
func (app *Application) initServices() error {
	cfg := app.config

	app.bus = events.NewBus()
	app.registerCleanup(app.bus.Close)

	feishu := notification.NewFeishuNotifier(cfg.Notification.FeishuWebhookURL)
	if feishu.Enabled() {
		app.notifier = feishu
		logger.InfoCtx(app.ctx, "Feishu fault notifications enabled")
	}

	poolOpts := pool.Options{
		Probe:             probe.NewProcessProbe(),
		Recent:            app.recentStore,
		Bus:               app.bus,
		Notifier:          app.notifier,
		MaxCapacity:       cfg.Pool.MaxCapacity,
		SampleConcurrency: cfg.Pool.SampleConcurrency,
		SampleTimeout:     time.Duration(cfg.Pool.SampleTimeoutMs) * time.Millisecond,
	}
	if app.mysqlRepo != nil {
		poolOpts.History = app.mysqlRepo.ScalingEvent
	}
	app.poolController = pool.NewController(poolOpts)

	app.jobMonitor = jobmonitor.New(jobmonitor.Options{
		Bus:      app.bus,
		Notifier: app.notifier,
	})

	app.workspaceService = service.NewWorkspaceService(app.opener, app.recentStore, app.poolController, app.jobMonitor)
	app.historyService = service.NewHistoryService(app.mysqlRepo, app.poolController, cfg.MySQL.RetentionDays)
	return nil
}

// initHandlers initializes handlers
func (app *Application) initHandlers() error {
	app.workspaceHandler = handler.NewWorkspaceHandler(app.workspaceService)
	app.workerHandler = handler.NewWorkerHandler(app.workspaceService, app.historyService)
	app.jobHandler = handler.NewJobHandler(app.workspaceService)
	app.eventHandler = handler.NewEventHandler(app.bus, app.workspaceService)
	app.healthHandler = handler.NewHealthHandler(app.jobsManager, app.workspaceService)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	// Initialize router
	r := router.NewRouter(app.workspaceHandler, app.workerHandler, app.jobHandler, app.eventHandler, app.healthHandler, app.config.Server.APIKey)

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine; recovery and logging middleware are added by the router
	app.ginEngine = gin.New()

	// Setup routes
	r.Setup(app.ginEngine)

	// Create HTTP server
	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
