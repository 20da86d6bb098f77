package bootstrap

import (
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/rag-backend/internal/config"
	"github.com/aihub/rag-backend/internal/di"
	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/kafka"
	"github.com/aihub/rag-backend/internal/logger"
	"github.com/aihub/rag-backend/internal/metrics"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config    *config.Config
	Container *dig.Container
	Metrics   *metrics.Collector

	cleanupTasks []func() error
}

// Init bootstraps configuration, logger and the dependency container
// required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.NewConfigLoader().Load()
	if err != nil {
		return nil, err
	}

	if err := logger.InitLogger(cfg.App.LogLevel, cfg.App.Env); err != nil {
		return nil, err
	}

	container, err := di.Build(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Container: container}

	err = container.Invoke(func(c *metrics.Collector, monitor *apperrors.ErrorMonitor, publisher kafka.EventPublisher) {
		app.Metrics = c
		app.cleanupTasks = append(app.cleanupTasks,
			publisher.Close,
			func() error {
				monitor.Stop()
				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("application bootstrapped",
		zap.String("env", cfg.App.Env),
		zap.String("vector_store", cfg.VectorStore.Provider),
		zap.String("collection", cfg.Knowledge.Collection),
		zap.Bool("events", cfg.Queue.Enabled))

	return app, nil
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			logger.Warn("cleanup error", zap.Error(err))
		}
	}

	// Flush logger buffers.
	logger.Sync()
}
