package di

import (
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/rag-backend/internal/config"
	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/kafka"
	"github.com/aihub/rag-backend/internal/logger"
	"github.com/aihub/rag-backend/internal/metrics"
	"github.com/aihub/rag-backend/internal/services"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, cfg *config.Config, opts ...services.FactoryOption) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	// 注册配置
	if err := container.Provide(func() *config.Config { return cfg }); err != nil {
		return err
	}

	if err := container.Provide(logger.GetLogger); err != nil {
		return err
	}

	// 注册指标
	if err := container.Provide(metrics.NewCollector); err != nil {
		return err
	}

	// 注册错误处理组件
	if err := container.Provide(func(c *metrics.Collector) *apperrors.ErrorMonitor {
		return apperrors.NewErrorMonitor(c.Registry())
	}); err != nil {
		return err
	}

	if err := container.Provide(apperrors.NewErrorTranslator); err != nil {
		return err
	}

	if err := container.Provide(apperrors.NewErrorLogger); err != nil {
		return err
	}

	// 注册事件发布者，Kafka不可用时不阻塞启动
	if err := container.Provide(newEventPublisher); err != nil {
		return err
	}

	// 注册服务工厂
	if err := container.Provide(func(cfg *config.Config, c *metrics.Collector, p kafka.EventPublisher) *services.Factory {
		return services.NewFactory(cfg, c, p, opts...)
	}); err != nil {
		return err
	}

	return nil
}

func newEventPublisher(cfg *config.Config) kafka.EventPublisher {
	if !cfg.Queue.Enabled || len(cfg.Queue.Kafka.Brokers) == 0 {
		return kafka.NoopPublisher{}
	}
	publisher, err := kafka.NewPublisher(cfg.Queue.Kafka.Brokers, cfg.Queue.Kafka.Topic)
	if err != nil {
		logger.Warn("failed to initialize kafka publisher, events disabled", zap.Error(err))
		return kafka.NoopPublisher{}
	}
	return publisher
}
