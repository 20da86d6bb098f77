package controllers

import (
	"go.uber.org/dig"

	"github.com/aihub/rag-backend/internal/config"
	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/services"
)

// ControllerFactory 控制器工厂
type ControllerFactory struct {
	container *dig.Container
}

// NewControllerFactory 创建控制器工厂
func NewControllerFactory(container *dig.Container) *ControllerFactory {
	return &ControllerFactory{
		container: container,
	}
}

// CreateRAGController 创建RAG控制器
func (f *ControllerFactory) CreateRAGController() (*RAGController, error) {
	var deps Dependencies

	err := f.container.Invoke(func(
		cfg *config.Config,
		factory *services.Factory,
		monitor *apperrors.ErrorMonitor,
		translator *apperrors.ErrorTranslator,
		errLogger *apperrors.ErrorLogger,
	) {
		deps = Dependencies{
			Config:     cfg,
			Factory:    factory,
			Monitor:    monitor,
			Translator: translator,
			ErrLogger:  errLogger,
		}
	})

	if err != nil {
		return nil, err
	}

	return NewRAGController(&deps), nil
}

// CreateHealthController 创建健康检查控制器
func (f *ControllerFactory) CreateHealthController() (*HealthController, error) {
	var (
		cfg     *config.Config
		factory *services.Factory
	)

	err := f.container.Invoke(func(c *config.Config, s *services.Factory) {
		cfg = c
		factory = s
	})

	if err != nil {
		return nil, err
	}

	return &HealthController{Config: cfg, Factory: factory}, nil
}
