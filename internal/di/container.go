package di

import (
	"errors"
	"fmt"

	"go.uber.org/dig"

	"github.com/aihub/rag-backend/internal/config"
	"github.com/aihub/rag-backend/internal/services"
)

// Container 进程级容器，由 InitContainer 或 Build 设置
var Container *dig.Container

// InitContainer 初始化依赖注入容器
func InitContainer() *dig.Container {
	Container = dig.New()
	return Container
}

// Build 创建容器并注册配置、日志、指标、事件发布与服务工厂
func Build(cfg *config.Config, opts ...services.FactoryOption) (*dig.Container, error) {
	container := InitContainer()
	if err := RegisterProviders(container, cfg, opts...); err != nil {
		return nil, fmt.Errorf("register providers: %w", err)
	}
	return container, nil
}

// Invoke 在进程级容器上执行函数
func Invoke(function interface{}, opts ...dig.InvokeOption) error {
	if Container == nil {
		return errors.New("di container not initialized")
	}
	return Container.Invoke(function, opts...)
}
