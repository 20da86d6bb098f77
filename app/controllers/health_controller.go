package controllers

import (
	"github.com/aihub/rag-backend/internal/config"
	"github.com/aihub/rag-backend/internal/services"
)

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
	Config  *config.Config
	Factory *services.Factory
}

// Health GET /health
func (c *HealthController) Health() {
	info := map[string]interface{}{"status": "healthy"}
	if c.Config != nil {
		info["service"] = c.Config.App.Name
		info["version"] = c.Config.App.Version
		info["vectorStore"] = c.Config.VectorStore.Provider
	}
	if c.Factory != nil {
		if breakers := c.Factory.BreakerStats(); len(breakers) > 0 {
			info["breakers"] = breakers
		}
	}
	c.JSONSuccess(info)
}
