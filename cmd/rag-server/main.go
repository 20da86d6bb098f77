package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/aihub/rag-backend/app/bootstrap"
	"github.com/aihub/rag-backend/app/controllers"
	"github.com/aihub/rag-backend/app/middleware"
	"github.com/aihub/rag-backend/app/router"
	"github.com/aihub/rag-backend/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	cfg := app.Config
	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		logger.Fatal("invalid server port", zap.String("port", cfg.Server.Port))
	}

	// 配置Beego全局设置
	web.BConfig.AppName = cfg.App.Name
	web.BConfig.CopyRequestBody = true
	web.BConfig.MaxUploadSize = cfg.Knowledge.MaxUploadBytes
	web.BConfig.Listen.HTTPPort = port
	if cfg.App.Env == "production" {
		web.BConfig.RunMode = web.PROD
	}

	proxies, err := middleware.NewProxyTrust(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Fatal("invalid trusted proxies", zap.Error(err))
	}
	opts := router.Options{EnableCORS: true, AccessLog: true, ProxyTrust: proxies}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		opts.RateLimiter = middleware.NewRateLimiter(rl.Requests, rl.Window)
	}
	if cfg.Monitor.Enabled {
		opts.MetricsPath = cfg.Monitor.MetricsPath
		opts.MetricsHandler = app.Metrics.Handler()
	}
	if err := router.Init(controllers.NewControllerFactory(app.Container), opts); err != nil {
		logger.Fatal("failed to register routes", zap.Error(err))
	}

	logger.Info("starting rag server", zap.Int("port", port))
	web.Run()
}
