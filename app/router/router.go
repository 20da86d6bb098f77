package router

import (
	"net/http"

	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/rag-backend/app/controllers"
	"github.com/aihub/rag-backend/app/middleware"
)

// Options 路由注册选项
type Options struct {
	MetricsPath    string
	MetricsHandler http.Handler
	EnableCORS     bool
	// RateLimiter 非空时对 /api 接口按IP限流
	RateLimiter *middleware.RateLimiter
	// ProxyTrust 为空时忽略 X-Forwarded-For，客户端IP取直连地址
	ProxyTrust *middleware.ProxyTrust
	AccessLog  bool
}

// BuildRAGRoutes 构建RAG接口路由组
func BuildRAGRoutes() *RouteGroup {
	api := NewRouteGroup("/api")
	api.POST("/index-text", "IndexText", "索引文本")
	api.POST("/index-website", "IndexWebsite", "抓取并索引网页")
	api.POST("/index-file", "IndexFile", "上传并索引文件")
	api.POST("/chat", "Chat", "基于知识库问答")
	api.DELETE("/delete-index", "DeleteIndex", "清空知识库")
	api.GET("/rag-store", "RAGStore", "知识库统计")
	return api
}

// Register 将所有路由注册到h
func Register(h *web.ControllerRegister, factory *controllers.ControllerFactory, opts Options) error {
	if err := h.InsertFilter("/*", web.BeforeRouter, middleware.ClientIPResolver(opts.ProxyTrust)); err != nil {
		return err
	}
	if err := h.InsertFilter("/*", web.BeforeRouter, middleware.RequestID()); err != nil {
		return err
	}
	if err := h.InsertFilter("/*", web.BeforeRouter, middleware.SecurityHeaders()); err != nil {
		return err
	}
	if opts.EnableCORS {
		if err := h.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware); err != nil {
			return err
		}
	}
	if opts.RateLimiter != nil {
		if err := h.InsertFilter("/api/*", web.BeforeRouter, middleware.RateLimit(opts.RateLimiter)); err != nil {
			return err
		}
	}
	if opts.AccessLog {
		if err := h.InsertFilter("/*", web.FinishRouter, middleware.AccessLog(), web.WithReturnOnOutput(false)); err != nil {
			return err
		}
	}

	health, err := factory.CreateHealthController()
	if err != nil {
		return err
	}
	h.Add("/health", health, web.WithRouterMethods(health, "get:Health"))

	if opts.MetricsHandler != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		h.Handler(path, opts.MetricsHandler)
	}

	rag, err := factory.CreateRAGController()
	if err != nil {
		return err
	}
	return BuildRAGRoutes().Mount(h, rag)
}

// Init registers all routes on the default Beego application.
func Init(factory *controllers.ControllerFactory, opts Options) error {
	return Register(web.BeeApp.Handlers, factory, opts)
}
