package middleware

import (
	"net/http"

	"github.com/beego/beego/v2/server/web/context"
)

const (
	allowedMethods = "GET, POST, DELETE, OPTIONS"
	allowedHeaders = "Content-Type, Authorization, X-Requested-With, Accept, Origin, X-Api-Key, X-Qdrant-Url, X-Qdrant-Api-Key"
)

// CORSMiddleware CORS中间件
func CORSMiddleware(ctx *context.Context) {
	origin := ctx.Input.Header("Origin")
	if origin != "" {
		ctx.Output.Header("Access-Control-Allow-Origin", origin)
		ctx.Output.Header("Vary", "Origin")
	}

	ctx.Output.Header("Access-Control-Allow-Methods", allowedMethods)
	ctx.Output.Header("Access-Control-Allow-Headers", allowedHeaders)
	ctx.Output.Header("Access-Control-Allow-Credentials", "true")
	ctx.Output.Header("Access-Control-Max-Age", "3600")

	// 处理OPTIONS预检请求
	if ctx.Input.Method() == http.MethodOptions {
		ctx.Output.SetStatus(http.StatusNoContent)
		_ = ctx.Output.Body([]byte(""))
	}
}
