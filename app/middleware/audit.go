package middleware

import (
	"time"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aihub/rag-backend/internal/logger"
)

const (
	// RequestIDKey 请求ID在上下文数据中的键
	RequestIDKey     = "request_id"
	requestStartKey  = "request_start"
	requestIDHeader  = "X-Request-Id"
	maxRequestIDSize = 128
)

// RequestID 为每个请求分配ID，客户端传入的ID优先
func RequestID() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		id := ctx.Input.Header(requestIDHeader)
		if id == "" || len(id) > maxRequestIDSize {
			id = uuid.NewString()
		}
		ctx.Input.SetData(RequestIDKey, id)
		ctx.Input.SetData(requestStartKey, time.Now())
		ctx.Output.Header(requestIDHeader, id)
	}
}

// GetRequestID 读取请求ID
func GetRequestID(ctx *beecontext.Context) string {
	if id, ok := ctx.Input.GetData(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// AccessLog 请求结束后记录访问日志，需配合 web.WithReturnOnOutput(false) 注册
func AccessLog() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		fields := []zap.Field{
			zap.String("method", ctx.Input.Method()),
			zap.String("path", ctx.Input.URL()),
			zap.Int("status", ctx.ResponseWriter.Status),
			zap.String("client_ip", ClientIP(ctx)),
			zap.String("request_id", GetRequestID(ctx)),
		}
		if started, ok := ctx.Input.GetData(requestStartKey).(time.Time); ok {
			fields = append(fields, zap.Duration("duration", time.Since(started)))
		}

		if ctx.ResponseWriter.Status >= 500 {
			logger.Warn("request completed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}
