package errors

import (
	"go.uber.org/zap"
)

// ErrorLogger 错误日志器，按错误类型选择日志级别
type ErrorLogger struct {
	logger *zap.Logger
}

// NewErrorLogger 创建错误日志器
func NewErrorLogger(logger *zap.Logger) *ErrorLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorLogger{logger: logger}
}

// LogError 记录错误
func (el *ErrorLogger) LogError(err error, fields ...zap.Field) {
	if err == nil {
		return
	}

	appErr := GetAppError(err)

	logFields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_type", getErrorTypeString(appErr.Type)),
		zap.Int("http_code", appErr.HTTPCode),
	}
	if appErr.RequestID != "" {
		logFields = append(logFields, zap.String("request_id", appErr.RequestID))
	}
	if appErr.Cause != nil {
		logFields = append(logFields, zap.NamedError("cause", appErr.Cause))
	}
	logFields = append(logFields, fields...)

	switch appErr.Type {
	case ErrorTypeValidation:
		el.logger.Info(appErr.Message, logFields...)
	case ErrorTypeExternal, ErrorTypeBusiness:
		el.logger.Warn(appErr.Message, logFields...)
	default:
		el.logger.Error(appErr.Message, append(logFields, zap.Stack("stack"))...)
	}
}
