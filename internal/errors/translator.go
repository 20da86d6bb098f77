package errors

import (
	"context"
	stderrors "errors"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorTranslator 错误转换器
type ErrorTranslator struct{}

// NewErrorTranslator 创建错误转换器
func NewErrorTranslator() *ErrorTranslator {
	return &ErrorTranslator{}
}

// Translate 将各种类型的错误转换为AppError
func (t *ErrorTranslator) Translate(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		// 存储不可达、维度冲突无论被哪一层包装，都按根因返回
		for _, cause := range rootCauses {
			if root := findCause(err, cause); root != nil {
				return GetAppError(root)
			}
		}
		return GetAppError(appErr)
	}

	var validationErrors validator.ValidationErrors
	if stderrors.As(err, &validationErrors) {
		return t.translateValidationErrors(validationErrors)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return NewExternalError(ErrCodeExternalService, "Network error").WithCause(err)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewExternalError(ErrCodeExternalService, "Operation timed out").WithCause(err)
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

// rootCauses 优先于外层包装错误的错误码，按优先级排列
var rootCauses = []*AppError{ErrStoreUnavailable, ErrDimensionMismatch}

// findCause 沿错误链查找与 target 同码的 AppError
func findCause(err error, target *AppError) *AppError {
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		if appErr, ok := e.(*AppError); ok && appErr.Is(target) {
			return appErr
		}
	}
	return nil
}

// translateValidationErrors 转换验证错误，消息取第一条，全部字段放入详情
func (t *ErrorTranslator) translateValidationErrors(validationErrors validator.ValidationErrors) *AppError {
	details := make([]map[string]interface{}, 0, len(validationErrors))
	messages := make([]string, 0, len(validationErrors))

	for _, fieldError := range validationErrors {
		msg := t.getValidationErrorMessage(fieldError)
		messages = append(messages, msg)
		details = append(details, map[string]interface{}{
			"field":   fieldError.Field(),
			"tag":     fieldError.Tag(),
			"message": msg,
		})
	}

	message := "Validation failed"
	if len(messages) > 0 {
		message = messages[0]
	}

	return NewValidationError(message).WithDetails(map[string]interface{}{
		"errors": details,
	})
}

// getValidationErrorMessage 获取验证错误消息
func (t *ErrorTranslator) getValidationErrorMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()

	switch fieldError.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fieldError.Param() + " characters"
	case "max":
		return field + " must be at most " + fieldError.Param() + " characters"
	case "url", "http_url":
		return field + " must be a valid http(s) URL"
	case "startswith":
		return field + " must start with " + fieldError.Param()
	case "oneof":
		return field + " must be one of: " + strings.ReplaceAll(fieldError.Param(), " ", ", ")
	case "lte":
		return field + " must be less than or equal to " + fieldError.Param()
	default:
		return field + " is invalid"
	}
}
