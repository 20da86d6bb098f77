package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer  ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"

	// 验证错误（只在请求层产生，不会进入核心流程）
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired   ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidFileFormat ErrorCode = "INVALID_FILE_FORMAT"
	ErrCodeFileTooLarge      ErrorCode = "FILE_TOO_LARGE"

	// 向量存储错误
	ErrCodeStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"

	// 检索流水线错误
	ErrCodeIndexingFailed   ErrorCode = "INDEXING_FAILED"
	ErrCodeRetrievalFailed  ErrorCode = "RETRIEVAL_FAILED"
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"

	// 外部服务错误
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// 哨兵错误，配合 errors.Is 按错误码匹配
var (
	ErrValidation        = &AppError{Code: ErrCodeValidationFailed}
	ErrStoreUnavailable  = &AppError{Code: ErrCodeStoreUnavailable}
	ErrDimensionMismatch = &AppError{Code: ErrCodeDimensionMismatch}
	ErrIndexingFailed    = &AppError{Code: ErrCodeIndexingFailed}
	ErrRetrievalFailed   = &AppError{Code: ErrCodeRetrievalFailed}
	ErrGenerationFailed  = &AppError{Code: ErrCodeGenerationFailed}
)

// AppError 应用错误结构体
type AppError struct {
	Code      ErrorCode   `json:"code"`
	Message   string      `json:"message"`
	Type      ErrorType   `json:"type"`
	HTTPCode  int         `json:"-"`
	Details   interface{} `json:"details,omitempty"`
	Cause     error       `json:"-"`
	RequestID string      `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较，使包装链中的任意一层都能被识别
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithRequestID 添加请求ID
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: getHTTPCodeForError(code),
	}
}

// NewExternalError 创建外部服务错误
func NewExternalError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: getHTTPCodeForError(code),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(field, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("Invalid input for field '%s': %s", field, reason),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewUnsupportedFileError 创建不支持的文件类型错误
func NewUnsupportedFileError(mimeType string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidFileFormat,
		Message:  fmt.Sprintf("Unsupported file type: %s", mimeType),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusUnsupportedMediaType,
	}
}

// NewFileTooLargeError 创建文件过大错误
func NewFileTooLargeError(limit int64) *AppError {
	return &AppError{
		Code:     ErrCodeFileTooLarge,
		Message:  fmt.Sprintf("File exceeds the maximum upload size of %d bytes", limit),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusRequestEntityTooLarge,
	}
}

// NewRateLimitError 创建限流错误
func NewRateLimitError() *AppError {
	return &AppError{
		Code:     ErrCodeTooManyRequests,
		Message:  "Rate limit exceeded",
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusTooManyRequests,
	}
}

// StoreUnavailable 向量库不可达或集合操作失败（可重试）
func StoreUnavailable(op string, cause error) *AppError {
	return NewExternalError(ErrCodeStoreUnavailable, fmt.Sprintf("vector store %s failed", op)).WithCause(cause)
}

// DimensionMismatch 向量维度与集合配置不一致
func DimensionMismatch(expected, actual int) *AppError {
	return NewSystemError(ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding dimension %d does not match collection dimension %d", actual, expected)).
		WithDetails(map[string]int{"expected": expected, "actual": actual})
}

// IndexingFailed 索引批次失败，批次内没有任何分块被保留
func IndexingFailed(sourceID string, cause error) *AppError {
	return NewSystemError(ErrCodeIndexingFailed, fmt.Sprintf("indexing %q failed", sourceID)).WithCause(cause)
}

// RetrievalFailed 检索阶段（向量化或相似度搜索）失败
func RetrievalFailed(cause error) *AppError {
	return NewExternalError(ErrCodeRetrievalFailed, "retrieval failed").WithCause(cause)
}

// GenerationFailed 生成阶段失败
func GenerationFailed(cause error) *AppError {
	return NewExternalError(ErrCodeGenerationFailed, "answer generation failed").WithCause(cause)
}

// getHTTPCodeForError 根据错误码获取HTTP状态码
func getHTTPCodeForError(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeMissingRequired, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeInvalidFileFormat:
		return http.StatusUnsupportedMediaType
	case ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeDimensionMismatch:
		return http.StatusConflict
	case ErrCodeRetrievalFailed, ErrCodeGenerationFailed, ErrCodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError 检查错误链中是否包含AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取错误链中最外层的AppError，如果没有则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if appErr.HTTPCode == 0 {
			appErr.HTTPCode = getHTTPCodeForError(appErr.Code)
		}
		return appErr
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

// getErrorTypeString 获取错误类型字符串
func getErrorTypeString(errorType ErrorType) string {
	switch errorType {
	case ErrorTypeSystem:
		return "system"
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "unknown"
	}
}
