package controllers

import (
	"context"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aihub/rag-backend/app/middleware"
	"github.com/aihub/rag-backend/internal/config"
	apperrors "github.com/aihub/rag-backend/internal/errors"
	"github.com/aihub/rag-backend/internal/services"
)

// Dependencies RAG控制器依赖
type Dependencies struct {
	Config     *config.Config
	Factory    *services.Factory
	Monitor    *apperrors.ErrorMonitor
	Translator *apperrors.ErrorTranslator
	ErrLogger  *apperrors.ErrorLogger
	Validate   *validator.Validate
}

// RAGController 知识库索引与问答接口
type RAGController struct {
	BaseController
	Deps *Dependencies
}

// NewRAGController 创建RAG控制器
func NewRAGController(deps *Dependencies) *RAGController {
	if deps.Validate == nil {
		deps.Validate = validator.New()
	}
	if deps.Translator == nil {
		deps.Translator = apperrors.NewErrorTranslator()
	}
	if deps.ErrLogger == nil {
		deps.ErrLogger = apperrors.NewErrorLogger(nil)
	}
	return &RAGController{Deps: deps}
}

type indexTextRequest struct {
	Text   string `json:"text" validate:"required,min=10"`
	APIKey string `json:"apiKey" validate:"required,startswith=sk-"`
}

type indexWebsiteRequest struct {
	URL    string `json:"url" validate:"required,http_url"`
	APIKey string `json:"apiKey" validate:"required,startswith=sk-"`
}

type chatRequest struct {
	Query  string `json:"query" validate:"required"`
	APIKey string `json:"apiKey" validate:"required,startswith=sk-"`
}

type deleteIndexRequest struct {
	APIKey string `json:"apiKey" validate:"required,startswith=sk-"`
}

type uploadRequest struct {
	APIKey string `validate:"required,startswith=sk-"`
}

type qdrantHeaders struct {
	QdrantURL string `validate:"omitempty,http_url"`
}

func (c *RAGController) requestContext() context.Context {
	return c.Ctx.Request.Context()
}

// fail 统一错误响应并记录错误指标
func (c *RAGController) fail(err error, started time.Time) {
	appErr := c.Deps.Translator.Translate(err)
	if id := middleware.GetRequestID(c.Ctx); id != "" {
		appErr = appErr.WithRequestID(id)
	}
	endpoint := c.Ctx.Input.URL()
	if c.Deps.Monitor != nil {
		c.Deps.Monitor.RecordError(appErr, endpoint, time.Since(started))
	}
	c.Deps.ErrLogger.LogError(appErr,
		zap.String("endpoint", endpoint),
		zap.String("client_ip", middleware.ClientIP(c.Ctx)))

	c.JSONError(appErr)
}

// bind 解析并校验JSON请求体
func (c *RAGController) bind(req interface{}) error {
	if err := c.decodeJSON(req); err != nil {
		return apperrors.NewValidationError("Invalid JSON body").WithCause(err)
	}
	return c.validate(req)
}

func (c *RAGController) validate(req interface{}) error {
	if err := c.Deps.Validate.Struct(req); err != nil {
		return c.Deps.Translator.Translate(err)
	}
	return nil
}

// service 根据请求凭据创建服务，请求头中的Qdrant配置优先
func (c *RAGController) service(apiKey string) (*services.RAGService, error) {
	headers := qdrantHeaders{QdrantURL: strings.TrimSpace(c.Ctx.Input.Header("X-Qdrant-Url"))}
	if err := c.validate(&headers); err != nil {
		return nil, err
	}
	return c.Deps.Factory.New(services.Credentials{
		OpenAIAPIKey: apiKey,
		QdrantURL:    headers.QdrantURL,
		QdrantAPIKey: strings.TrimSpace(c.Ctx.Input.Header("X-Qdrant-Api-Key")),
	}), nil
}

// IndexText POST /api/index-text
func (c *RAGController) IndexText() {
	started := time.Now()

	var req indexTextRequest
	if err := c.bind(&req); err != nil {
		c.fail(err, started)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.fail(apperrors.NewValidationError("No text provided"), started)
		return
	}
	if limit := c.Deps.Config.Knowledge.MaxTextChars; utf8.RuneCountInString(req.Text) > limit {
		c.fail(apperrors.NewInvalidInputError("text", "text exceeds the maximum length"), started)
		return
	}

	svc, err := c.service(req.APIKey)
	if err != nil {
		c.fail(err, started)
		return
	}
	defer svc.Close()

	chunks, err := svc.IndexText(c.requestContext(), req.Text, "")
	if err != nil {
		c.fail(err, started)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Text indexed successfully",
		"chunks":  chunks,
	})
}

// IndexWebsite POST /api/index-website
func (c *RAGController) IndexWebsite() {
	started := time.Now()

	var req indexWebsiteRequest
	if err := c.bind(&req); err != nil {
		c.fail(err, started)
		return
	}

	svc, err := c.service(req.APIKey)
	if err != nil {
		c.fail(err, started)
		return
	}
	defer svc.Close()

	chunks, err := svc.IndexURL(c.requestContext(), req.URL)
	if err != nil {
		c.fail(err, started)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Website content indexed successfully",
		"chunks":  chunks,
		"url":     req.URL,
	})
}

// IndexFile POST /api/index-file
func (c *RAGController) IndexFile() {
	started := time.Now()

	file, header, err := c.GetFile("file")
	if err != nil || file == nil {
		c.fail(apperrors.NewValidationError("No file provided"), started)
		return
	}
	defer file.Close()

	apiKey := c.Ctx.Input.Header("X-Api-Key")
	if apiKey == "" {
		apiKey = c.GetString("apiKey")
	}
	if err := c.validate(&uploadRequest{APIKey: apiKey}); err != nil {
		c.fail(err, started)
		return
	}

	if limit := c.Deps.Config.Knowledge.MaxUploadBytes; header.Size > limit {
		c.fail(apperrors.NewFileTooLargeError(limit), started)
		return
	}

	mimeType := detectMIME(header)
	parsers := c.Deps.Factory.Parsers()
	if !parsers.Supports(mimeType) {
		c.fail(parsers.UnsupportedError(mimeType), started)
		return
	}

	svc, err := c.service(apiKey)
	if err != nil {
		c.fail(err, started)
		return
	}
	defer svc.Close()

	filename := filepath.Base(header.Filename)
	var chunks int
	err = services.WithTempFile(file, filename, func(path string) error {
		var indexErr error
		chunks, indexErr = svc.IndexFile(c.requestContext(), path, filename, mimeType)
		return indexErr
	})
	if err != nil {
		c.fail(err, started)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "File indexed successfully",
		"chunks":   chunks,
		"filename": filename,
	})
}

// detectMIME 优先使用上传时声明的类型，缺失时按扩展名推断
func detectMIME(header *multipart.FileHeader) string {
	declared := header.Header.Get("Content-Type")
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename))); byExt != "" {
		return byExt
	}
	return declared
}

// Chat POST /api/chat
func (c *RAGController) Chat() {
	started := time.Now()

	var req chatRequest
	if err := c.bind(&req); err != nil {
		c.fail(err, started)
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.fail(apperrors.NewValidationError("No query provided"), started)
		return
	}

	svc, err := c.service(req.APIKey)
	if err != nil {
		c.fail(err, started)
		return
	}
	defer svc.Close()

	answer, err := svc.Query(c.requestContext(), query)
	if err != nil {
		c.fail(err, started)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"response": answer.Text,
		"query":    req.Query,
		"outcome":  answer.Outcome,
		"sources":  answer.Sources,
	})
}

// DeleteIndex DELETE /api/delete-index
func (c *RAGController) DeleteIndex() {
	started := time.Now()

	var req deleteIndexRequest
	if err := c.bind(&req); err != nil {
		c.fail(err, started)
		return
	}

	svc, err := c.service(req.APIKey)
	if err != nil {
		c.fail(err, started)
		return
	}
	defer svc.Close()

	if err := svc.PurgeAll(c.requestContext()); err != nil {
		c.fail(err, started)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "All indexed data deleted successfully",
	})
}

// RAGStore GET /api/rag-store
func (c *RAGController) RAGStore() {
	started := time.Now()

	svc, err := c.service("")
	if err != nil {
		c.fail(err, started)
		return
	}
	defer svc.Close()

	limit, _ := c.GetInt("limit", 0)
	summary, err := svc.Inventory(c.requestContext(), limit)
	if err != nil {
		c.fail(err, started)
		return
	}
	if summary.Sources == nil {
		summary.Sources = []services.SourceSummary{}
	}

	c.JSON(http.StatusOK, summary)
}
