package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/beego/beego/v2/server/web"

	apperrors "github.com/aihub/rag-backend/internal/errors"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes the error envelope for appErr; details are only exposed for validation errors.
func (c *BaseController) JSONError(appErr *apperrors.AppError) {
	payload := map[string]interface{}{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	}
	if appErr.Details != nil && appErr.Type == apperrors.ErrorTypeValidation {
		payload["details"] = appErr.Details
	}
	c.JSON(appErr.HTTPCode, payload)
}

// decodeJSON 解析请求体，未开启CopyRequestBody时直接读取Body
func (c *BaseController) decodeJSON(v interface{}) error {
	body := c.Ctx.Input.RequestBody
	if len(body) == 0 && c.Ctx.Request.Body != nil {
		var err error
		body, err = io.ReadAll(c.Ctx.Request.Body)
		if err != nil {
			return err
		}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
