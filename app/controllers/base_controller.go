package controllers

import (
	"net/http"

	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/services"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// Registry 持有控制器依赖的服务。Beego每次请求都会重建控制器实例，
// 依赖必须通过包级注册表获取而不是构造注入。
type Registry struct {
	KnowledgeBases *services.KnowledgeBaseService
	Documents      *services.DocumentService
	RAG            *services.RAGService
	Metrics        *services.MetricsService
	Engine         *knowledge.RetrievalEngine
}

var registry *Registry

// RegisterServices 在路由注册前安装服务依赖
func RegisterServices(r *Registry) {
	registry = r
}

func getRegistry() *Registry {
	return registry
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// handleError maps AppError taxonomy onto HTTP status codes.
func (c *BaseController) handleError(err error) {
	appErr := errors.GetAppError(err)
	c.JSON(appErr.HTTPCode, map[string]interface{}{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	})
}

// requireParam 读取路径参数，缺失时返回400
func (c *BaseController) requireParam(key string) (string, bool) {
	value := c.Ctx.Input.Param(key)
	if value == "" {
		c.JSONError(http.StatusBadRequest, "missing required path parameter")
		return "", false
	}
	return value, true
}
