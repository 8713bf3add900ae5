package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/aihub/knowledge-go/internal/services"
)

// RAGController 检索增强问答控制器
type RAGController struct {
	BaseController
}

// Query 执行RAG问答
func (c *RAGController) Query() {
	var req services.RAGQueryRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := getRegistry().RAG.Query(c.Ctx.Request.Context(), req)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
