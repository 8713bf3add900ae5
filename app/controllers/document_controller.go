package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/aihub/knowledge-go/internal/services"
)

// DocumentController 文档控制器
type DocumentController struct {
	BaseController
}

// Upload 上传文档并按知识库配置分块
func (c *DocumentController) Upload() {
	kbID, ok := c.requireParam(":id")
	if !ok {
		return
	}

	var req services.UploadDocumentRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := getRegistry().Documents.Upload(c.Ctx.Request.Context(), kbID, req)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusCreated, map[string]interface{}{
		"document": doc,
	})
}

// List 列出知识库下的文档
func (c *DocumentController) List() {
	kbID, ok := c.requireParam(":id")
	if !ok {
		return
	}

	docs, err := getRegistry().Documents.List(c.Ctx.Request.Context(), kbID)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"knowledgeBaseId": kbID,
		"documents":       docs,
	})
}

// Get 获取单个文档
func (c *DocumentController) Get() {
	kbID, ok := c.requireParam(":id")
	if !ok {
		return
	}
	docID, ok := c.requireParam(":doc_id")
	if !ok {
		return
	}

	doc, err := getRegistry().Documents.Get(c.Ctx.Request.Context(), kbID, docID)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"document": doc,
	})
}

// Delete 删除文档及其分块与向量
func (c *DocumentController) Delete() {
	kbID, ok := c.requireParam(":id")
	if !ok {
		return
	}
	docID, ok := c.requireParam(":doc_id")
	if !ok {
		return
	}

	if err := getRegistry().Documents.Delete(c.Ctx.Request.Context(), kbID, docID); err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"message":    "document deleted",
		"documentId": docID,
	})
}
