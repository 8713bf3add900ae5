package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/aihub/knowledge-go/internal/services"
)

// KnowledgeBaseController 知识库控制器
type KnowledgeBaseController struct {
	BaseController
}

// Create 创建知识库
func (c *KnowledgeBaseController) Create() {
	var req services.CreateKnowledgeBaseRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	kb, err := getRegistry().KnowledgeBases.Create(c.Ctx.Request.Context(), req)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusCreated, map[string]interface{}{
		"knowledgeBase": kb,
	})
}

// List 获取知识库列表
func (c *KnowledgeBaseController) List() {
	kbs, err := getRegistry().KnowledgeBases.List(c.Ctx.Request.Context())
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"knowledgeBases": kbs,
	})
}

// Get 获取知识库详情
func (c *KnowledgeBaseController) Get() {
	id, ok := c.requireParam(":id")
	if !ok {
		return
	}

	kb, err := getRegistry().KnowledgeBases.Get(c.Ctx.Request.Context(), id)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"knowledgeBase": kb,
	})
}

// Update 更新知识库，未出现的字段保持原值
func (c *KnowledgeBaseController) Update() {
	id, ok := c.requireParam(":id")
	if !ok {
		return
	}

	var req services.UpdateKnowledgeBaseRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	kb, err := getRegistry().KnowledgeBases.Update(c.Ctx.Request.Context(), id, req)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"knowledgeBase": kb,
	})
}

// Delete 删除知识库及其全部文档、分块与向量集合
func (c *KnowledgeBaseController) Delete() {
	id, ok := c.requireParam(":id")
	if !ok {
		return
	}

	result, err := getRegistry().Documents.PurgeKnowledgeBase(c.Ctx.Request.Context(), id)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"message":          "knowledge base deleted",
		"documentsDeleted": result.DocumentsDeleted,
		"chunksDeleted":    result.ChunksDeleted,
	})
}

// Index 为知识库中的指定文档建立向量索引
func (c *KnowledgeBaseController) Index() {
	id, ok := c.requireParam(":id")
	if !ok {
		return
	}

	var req struct {
		DocumentID string `json:"documentId"`
	}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil || req.DocumentID == "" {
		c.JSONError(http.StatusBadRequest, "documentId is required")
		return
	}

	result, err := getRegistry().Documents.Index(c.Ctx.Request.Context(), id, req.DocumentID)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"message":         "document indexed",
		"documentId":      result.DocumentID,
		"knowledgeBaseId": id,
		"chunksIndexed":   result.ChunksIndexed,
	})
}
