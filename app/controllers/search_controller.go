package controllers

import (
	"net/http"
	"strconv"
)

// SearchController 关键词搜索控制器
type SearchController struct {
	BaseController
}

// Search 在单个知识库内做关键词检索。
// 全文索引未启用时返回空结果而不是错误。
func (c *SearchController) Search() {
	kbID, ok := c.requireParam(":id")
	if !ok {
		return
	}

	query := c.GetString("q")
	if query == "" {
		c.JSONError(http.StatusBadRequest, "q is required")
		return
	}

	limit, _ := strconv.Atoi(c.GetString("limit", "10"))
	if limit <= 0 {
		limit = 10
	}

	reg := getRegistry()
	if _, err := reg.KnowledgeBases.Get(c.Ctx.Request.Context(), kbID); err != nil {
		c.handleError(err)
		return
	}

	matches, err := reg.Engine.KeywordSearch(c.Ctx.Request.Context(), kbID, query, limit)
	if err != nil {
		c.handleError(err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"knowledgeBaseId": kbID,
		"query":           query,
		"matches":         matches,
	})
}
