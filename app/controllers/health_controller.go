package controllers

import (
	"net/http"
	"time"

	"github.com/aihub/knowledge-go/internal/database"
)

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
}

// Health 返回服务与依赖组件的健康状态
func (c *HealthController) Health() {
	components := map[string]string{
		"database":    "down",
		"vectorStore": "down",
		"redis":       "disabled",
	}

	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil && sqlDB.Ping() == nil {
			components["database"] = "up"
		}
	}
	if reg := getRegistry(); reg != nil && reg.Engine != nil && reg.Engine.Ready() {
		components["vectorStore"] = "up"
	}
	if database.RedisClient != nil {
		components["redis"] = "down"
		if err := database.RedisClient.Ping(c.Ctx.Request.Context()).Err(); err == nil {
			components["redis"] = "up"
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if components["database"] != "up" {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, map[string]interface{}{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// RootController 根路径控制器
type RootController struct {
	BaseController
}

// Index 返回服务信息
func (c *RootController) Index() {
	c.JSON(http.StatusOK, map[string]interface{}{
		"service": "knowledge-service",
		"status":  "running",
	})
}
