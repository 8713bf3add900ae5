package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/database"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/models"
)

// ChunkCache Redis分块缓存，减少重复索引时的数据库读放大
type ChunkCache struct {
	client   *redis.Client
	enabled  bool
	ttl      time.Duration
	hitStats *cacheHitStats
}

type cacheHitStats struct {
	hits   int64
	misses int64
	mu     sync.RWMutex
}

// NewChunkCache 创建分块缓存
func NewChunkCache() *ChunkCache {
	cfg := config.AppConfig
	if cfg == nil || !cfg.Redis.Enabled || database.RedisClient == nil {
		return &ChunkCache{enabled: false, hitStats: &cacheHitStats{}}
	}

	ttl := time.Duration(cfg.Redis.TTL) * time.Second
	if ttl == 0 {
		ttl = time.Hour
	}

	return &ChunkCache{
		client:   database.RedisClient,
		enabled:  true,
		ttl:      ttl,
		hitStats: &cacheHitStats{},
	}
}

func (c *ChunkCache) chunkKey(documentID, chunkID string) string {
	return fmt.Sprintf("chunk:%s:%s", documentID, chunkID)
}

func (c *ChunkCache) documentChunksKey(documentID string) string {
	return fmt.Sprintf("doc_chunks:%s", documentID)
}

// StoreChunk 缓存分块
func (c *ChunkCache) StoreChunk(ctx context.Context, chunk models.KnowledgeChunk) error {
	if !c.enabled || c.client == nil {
		return nil
	}

	key := c.chunkKey(chunk.DocumentID, chunk.ID)
	data := map[string]interface{}{
		"chunk_id":    chunk.ID,
		"document_id": chunk.DocumentID,
		"content":     chunk.Content,
		"chunk_index": chunk.ChunkIndex,
		"start_char":  chunk.StartChar,
		"end_char":    chunk.EndChar,
	}
	if chunk.Metadata != "" {
		data["metadata"] = chunk.Metadata
	}

	if err := c.client.HSet(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to store chunk to redis: %w", err)
	}
	if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
		logger.Warn("failed to set chunk TTL", zap.Error(err))
	}

	docKey := c.documentChunksKey(chunk.DocumentID)
	if err := c.client.SAdd(ctx, docKey, chunk.ID).Err(); err != nil {
		logger.Warn("failed to add chunk to document index", zap.Error(err))
	}
	if err := c.client.Expire(ctx, docKey, c.ttl).Err(); err != nil {
		logger.Warn("failed to set document index TTL", zap.Error(err))
	}

	return nil
}

// GetChunk 读取缓存的分块，未命中返回nil
func (c *ChunkCache) GetChunk(ctx context.Context, documentID, chunkID string) (*models.KnowledgeChunk, error) {
	if !c.enabled || c.client == nil {
		c.recordMiss()
		return nil, nil
	}

	data, err := c.client.HGetAll(ctx, c.chunkKey(documentID, chunkID)).Result()
	if err != nil {
		c.recordMiss()
		return nil, fmt.Errorf("failed to get chunk from redis: %w", err)
	}
	if len(data) == 0 {
		c.recordMiss()
		return nil, nil
	}

	c.recordHit()
	chunk := &models.KnowledgeChunk{
		ID:         data["chunk_id"],
		DocumentID: data["document_id"],
		Content:    data["content"],
		Metadata:   data["metadata"],
	}
	chunk.ChunkIndex, _ = strconv.Atoi(data["chunk_index"])
	chunk.StartChar, _ = strconv.Atoi(data["start_char"])
	chunk.EndChar, _ = strconv.Atoi(data["end_char"])
	return chunk, nil
}

// InvalidateDocument 删除文档的全部缓存分块
func (c *ChunkCache) InvalidateDocument(ctx context.Context, documentID string) error {
	if !c.enabled || c.client == nil {
		return nil
	}

	docKey := c.documentChunksKey(documentID)
	chunkIDs, err := c.client.SMembers(ctx, docKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached chunks: %w", err)
	}

	keys := make([]string, 0, len(chunkIDs)+1)
	for _, chunkID := range chunkIDs {
		keys = append(keys, c.chunkKey(documentID, chunkID))
	}
	keys = append(keys, docKey)

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cached chunks: %w", err)
	}
	return nil
}

// Stats 返回缓存命中统计
func (c *ChunkCache) Stats() map[string]interface{} {
	c.hitStats.mu.RLock()
	defer c.hitStats.mu.RUnlock()

	total := c.hitStats.hits + c.hitStats.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hitStats.hits) / float64(total)
	}

	return map[string]interface{}{
		"enabled":  c.enabled,
		"hits":     c.hitStats.hits,
		"misses":   c.hitStats.misses,
		"hit_rate": hitRate,
	}
}

func (c *ChunkCache) recordHit() {
	c.hitStats.mu.Lock()
	c.hitStats.hits++
	c.hitStats.mu.Unlock()
}

func (c *ChunkCache) recordMiss() {
	c.hitStats.mu.Lock()
	c.hitStats.misses++
	c.hitStats.mu.Unlock()
}
