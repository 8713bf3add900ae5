package models

import (
	"encoding/json"
	"time"
)

// 嵌入提供方
const (
	ProviderCloudAPI   = "cloud-api"
	ProviderLocalAPI   = "local-api"
	ProviderLocalModel = "local-model"
)

// 分块策略。sentence/paragraph/semantic 仅作为配置保留，
// 当前与 fixed 共用同一滑动窗口算法。
const (
	StrategyFixed     = "fixed"
	StrategySentence  = "sentence"
	StrategyParagraph = "paragraph"
	StrategySemantic  = "semantic"
)

// 文档状态
const (
	DocumentStatusUploaded = "uploaded"
	DocumentStatusIndexed  = "indexed"
)

// 分块参数允许范围
const (
	MinChunkSize = 100
	MaxChunkSize = 10000
	MaxOverlap   = 1000
)

// KnowledgeBaseConfig 知识库配置
type KnowledgeBaseConfig struct {
	EmbeddingProvider  string  `json:"embeddingProvider"`
	EmbeddingModel     string  `json:"embeddingModel"`
	ChunkingStrategy   string  `json:"chunkingStrategy"`
	ChunkSize          int     `json:"chunkSize"`
	Overlap            int     `json:"overlap"`
	RetrievalTopK      int     `json:"retrievalTopK"`
	RetrievalThreshold float64 `json:"retrievalThreshold"`
}

// KnowledgeBase 知识库
type KnowledgeBase struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Name          string    `gorm:"size:200;not null" json:"name"`
	Description   string    `gorm:"type:text" json:"description,omitempty"`
	Config        string    `gorm:"type:json" json:"-"`
	DocumentCount int       `gorm:"default:0" json:"documentCount"`
	ChunkCount    int       `gorm:"default:0" json:"chunkCount"`
	CreateTime    time.Time `gorm:"column:create_time" json:"createdAt"`
	UpdateTime    time.Time `gorm:"column:update_time" json:"updatedAt"`
}

func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// GetConfig 反序列化知识库配置
func (kb *KnowledgeBase) GetConfig() KnowledgeBaseConfig {
	var cfg KnowledgeBaseConfig
	if kb.Config != "" {
		_ = json.Unmarshal([]byte(kb.Config), &cfg)
	}
	return cfg
}

// SetConfig 序列化知识库配置
func (kb *KnowledgeBase) SetConfig(cfg KnowledgeBaseConfig) {
	data, _ := json.Marshal(cfg)
	kb.Config = string(data)
}

// KnowledgeDocument 知识库文档
type KnowledgeDocument struct {
	ID              string    `gorm:"primaryKey;size:36" json:"documentId"`
	KnowledgeBaseID string    `gorm:"size:36;not null;index" json:"knowledgeBaseId"`
	Title           string    `gorm:"size:200;not null" json:"title"`
	Content         string    `gorm:"type:text;not null" json:"-"`
	FilePath        string    `gorm:"size:500" json:"-"`
	Status          string    `gorm:"size:20;default:uploaded" json:"status"`
	ChunkCount      int       `gorm:"default:0" json:"chunkCount"`
	Metadata        string    `gorm:"type:json" json:"-"`
	CreateTime      time.Time `gorm:"column:create_time" json:"createdAt"`
	UpdateTime      time.Time `gorm:"column:update_time" json:"updatedAt"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// KnowledgeChunk 知识块
type KnowledgeChunk struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	DocumentID string    `gorm:"size:36;not null;index" json:"documentId"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	ChunkIndex int       `gorm:"not null" json:"chunkIndex"`
	StartChar  int       `gorm:"default:0" json:"startChar"`
	EndChar    int       `gorm:"default:0" json:"endChar"`
	Metadata   string    `gorm:"type:json" json:"-"`
	CreateTime time.Time `gorm:"column:create_time" json:"createdAt"`
}

func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}

// SetMetadata 序列化并写入块元数据
func (c *KnowledgeChunk) SetMetadata(meta map[string]interface{}) {
	if len(meta) == 0 {
		c.Metadata = ""
		return
	}
	data, _ := json.Marshal(meta)
	c.Metadata = string(data)
}

// GetMetadata 反序列化块元数据
func (c *KnowledgeChunk) GetMetadata() map[string]interface{} {
	if c.Metadata == "" {
		return nil
	}
	var meta map[string]interface{}
	_ = json.Unmarshal([]byte(c.Metadata), &meta)
	return meta
}
