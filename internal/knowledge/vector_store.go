package knowledge

import (
	"context"
	stderrors "errors"
)

// ErrCollectionNotFound 集合不存在。删除路径将其视为no-op，由调用方决定是否吞掉。
var ErrCollectionNotFound = stderrors.New("vector collection not found")

// CollectionInfo 集合级元数据，创建集合时与知识库绑定，
// 保证重新打开时使用一致的嵌入配置。
type CollectionInfo struct {
	KnowledgeBaseID   string
	KnowledgeBaseName string
	EmbeddingProvider string
	EmbeddingModel    string
	Dimensions        int
}

// VectorChunk 存储向量信息
type VectorChunk struct {
	ChunkID         string
	DocumentID      string
	KnowledgeBaseID string
	Content         string
	ChunkIndex      int
	StartChar       int
	EndChar         int
	Metadata        map[string]interface{}
	Embedding       []float32
}

// VectorSearchRequest 向量检索请求
type VectorSearchRequest struct {
	KnowledgeBaseID string
	QueryEmbedding  []float32
	Limit           int
	// Filter 精确匹配的元数据约束（如 document_id）
	Filter map[string]interface{}
}

// SearchMatch 向量检索结果。Distance为余弦距离，相似度换算由检索引擎负责。
type SearchMatch struct {
	ChunkID    string
	DocumentID string
	Content    string
	ChunkIndex int
	Distance   float64
	Metadata   map[string]interface{}
}

// VectorStore 向量存储抽象。集合按知识库隔离。
type VectorStore interface {
	EnsureCollection(ctx context.Context, info CollectionInfo) error
	UpsertChunks(ctx context.Context, info CollectionInfo, chunks []VectorChunk) error
	DeleteDocument(ctx context.Context, knowledgeBaseID, documentID string) error
	DeleteCollection(ctx context.Context, knowledgeBaseID string) error
	Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error)
	Ready() bool
}
