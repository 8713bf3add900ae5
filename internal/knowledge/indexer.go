package knowledge

import (
	"context"
	"time"
)

// FulltextChunk 提供关键词索引用的分块结构
type FulltextChunk struct {
	ChunkID         string
	DocumentID      string
	KnowledgeBaseID string
	Content         string
	ChunkIndex      int
	Metadata        map[string]interface{}
	CreatedAt       time.Time
}

// FulltextSearchRequest 关键词搜索请求
type FulltextSearchRequest struct {
	KnowledgeBaseID string
	Query           string
	Limit           int
}

// KeywordMatch 关键词搜索结果
type KeywordMatch struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
	Highlight  string  `json:"highlight,omitempty"`
}

// FulltextIndexer 关键词索引接口。索引维护是尽力而为的：
// 失败只记日志，不影响向量索引管道。
type FulltextIndexer interface {
	IndexChunk(ctx context.Context, chunk FulltextChunk) error
	RemoveDocument(ctx context.Context, knowledgeBaseID, documentID string) error
	RemoveIndex(ctx context.Context, knowledgeBaseID string) error
	Search(ctx context.Context, req FulltextSearchRequest) ([]KeywordMatch, error)
	Ready() bool
}

// NoopFulltextIndexer 默认占位实现
type NoopFulltextIndexer struct{}

func (n *NoopFulltextIndexer) IndexChunk(ctx context.Context, chunk FulltextChunk) error {
	return nil
}

func (n *NoopFulltextIndexer) RemoveDocument(ctx context.Context, knowledgeBaseID, documentID string) error {
	return nil
}

func (n *NoopFulltextIndexer) RemoveIndex(ctx context.Context, knowledgeBaseID string) error {
	return nil
}

func (n *NoopFulltextIndexer) Search(ctx context.Context, req FulltextSearchRequest) ([]KeywordMatch, error) {
	return nil, nil
}

func (n *NoopFulltextIndexer) Ready() bool {
	return false
}
