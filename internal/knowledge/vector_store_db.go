package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
)

// VectorCollection 集合记录，承载集合级元数据
type VectorCollection struct {
	KnowledgeBaseID   string    `gorm:"primaryKey;size:36"`
	Name              string    `gorm:"size:200"`
	EmbeddingProvider string    `gorm:"size:20"`
	EmbeddingModel    string    `gorm:"size:100"`
	Dimensions        int       `gorm:"default:0"`
	CreateTime        time.Time `gorm:"column:create_time"`
}

func (VectorCollection) TableName() string {
	return "vector_collections"
}

// ChunkVector 向量记录，按知识库隔离
type ChunkVector struct {
	ChunkID         string    `gorm:"primaryKey;size:36"`
	DocumentID      string    `gorm:"size:36;index"`
	KnowledgeBaseID string    `gorm:"size:36;index"`
	Content         string    `gorm:"type:text"`
	ChunkIndex      int       `gorm:"default:0"`
	StartChar       int       `gorm:"default:0"`
	EndChar         int       `gorm:"default:0"`
	Embedding       string    `gorm:"type:json"`
	Metadata        string    `gorm:"type:json"`
	CreateTime      time.Time `gorm:"column:create_time"`
}

func (ChunkVector) TableName() string {
	return "chunk_vectors"
}

// DatabaseVectorStore 基于关系库的退化向量存储，余弦相似度暴力扫描。
// 小规模部署与测试用，接口语义与Milvus/Qdrant后端一致。
type DatabaseVectorStore struct {
	db *gorm.DB
}

func NewDatabaseVectorStore(db *gorm.DB) (VectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if err := db.AutoMigrate(&VectorCollection{}, &ChunkVector{}); err != nil {
		return nil, fmt.Errorf("failed to migrate vector tables: %w", err)
	}
	return &DatabaseVectorStore{db: db}, nil
}

func (s *DatabaseVectorStore) EnsureCollection(ctx context.Context, info CollectionInfo) error {
	var existing VectorCollection
	err := s.db.WithContext(ctx).
		Where("knowledge_base_id = ?", info.KnowledgeBaseID).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	return s.db.WithContext(ctx).Create(&VectorCollection{
		KnowledgeBaseID:   info.KnowledgeBaseID,
		Name:              info.KnowledgeBaseName,
		EmbeddingProvider: info.EmbeddingProvider,
		EmbeddingModel:    info.EmbeddingModel,
		Dimensions:        info.Dimensions,
		CreateTime:        time.Now(),
	}).Error
}

func (s *DatabaseVectorStore) hasCollection(ctx context.Context, kbID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&VectorCollection{}).
		Where("knowledge_base_id = ?", kbID).
		Count(&count).Error
	return count > 0, err
}

func (s *DatabaseVectorStore) UpsertChunks(ctx context.Context, info CollectionInfo, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, info); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks {
			embeddingJSON, err := json.Marshal(chunk.Embedding)
			if err != nil {
				return err
			}
			record := ChunkVector{
				ChunkID:         chunk.ChunkID,
				DocumentID:      chunk.DocumentID,
				KnowledgeBaseID: chunk.KnowledgeBaseID,
				Content:         chunk.Content,
				ChunkIndex:      chunk.ChunkIndex,
				StartChar:       chunk.StartChar,
				EndChar:         chunk.EndChar,
				Embedding:       string(embeddingJSON),
				CreateTime:      time.Now(),
			}
			if chunk.Metadata != nil {
				metaJSON, _ := json.Marshal(chunk.Metadata)
				record.Metadata = string(metaJSON)
			}

			// 按chunk_id幂等覆盖
			if err := tx.Where("chunk_id = ?", chunk.ChunkID).Delete(&ChunkVector{}).Error; err != nil {
				return err
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DatabaseVectorStore) DeleteDocument(ctx context.Context, knowledgeBaseID, documentID string) error {
	exists, err := s.hasCollection(ctx, knowledgeBaseID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCollectionNotFound
	}

	return s.db.WithContext(ctx).
		Where("knowledge_base_id = ? AND document_id = ?", knowledgeBaseID, documentID).
		Delete(&ChunkVector{}).Error
}

func (s *DatabaseVectorStore) DeleteCollection(ctx context.Context, knowledgeBaseID string) error {
	exists, err := s.hasCollection(ctx, knowledgeBaseID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCollectionNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("knowledge_base_id = ?", knowledgeBaseID).Delete(&ChunkVector{}).Error; err != nil {
			return err
		}
		return tx.Where("knowledge_base_id = ?", knowledgeBaseID).Delete(&VectorCollection{}).Error
	})
}

func (s *DatabaseVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}

	exists, err := s.hasCollection(ctx, req.KnowledgeBaseID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []SearchMatch{}, nil
	}

	if req.Limit == 0 {
		req.Limit = 10
	}

	query := s.db.WithContext(ctx).Model(&ChunkVector{}).
		Where("knowledge_base_id = ?", req.KnowledgeBaseID)
	if docID, ok := req.Filter["document_id"].(string); ok {
		query = query.Where("document_id = ?", docID)
	}

	var rows []ChunkVector
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	queryNorm := vectorNorm(req.QueryEmbedding)
	if queryNorm == 0 {
		return nil, fmt.Errorf("query embedding norm is zero")
	}

	matches := make([]SearchMatch, 0, len(rows))
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.Embedding), &embedding); err != nil {
			continue
		}
		if !matchesFilter(row, req.Filter) {
			continue
		}

		var metadata map[string]interface{}
		if row.Metadata != "" {
			_ = json.Unmarshal([]byte(row.Metadata), &metadata)
		}

		similarity := cosineSimilarity(req.QueryEmbedding, embedding, queryNorm)
		matches = append(matches, SearchMatch{
			ChunkID:    row.ChunkID,
			DocumentID: row.DocumentID,
			Content:    row.Content,
			ChunkIndex: row.ChunkIndex,
			Distance:   1 - similarity,
			Metadata:   metadata,
		})
	}

	sortMatchesByDistance(matches)
	if len(matches) > req.Limit {
		matches = matches[:req.Limit]
	}
	return matches, nil
}

// matchesFilter 对document_id之外的过滤键检查块元数据精确匹配
func matchesFilter(row ChunkVector, filter map[string]interface{}) bool {
	if len(filter) == 0 {
		return true
	}
	var metadata map[string]interface{}
	for key, want := range filter {
		if key == "document_id" {
			continue // 已在SQL层过滤
		}
		if metadata == nil && row.Metadata != "" {
			_ = json.Unmarshal([]byte(row.Metadata), &metadata)
		}
		got, ok := metadata[key]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func (s *DatabaseVectorStore) Ready() bool {
	return s.db != nil
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, normA float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		minLen := len(a)
		if len(b) < minLen {
			minLen = len(b)
		}
		a = a[:minLen]
		b = b[:minLen]
	}

	var dot float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (normA * math.Sqrt(normB))
}
