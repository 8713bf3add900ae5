package knowledge

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/models"
)

// SearchParams 检索参数，零值表示使用知识库配置
type SearchParams struct {
	TopK                int
	SimilarityThreshold *float64
	MetadataFilter      map[string]interface{}
}

// RetrievalResult 单条检索结果，相似度 = 1 - 余弦距离
type RetrievalResult struct {
	ChunkID    string                 `json:"chunkId"`
	DocumentID string                 `json:"documentId"`
	Content    string                 `json:"content"`
	ChunkIndex int                    `json:"chunkIndex"`
	Similarity float64                `json:"similarity"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// RetrievalEngine 负责向量索引与相似度检索，按知识库隔离集合
type RetrievalEngine struct {
	vectorStore VectorStore
	indexer     FulltextIndexer
}

func NewRetrievalEngine(vectorStore VectorStore, indexer FulltextIndexer) *RetrievalEngine {
	if indexer == nil {
		indexer = &NoopFulltextIndexer{}
	}
	return &RetrievalEngine{
		vectorStore: vectorStore,
		indexer:     indexer,
	}
}

// IndexChunks 批量索引文档分块。先为全部分块生成向量，任一失败则整体放弃，
// 不会出现部分写入。全文索引为尽力而为，失败仅记日志。
func (e *RetrievalEngine) IndexChunks(ctx context.Context, kb *models.KnowledgeBase, doc *models.KnowledgeDocument, chunks []models.KnowledgeChunk, embedder Embedder) (int, error) {
	if e.vectorStore == nil || !e.vectorStore.Ready() {
		return 0, errors.NewConfigurationError("vector store is not configured")
	}
	if embedder == nil || !embedder.Ready() {
		return 0, errors.NewConfigurationError("embedder is not configured")
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	cfg := kb.GetConfig()
	info := CollectionInfo{
		KnowledgeBaseID:   kb.ID,
		KnowledgeBaseName: kb.Name,
		EmbeddingProvider: embedder.Provider(),
		EmbeddingModel:    embedder.Model(),
		Dimensions:        embedder.Dimensions(),
	}
	if err := e.vectorStore.EnsureCollection(ctx, info); err != nil {
		return 0, errors.NewSystemError(errors.ErrCodeInternalServer, "failed to ensure vector collection").WithCause(err)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	embeddings, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(embeddings) != len(chunks) {
		return 0, errors.NewEmptyResponseError(embedder.Provider())
	}

	vectorChunks := make([]VectorChunk, len(chunks))
	for i, chunk := range chunks {
		vectorChunks[i] = VectorChunk{
			ChunkID:         chunk.ID,
			DocumentID:      doc.ID,
			KnowledgeBaseID: kb.ID,
			Content:         chunk.Content,
			ChunkIndex:      chunk.ChunkIndex,
			StartChar:       chunk.StartChar,
			EndChar:         chunk.EndChar,
			Metadata:        chunk.GetMetadata(),
			Embedding:       embeddings[i],
		}
	}

	if err := e.vectorStore.UpsertChunks(ctx, info, vectorChunks); err != nil {
		return 0, errors.NewSystemError(errors.ErrCodeInternalServer, "failed to upsert chunks").WithCause(err)
	}

	e.indexFulltext(ctx, kb.ID, doc, chunks)

	logger.Info("indexed document chunks",
		zap.String("knowledge_base_id", kb.ID),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
		zap.String("provider", embedder.Provider()),
		zap.String("model", embedder.Model()),
		zap.String("strategy", cfg.ChunkingStrategy))

	return len(chunks), nil
}

func (e *RetrievalEngine) indexFulltext(ctx context.Context, kbID string, doc *models.KnowledgeDocument, chunks []models.KnowledgeChunk) {
	if e.indexer == nil || !e.indexer.Ready() {
		return
	}
	for _, chunk := range chunks {
		err := e.indexer.IndexChunk(ctx, FulltextChunk{
			ChunkID:         chunk.ID,
			DocumentID:      doc.ID,
			KnowledgeBaseID: kbID,
			Content:         chunk.Content,
			ChunkIndex:      chunk.ChunkIndex,
			Metadata:        chunk.GetMetadata(),
			CreatedAt:       chunk.CreateTime,
		})
		if err != nil {
			logger.Warn("fulltext index failed",
				zap.String("chunk_id", chunk.ID),
				zap.Error(err))
		}
	}
}

// Search 在单个知识库中检索。空查询向量返回参数错误；
// 集合不存在时返回空结果。TopK与阈值未显式指定时回落到知识库配置。
func (e *RetrievalEngine) Search(ctx context.Context, kb *models.KnowledgeBase, queryEmbedding []float32, params SearchParams) ([]RetrievalResult, error) {
	if e.vectorStore == nil || !e.vectorStore.Ready() {
		return nil, errors.NewConfigurationError("vector store is not configured")
	}
	if len(queryEmbedding) == 0 {
		return nil, errors.NewValidationError("query embedding cannot be empty")
	}

	cfg := kb.GetConfig()
	topK := params.TopK
	if topK <= 0 {
		topK = cfg.RetrievalTopK
	}
	if topK <= 0 {
		topK = 5
	}
	threshold := cfg.RetrievalThreshold
	if kb.Config == "" {
		// 配置列为空时与topK一样回落到默认阈值
		threshold = 0.7
	}
	if params.SimilarityThreshold != nil {
		threshold = *params.SimilarityThreshold
	}

	matches, err := e.vectorStore.Search(ctx, VectorSearchRequest{
		KnowledgeBaseID: kb.ID,
		QueryEmbedding:  queryEmbedding,
		Limit:           topK,
		Filter:          params.MetadataFilter,
	})
	if err != nil {
		if stderrors.Is(err, ErrCollectionNotFound) {
			return []RetrievalResult{}, nil
		}
		return nil, errors.NewSystemError(errors.ErrCodeInternalServer, "vector search failed").WithCause(err)
	}

	results := make([]RetrievalResult, 0, len(matches))
	for _, match := range matches {
		similarity := 1 - match.Distance
		if similarity < 0 {
			similarity = 0
		}
		if similarity > 1 {
			similarity = 1
		}
		if similarity < threshold {
			continue
		}
		results = append(results, RetrievalResult{
			ChunkID:    match.ChunkID,
			DocumentID: match.DocumentID,
			Content:    match.Content,
			ChunkIndex: match.ChunkIndex,
			Similarity: similarity,
			Metadata:   match.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity == results[j].Similarity {
			return results[i].ChunkID < results[j].ChunkID
		}
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Ready 向量存储是否可用
func (e *RetrievalEngine) Ready() bool {
	return e.vectorStore != nil && e.vectorStore.Ready()
}

// KeywordSearch 关键词检索，全文索引未配置时返回空结果
func (e *RetrievalEngine) KeywordSearch(ctx context.Context, kbID, query string, limit int) ([]KeywordMatch, error) {
	if e.indexer == nil || !e.indexer.Ready() {
		return []KeywordMatch{}, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.NewValidationError("query cannot be empty")
	}
	return e.indexer.Search(ctx, FulltextSearchRequest{
		KnowledgeBaseID: kbID,
		Query:           query,
		Limit:           limit,
	})
}

// DeleteDocumentChunks 删除文档的全部向量。集合不存在视为成功（幂等）。
func (e *RetrievalEngine) DeleteDocumentChunks(ctx context.Context, kbID, documentID string) error {
	if e.vectorStore == nil || !e.vectorStore.Ready() {
		return nil
	}

	if err := e.vectorStore.DeleteDocument(ctx, kbID, documentID); err != nil {
		if stderrors.Is(err, ErrCollectionNotFound) {
			logger.Debug("delete document skipped, collection not found",
				zap.String("knowledge_base_id", kbID),
				zap.String("document_id", documentID))
			return nil
		}
		return errors.NewSystemError(errors.ErrCodeInternalServer, "failed to delete document vectors").WithCause(err)
	}

	if e.indexer != nil && e.indexer.Ready() {
		if err := e.indexer.RemoveDocument(ctx, kbID, documentID); err != nil {
			logger.Warn("fulltext remove document failed",
				zap.String("document_id", documentID),
				zap.Error(err))
		}
	}

	return nil
}

// DeleteKnowledgeBase 删除知识库对应的整个集合。集合不存在视为成功（幂等）。
func (e *RetrievalEngine) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	if e.vectorStore == nil || !e.vectorStore.Ready() {
		return nil
	}

	if err := e.vectorStore.DeleteCollection(ctx, kbID); err != nil {
		if stderrors.Is(err, ErrCollectionNotFound) {
			logger.Debug("delete collection skipped, already absent",
				zap.String("knowledge_base_id", kbID))
			return nil
		}
		return errors.NewSystemError(errors.ErrCodeInternalServer, "failed to delete vector collection").WithCause(err)
	}

	if e.indexer != nil && e.indexer.Ready() {
		if err := e.indexer.RemoveIndex(ctx, kbID); err != nil {
			logger.Warn("fulltext remove index failed",
				zap.String("knowledge_base_id", kbID),
				zap.Error(err))
		}
	}

	return nil
}

func sortMatchesByDistance(matches []SearchMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ChunkID < matches[j].ChunkID
		}
		return matches[i].Distance < matches[j].Distance
	})
}
