package services

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/kafka"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/models"
	"github.com/aihub/knowledge-go/internal/storage"
)

// DocumentService 文档服务，负责文档上传、分块落库与向量索引编排
type DocumentService struct {
	db          *gorm.DB
	kbService   *KnowledgeBaseService
	engine      *knowledge.RetrievalEngine
	objectStore *storage.ObjectStore
	chunkCache  *ChunkCache
	metrics     *MetricsService
}

// UploadDocumentRequest 上传文档请求
type UploadDocumentRequest struct {
	Title    string                 `json:"title" validate:"required,max=200"`
	Content  string                 `json:"content" validate:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// IndexResult 索引结果
type IndexResult struct {
	DocumentID    string `json:"documentId"`
	ChunksIndexed int    `json:"chunksIndexed"`
	Status        string `json:"status"`
}

// PurgeResult 级联删除结果
type PurgeResult struct {
	DocumentsDeleted int `json:"documentsDeleted"`
	ChunksDeleted    int `json:"chunksDeleted"`
}

// NewDocumentService 创建文档服务
func NewDocumentService(db *gorm.DB, kbService *KnowledgeBaseService, engine *knowledge.RetrievalEngine, objectStore *storage.ObjectStore, chunkCache *ChunkCache, metrics *MetricsService) *DocumentService {
	return &DocumentService{
		db:          db,
		kbService:   kbService,
		engine:      engine,
		objectStore: objectStore,
		chunkCache:  chunkCache,
		metrics:     metrics,
	}
}

// Upload 上传文档：按知识库配置分块并落库，文档状态为 uploaded。
// 向量索引推迟到 Index 调用，以便配置修改后重建。
func (s *DocumentService) Upload(ctx context.Context, kbID string, req UploadDocumentRequest) (*models.KnowledgeDocument, error) {
	if appErr := errors.ValidateStruct(req); appErr != nil {
		return nil, appErr
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.NewValidationError("content cannot be blank")
	}

	kb, err := s.kbService.Get(ctx, kbID)
	if err != nil {
		return nil, err
	}

	cfg := kb.GetConfig()
	chunker := knowledge.NewChunker(cfg.ChunkSize, cfg.Overlap)
	pieces := chunker.Split(req.Content)

	now := time.Now()
	doc := &models.KnowledgeDocument{
		ID:              uuid.NewString(),
		KnowledgeBaseID: kb.ID,
		Title:           req.Title,
		Content:         req.Content,
		Status:          models.DocumentStatusUploaded,
		ChunkCount:      len(pieces),
		CreateTime:      now,
		UpdateTime:      now,
	}
	if req.Metadata != nil {
		metaBytes, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, errors.NewValidationError("invalid metadata format")
		}
		doc.Metadata = string(metaBytes)
	}

	chunks := make([]models.KnowledgeChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.KnowledgeChunk{
			ID:         piece.ID,
			DocumentID: doc.ID,
			Content:    piece.Content,
			ChunkIndex: piece.Index,
			StartChar:  piece.StartChar,
			EndChar:    piece.EndChar,
			Metadata:   doc.Metadata,
			CreateTime: now,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to persist document", zap.Error(err), zap.String("knowledge_base_id", kbID))
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to persist document").WithCause(err)
	}

	if err := s.kbService.IncrementChunkCount(ctx, kb.ID, len(chunks)); err != nil {
		logger.Warn("failed to update chunk count", zap.Error(err))
	}

	// 归档原文，失败不影响上传
	if s.objectStore.Ready() {
		if path, err := s.objectStore.ArchiveDocument(ctx, kb.ID, doc.ID, req.Content); err != nil {
			logger.Warn("failed to archive document", zap.Error(err), zap.String("document_id", doc.ID))
		} else {
			doc.FilePath = path
			if err := s.db.WithContext(ctx).Model(doc).Update("file_path", path).Error; err != nil {
				logger.Warn("failed to record archive path", zap.Error(err))
			}
		}
	}

	if s.chunkCache != nil {
		for _, chunk := range chunks {
			if err := s.chunkCache.StoreChunk(ctx, chunk); err != nil {
				logger.Debug("chunk cache store failed", zap.Error(err))
				break
			}
		}
	}

	kafka.PublishKnowledgeEvent(kafka.EventDocumentUploaded, kb.ID, doc.ID, len(chunks))

	logger.Info("document uploaded",
		zap.String("knowledge_base_id", kb.ID),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)))
	return doc, nil
}

// Get 获取单个文档
func (s *DocumentService) Get(ctx context.Context, kbID, documentID string) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	err := s.db.WithContext(ctx).
		Where("id = ? AND knowledge_base_id = ?", documentID, kbID).
		First(&doc).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NewNotFoundError("document")
		}
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to get document").WithCause(err)
	}
	return &doc, nil
}

// List 列出知识库下的文档，按创建时间倒序
func (s *DocumentService) List(ctx context.Context, kbID string) ([]models.KnowledgeDocument, error) {
	if _, err := s.kbService.Get(ctx, kbID); err != nil {
		return nil, err
	}

	var docs []models.KnowledgeDocument
	err := s.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("create_time DESC").
		Find(&docs).Error
	if err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to list documents").WithCause(err)
	}
	return docs, nil
}

// Index 为文档建立向量索引。全部分块嵌入成功后才写入向量库，
// 任一分块失败则整体失败，文档保持原状态。
func (s *DocumentService) Index(ctx context.Context, kbID, documentID string) (*IndexResult, error) {
	kb, err := s.kbService.Get(ctx, kbID)
	if err != nil {
		return nil, err
	}
	doc, err := s.Get(ctx, kbID, documentID)
	if err != nil {
		return nil, err
	}

	var chunks []models.KnowledgeChunk
	err = s.db.WithContext(ctx).
		Where("document_id = ?", doc.ID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to load chunks").WithCause(err)
	}
	if len(chunks) == 0 {
		return nil, errors.NewNotFoundError("document chunks")
	}

	cfg := kb.GetConfig()
	embedder, err := knowledge.NewEmbedder(cfg.EmbeddingProvider, cfg.EmbeddingModel, config.AppConfig)
	if err != nil {
		return nil, err
	}

	indexed, err := s.engine.IndexChunks(ctx, kb, doc, chunks, embedder)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordEmbeddingError(cfg.EmbeddingProvider)
		}
		return nil, err
	}

	// 仅在 uploaded -> indexed 首次转换时累加文档计数
	if doc.Status != models.DocumentStatusIndexed {
		doc.Status = models.DocumentStatusIndexed
		doc.UpdateTime = time.Now()
		if err := s.db.WithContext(ctx).Model(doc).
			Updates(map[string]interface{}{
				"status":      doc.Status,
				"update_time": doc.UpdateTime,
			}).Error; err != nil {
			logger.Warn("failed to mark document indexed", zap.Error(err))
		}
		if err := s.kbService.IncrementDocumentCount(ctx, kb.ID, 1); err != nil {
			logger.Warn("failed to update document count", zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordDocumentIndexed(cfg.EmbeddingProvider, indexed)
	}
	kafka.PublishKnowledgeEvent(kafka.EventDocumentIndexed, kb.ID, doc.ID, indexed)

	return &IndexResult{
		DocumentID:    doc.ID,
		ChunksIndexed: indexed,
		Status:        doc.Status,
	}, nil
}

// Delete 删除文档及其分块、向量与归档文件，并回退计数
func (s *DocumentService) Delete(ctx context.Context, kbID, documentID string) error {
	kb, err := s.kbService.Get(ctx, kbID)
	if err != nil {
		return err
	}
	doc, err := s.Get(ctx, kbID, documentID)
	if err != nil {
		return err
	}

	if err := s.engine.DeleteDocumentChunks(ctx, kb.ID, doc.ID); err != nil {
		return err
	}

	var chunkCount int64
	if err := s.db.WithContext(ctx).Model(&models.KnowledgeChunk{}).
		Where("document_id = ?", doc.ID).
		Count(&chunkCount).Error; err != nil {
		return errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to count chunks").WithCause(err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.KnowledgeChunk{}).Error; err != nil {
			return err
		}
		return tx.Delete(doc).Error
	})
	if err != nil {
		return errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to delete document").WithCause(err)
	}

	if err := s.kbService.IncrementChunkCount(ctx, kb.ID, -int(chunkCount)); err != nil {
		logger.Warn("failed to update chunk count", zap.Error(err))
	}
	if doc.Status == models.DocumentStatusIndexed {
		if err := s.kbService.IncrementDocumentCount(ctx, kb.ID, -1); err != nil {
			logger.Warn("failed to update document count", zap.Error(err))
		}
	}

	if s.chunkCache != nil {
		if err := s.chunkCache.InvalidateDocument(ctx, doc.ID); err != nil {
			logger.Debug("chunk cache invalidation failed", zap.Error(err))
		}
	}
	if s.objectStore.Ready() {
		if err := s.objectStore.RemoveDocument(ctx, kb.ID, doc.ID); err != nil {
			logger.Warn("failed to remove archived document", zap.Error(err))
		}
	}

	kafka.PublishKnowledgeEvent(kafka.EventDocumentDeleted, kb.ID, doc.ID, int(chunkCount))

	logger.Info("document deleted",
		zap.String("knowledge_base_id", kb.ID),
		zap.String("document_id", doc.ID),
		zap.Int64("chunks", chunkCount))
	return nil
}

// PurgeKnowledgeBase 级联删除知识库：向量集合、全文索引、文档与分块、KB记录
func (s *DocumentService) PurgeKnowledgeBase(ctx context.Context, kbID string) (*PurgeResult, error) {
	kb, err := s.kbService.Get(ctx, kbID)
	if err != nil {
		return nil, err
	}

	if err := s.engine.DeleteKnowledgeBase(ctx, kb.ID); err != nil {
		return nil, err
	}

	var docs []models.KnowledgeDocument
	if err := s.db.WithContext(ctx).
		Select("id", "status").
		Where("knowledge_base_id = ?", kb.ID).
		Find(&docs).Error; err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to list documents").WithCause(err)
	}

	docIDs := make([]string, len(docs))
	for i, doc := range docs {
		docIDs[i] = doc.ID
	}

	var chunksDeleted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(docIDs) > 0 {
			result := tx.Where("document_id IN ?", docIDs).Delete(&models.KnowledgeChunk{})
			if result.Error != nil {
				return result.Error
			}
			chunksDeleted = result.RowsAffected

			if err := tx.Where("knowledge_base_id = ?", kb.ID).Delete(&models.KnowledgeDocument{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(kb).Error
	})
	if err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to purge knowledge base").WithCause(err)
	}

	if s.chunkCache != nil {
		for _, docID := range docIDs {
			if err := s.chunkCache.InvalidateDocument(ctx, docID); err != nil {
				logger.Debug("chunk cache invalidation failed", zap.Error(err))
				break
			}
		}
	}
	if s.objectStore.Ready() {
		for _, docID := range docIDs {
			if err := s.objectStore.RemoveDocument(ctx, kb.ID, docID); err != nil {
				logger.Warn("failed to remove archived document", zap.Error(err), zap.String("document_id", docID))
			}
		}
	}

	kafka.PublishKnowledgeEvent(kafka.EventKnowledgeBaseDeleted, kb.ID, "", int(chunksDeleted))

	logger.Info("knowledge base purged",
		zap.String("knowledge_base_id", kb.ID),
		zap.Int("documents", len(docs)),
		zap.Int64("chunks", chunksDeleted))

	return &PurgeResult{
		DocumentsDeleted: len(docs),
		ChunksDeleted:    int(chunksDeleted),
	}, nil
}
