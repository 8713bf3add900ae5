package services

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/models"
)

// KnowledgeBaseService 知识库服务
type KnowledgeBaseService struct {
	db *gorm.DB
}

// CreateKnowledgeBaseRequest 创建知识库请求
type CreateKnowledgeBaseRequest struct {
	Name        string       `json:"name" validate:"required,max=200"`
	Description string       `json:"description,omitempty"`
	Config      *ConfigPatch `json:"config,omitempty"`
}

// UpdateKnowledgeBaseRequest 更新知识库请求，nil字段保持原值
type UpdateKnowledgeBaseRequest struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Config      *ConfigPatch `json:"config,omitempty"`
}

// ConfigPatch 知识库配置补丁，仅覆盖显式出现的字段
type ConfigPatch struct {
	EmbeddingProvider  *string  `json:"embeddingProvider,omitempty"`
	EmbeddingModel     *string  `json:"embeddingModel,omitempty"`
	ChunkingStrategy   *string  `json:"chunkingStrategy,omitempty"`
	ChunkSize          *int     `json:"chunkSize,omitempty"`
	Overlap            *int     `json:"overlap,omitempty"`
	RetrievalTopK      *int     `json:"retrievalTopK,omitempty"`
	RetrievalThreshold *float64 `json:"retrievalThreshold,omitempty"`
}

// NewKnowledgeBaseService 创建知识库服务
func NewKnowledgeBaseService(db *gorm.DB) *KnowledgeBaseService {
	return &KnowledgeBaseService{db: db}
}

// DefaultConfig 知识库默认配置
func DefaultConfig() models.KnowledgeBaseConfig {
	cfg := models.KnowledgeBaseConfig{
		EmbeddingProvider:  models.ProviderCloudAPI,
		EmbeddingModel:     "text-embedding-3-small",
		ChunkingStrategy:   models.StrategyFixed,
		ChunkSize:          1000,
		Overlap:            200,
		RetrievalTopK:      5,
		RetrievalThreshold: 0.7,
	}
	if config.AppConfig != nil {
		kc := config.AppConfig.Knowledge
		if kc.ChunkSize > 0 {
			cfg.ChunkSize = kc.ChunkSize
		}
		if kc.ChunkOverlap >= 0 {
			cfg.Overlap = kc.ChunkOverlap
		}
		if kc.RetrievalTopK > 0 {
			cfg.RetrievalTopK = kc.RetrievalTopK
		}
		if kc.Threshold > 0 {
			cfg.RetrievalThreshold = kc.Threshold
		}
	}
	return cfg
}

func applyPatch(cfg models.KnowledgeBaseConfig, patch *ConfigPatch) (models.KnowledgeBaseConfig, error) {
	if patch == nil {
		return cfg, nil
	}
	if patch.EmbeddingProvider != nil {
		switch *patch.EmbeddingProvider {
		case models.ProviderCloudAPI, models.ProviderLocalAPI, models.ProviderLocalModel:
			cfg.EmbeddingProvider = *patch.EmbeddingProvider
		default:
			return cfg, errors.NewValidationError("unknown embedding provider: " + *patch.EmbeddingProvider)
		}
	}
	if patch.EmbeddingModel != nil {
		cfg.EmbeddingModel = *patch.EmbeddingModel
	}
	if patch.ChunkingStrategy != nil {
		switch *patch.ChunkingStrategy {
		case models.StrategyFixed, models.StrategySentence, models.StrategyParagraph, models.StrategySemantic:
			cfg.ChunkingStrategy = *patch.ChunkingStrategy
		default:
			return cfg, errors.NewValidationError("unknown chunking strategy: " + *patch.ChunkingStrategy)
		}
	}
	if patch.ChunkSize != nil {
		if *patch.ChunkSize < models.MinChunkSize || *patch.ChunkSize > models.MaxChunkSize {
			return cfg, errors.NewValidationError("chunkSize must be within [100, 10000]")
		}
		cfg.ChunkSize = *patch.ChunkSize
	}
	if patch.Overlap != nil {
		if *patch.Overlap < 0 || *patch.Overlap > models.MaxOverlap {
			return cfg, errors.NewValidationError("overlap must be within [0, 1000]")
		}
		cfg.Overlap = *patch.Overlap
	}
	if patch.RetrievalTopK != nil {
		if *patch.RetrievalTopK <= 0 {
			return cfg, errors.NewValidationError("retrievalTopK must be positive")
		}
		cfg.RetrievalTopK = *patch.RetrievalTopK
	}
	if patch.RetrievalThreshold != nil {
		if *patch.RetrievalThreshold < 0 || *patch.RetrievalThreshold > 1 {
			return cfg, errors.NewValidationError("retrievalThreshold must be within [0, 1]")
		}
		cfg.RetrievalThreshold = *patch.RetrievalThreshold
	}
	// 合并后整体校验，防止分步补丁导致重叠不小于分块长度
	if cfg.Overlap >= cfg.ChunkSize {
		return cfg, errors.NewValidationError("overlap must be smaller than chunkSize")
	}
	return cfg, nil
}

// Create 创建知识库。未指定的配置字段使用默认值。
func (s *KnowledgeBaseService) Create(ctx context.Context, req CreateKnowledgeBaseRequest) (*models.KnowledgeBase, error) {
	if appErr := errors.ValidateStruct(req); appErr != nil {
		return nil, appErr
	}

	cfg, err := applyPatch(DefaultConfig(), req.Config)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	kb := &models.KnowledgeBase{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		CreateTime:  now,
		UpdateTime:  now,
	}
	kb.SetConfig(cfg)

	if err := s.db.WithContext(ctx).Create(kb).Error; err != nil {
		logger.Error("failed to create knowledge base", zap.Error(err), zap.String("name", req.Name))
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to create knowledge base").WithCause(err)
	}

	logger.Info("knowledge base created", zap.String("id", kb.ID), zap.String("name", kb.Name))
	return kb, nil
}

// Get 获取单个知识库
func (s *KnowledgeBaseService) Get(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&kb).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NewNotFoundError("knowledge base")
		}
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to get knowledge base").WithCause(err)
	}
	return &kb, nil
}

// List 获取知识库列表，按创建时间倒序
func (s *KnowledgeBaseService) List(ctx context.Context) ([]models.KnowledgeBase, error) {
	var kbs []models.KnowledgeBase
	err := s.db.WithContext(ctx).Order("create_time DESC").Find(&kbs).Error
	if err != nil {
		logger.Error("failed to list knowledge bases", zap.Error(err))
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to list knowledge bases").WithCause(err)
	}
	return kbs, nil
}

// Update 更新知识库，nil字段保持原值，配置按字段合并
func (s *KnowledgeBaseService) Update(ctx context.Context, id string, req UpdateKnowledgeBaseRequest) (*models.KnowledgeBase, error) {
	kb, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, errors.NewValidationError("name cannot be empty")
		}
		kb.Name = *req.Name
	}
	if req.Description != nil {
		kb.Description = *req.Description
	}
	if req.Config != nil {
		cfg, err := applyPatch(kb.GetConfig(), req.Config)
		if err != nil {
			return nil, err
		}
		kb.SetConfig(cfg)
	}
	kb.UpdateTime = time.Now()

	if err := s.db.WithContext(ctx).Save(kb).Error; err != nil {
		logger.Error("failed to update knowledge base", zap.Error(err), zap.String("id", id))
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to update knowledge base").WithCause(err)
	}

	logger.Info("knowledge base updated", zap.String("id", id), zap.String("name", kb.Name))
	return kb, nil
}

// Delete 删除知识库记录。关联数据的级联清理由 DocumentService.PurgeKnowledgeBase 负责。
func (s *KnowledgeBaseService) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.KnowledgeBase{})
	if result.Error != nil {
		logger.Error("failed to delete knowledge base", zap.Error(result.Error), zap.String("id", id))
		return errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to delete knowledge base").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NewNotFoundError("knowledge base")
	}

	logger.Info("knowledge base deleted", zap.String("id", id))
	return nil
}

// IncrementDocumentCount 原子更新文档计数，结果不会低于0。
// 知识库不存在时静默跳过。
func (s *KnowledgeBaseService) IncrementDocumentCount(ctx context.Context, id string, delta int) error {
	return s.incrementCounter(ctx, id, "document_count", delta)
}

// IncrementChunkCount 原子更新分块计数，结果不会低于0。
// 知识库不存在时静默跳过。
func (s *KnowledgeBaseService) IncrementChunkCount(ctx context.Context, id string, delta int) error {
	return s.incrementCounter(ctx, id, "chunk_count", delta)
}

func (s *KnowledgeBaseService) incrementCounter(ctx context.Context, id, column string, delta int) error {
	if delta == 0 {
		return nil
	}

	var expr interface{}
	if delta > 0 {
		expr = gorm.Expr(column+" + ?", delta)
	} else {
		// 扣减时夹在0以上
		expr = gorm.Expr("CASE WHEN "+column+" + ? < 0 THEN 0 ELSE "+column+" + ? END", delta, delta)
	}

	result := s.db.WithContext(ctx).Model(&models.KnowledgeBase{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			column:        expr,
			"update_time": time.Now(),
		})
	if result.Error != nil {
		logger.Error("failed to update counter",
			zap.Error(result.Error),
			zap.String("id", id),
			zap.String("column", column))
		return errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to update counter").WithCause(result.Error)
	}
	return nil
}

// GetOrCreateDefault 获取默认知识库，不存在时创建
func (s *KnowledgeBaseService) GetOrCreateDefault(ctx context.Context) (*models.KnowledgeBase, error) {
	name := "Default Knowledge Base"
	if config.AppConfig != nil && config.AppConfig.Knowledge.DefaultKBName != "" {
		name = config.AppConfig.Knowledge.DefaultKBName
	}

	var kb models.KnowledgeBase
	err := s.db.WithContext(ctx).Where("name = ?", name).Order("create_time ASC").First(&kb).Error
	if err == nil {
		return &kb, nil
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewSystemError(errors.ErrCodeDatabaseError, "failed to query default knowledge base").WithCause(err)
	}

	return s.Create(ctx, CreateKnowledgeBaseRequest{
		Name:        name,
		Description: "Automatically created default knowledge base",
	})
}
