package knowledge

import (
	"context"
	"fmt"
	"sync"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/models"
)

// Embedder 定义文本向量化接口
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Provider() string
	Model() string
	Ready() bool
}

// 已知模型维度表。维度由提供方+模型静态决定，
// 不通过试探调用推断，建索引时无需先产生向量。
var embeddingDimensions = map[string]map[string]int{
	models.ProviderCloudAPI: {
		"text-embedding-3-large": 3072,
		"text-embedding-3-small": 1536,
		"text-embedding-ada-002": 1536,
	},
	models.ProviderLocalAPI: {
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"bge-m3":            1024,
	},
	models.ProviderLocalModel: {
		"all-minilm":       384,
		"nomic-embed-text": 768,
	},
}

// 提供方默认维度
var defaultDimensions = map[string]int{
	models.ProviderCloudAPI:   1536,
	models.ProviderLocalAPI:   768,
	models.ProviderLocalModel: 384,
}

// EmbeddingDimensions 查表返回指定提供方/模型的向量维度
func EmbeddingDimensions(provider, model string) int {
	if table, ok := embeddingDimensions[provider]; ok {
		if dims, ok := table[model]; ok {
			return dims
		}
	}
	if dims, ok := defaultDimensions[provider]; ok {
		return dims
	}
	return 1536
}

// 进程级客户端缓存，按 provider+model+凭证 复用。
// 连接是无状态HTTP，无需显式释放。
var (
	embedderCache   = make(map[string]Embedder)
	embedderCacheMu sync.Mutex
)

// NewEmbedder 按知识库配置选择嵌入提供方
func NewEmbedder(provider, model string, cfg *config.Config) (Embedder, error) {
	if cfg == nil {
		return nil, errors.NewConfigurationError("config not loaded")
	}

	switch provider {
	case models.ProviderCloudAPI:
		if model == "" {
			model = cfg.Embedding.CloudModel
		}
	case models.ProviderLocalAPI:
		if model == "" {
			model = cfg.Embedding.LocalModel
		}
	case models.ProviderLocalModel:
		if model == "" {
			model = cfg.Embedding.LocalModelName
		}
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown embedding provider: %s", provider))
	}

	key := cacheKey(provider, model, cfg)

	embedderCacheMu.Lock()
	defer embedderCacheMu.Unlock()

	if cached, ok := embedderCache[key]; ok {
		return cached, nil
	}

	var (
		embedder Embedder
		err      error
	)
	switch provider {
	case models.ProviderCloudAPI:
		embedder, err = NewOpenAIEmbedder(cfg.Embedding.CloudAPIKey, cfg.Embedding.CloudBaseURL, model)
	case models.ProviderLocalAPI:
		embedder, err = NewLocalEmbedder(models.ProviderLocalAPI, cfg.Embedding.LocalEndpoint, model)
	case models.ProviderLocalModel:
		embedder, err = NewLocalEmbedder(models.ProviderLocalModel, cfg.Embedding.LocalModelEndpoint, model)
	}
	if err != nil {
		return nil, err
	}

	embedderCache[key] = embedder
	return embedder, nil
}

func cacheKey(provider, model string, cfg *config.Config) string {
	switch provider {
	case models.ProviderCloudAPI:
		return fmt.Sprintf("%s|%s|%s|%s", provider, model, cfg.Embedding.CloudAPIKey, cfg.Embedding.CloudBaseURL)
	case models.ProviderLocalAPI:
		return fmt.Sprintf("%s|%s|%s", provider, model, cfg.Embedding.LocalEndpoint)
	default:
		return fmt.Sprintf("%s|%s|%s", provider, model, cfg.Embedding.LocalModelEndpoint)
	}
}

// ResetEmbedderCache 清空客户端缓存（测试用）
func ResetEmbedderCache() {
	embedderCacheMu.Lock()
	defer embedderCacheMu.Unlock()
	embedderCache = make(map[string]Embedder)
}
