package knowledge

import (
	"context"
	"strings"

	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder 使用OpenAI兼容的Embedding API（cloud-api提供方）
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder 创建云端嵌入向量生成器
func NewOpenAIEmbedder(apiKey, baseURL, model string) (Embedder, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.NewConfigurationError("cloud embedding API key not configured")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		dimensions: EmbeddingDimensions(models.ProviderCloudAPI, model),
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化，云端API原生支持多输入
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		if apiErr, ok := err.(*openai.APIError); ok {
			return nil, errors.NewUpstreamError("embedding API", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, errors.NewUpstreamError("embedding API", 0, err.Error())
	}
	if len(resp.Data) < len(texts) {
		return nil, errors.NewEmptyResponseError("embedding API")
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) || len(item.Embedding) == 0 {
			return nil, errors.NewEmptyResponseError("embedding API")
		}
		vector := make([]float32, len(item.Embedding))
		copy(vector, item.Embedding)
		vectors[item.Index] = vector
	}
	for _, vector := range vectors {
		if len(vector) == 0 {
			return nil, errors.NewEmptyResponseError("embedding API")
		}
	}

	return vectors, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Provider() string {
	return models.ProviderCloudAPI
}

func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
