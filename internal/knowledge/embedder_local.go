package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aihub/knowledge-go/internal/errors"
)

// LocalEmbedder 使用本地Ollama兼容端点（local-api与local-model提供方）
type LocalEmbedder struct {
	client     *http.Client
	provider   string
	endpoint   string
	model      string
	dimensions int
}

// NewLocalEmbedder 创建本地嵌入向量生成器
func NewLocalEmbedder(provider, endpoint, model string) (Embedder, error) {
	endpoint = strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.NewConfigurationError("local embedding endpoint not configured")
	}
	if model == "" {
		return nil, errors.NewConfigurationError("local embedding model not configured")
	}

	return &LocalEmbedder{
		client:     &http.Client{Timeout: 60 * time.Second},
		provider:   provider,
		endpoint:   endpoint,
		model:      model,
		dimensions: EmbeddingDimensions(provider, model),
	}, nil
}

type localEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(localEmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamError("local embedding API", 0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errors.NewUpstreamError("local embedding API", resp.StatusCode, string(raw))
	}

	var embeddingResp localEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, errors.NewUpstreamError("local embedding API", resp.StatusCode, err.Error())
	}
	if len(embeddingResp.Embedding) == 0 {
		return nil, errors.NewEmptyResponseError("local embedding API")
	}

	return embeddingResp.Embedding, nil
}

// EmbedBatch 本地端点不支持原生批量，逐条顺序请求
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *LocalEmbedder) Provider() string {
	return e.provider
}

func (e *LocalEmbedder) Model() string {
	return e.model
}

func (e *LocalEmbedder) Ready() bool {
	return e.client != nil && e.endpoint != ""
}
