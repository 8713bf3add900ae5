package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/models"
)

// RAGService 检索增强生成编排：检索 -> 上下文拼装 -> 生成
type RAGService struct {
	kbService *KnowledgeBaseService
	engine    *knowledge.RetrievalEngine
	metrics   *MetricsService
}

// RAGQueryRequest 问答请求
type RAGQueryRequest struct {
	KnowledgeBaseID     string   `json:"knowledgeBaseId,omitempty"`
	Query               string   `json:"query" validate:"required"`
	TopK                int      `json:"topK,omitempty"`
	SimilarityThreshold *float64 `json:"similarityThreshold,omitempty"`
	LLMProvider         string   `json:"llmProvider,omitempty"`
	LLMModel            string   `json:"llmModel,omitempty"`
}

// RAGSource 回答引用的来源分块
type RAGSource struct {
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

// RAGResponse 问答响应
type RAGResponse struct {
	Answer          string      `json:"answer"`
	Sources         []RAGSource `json:"sources"`
	KnowledgeBaseID string      `json:"knowledgeBaseId"`
	Model           string      `json:"model"`
}

// NewRAGService 创建RAG服务
func NewRAGService(kbService *KnowledgeBaseService, engine *knowledge.RetrievalEngine, metrics *MetricsService) *RAGService {
	return &RAGService{
		kbService: kbService,
		engine:    engine,
		metrics:   metrics,
	}
}

// Query 执行一次RAG问答。未指定知识库时使用默认知识库。
// 检索无命中时走降级路径，直接告知模型没有可用上下文。
func (s *RAGService) Query(ctx context.Context, req RAGQueryRequest) (*RAGResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.NewValidationError("query is required")
	}

	var (
		kb  *models.KnowledgeBase
		err error
	)
	if req.KnowledgeBaseID != "" {
		kb, err = s.kbService.Get(ctx, req.KnowledgeBaseID)
	} else {
		kb, err = s.kbService.GetOrCreateDefault(ctx)
	}
	if err != nil {
		return nil, err
	}

	cfg := kb.GetConfig()
	embedder, err := knowledge.NewEmbedder(cfg.EmbeddingProvider, cfg.EmbeddingModel, config.AppConfig)
	if err != nil {
		return nil, err
	}

	queryEmbedding, err := embedder.Embed(ctx, req.Query)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordEmbeddingError(cfg.EmbeddingProvider)
		}
		return nil, err
	}

	started := time.Now()
	results, err := s.engine.Search(ctx, kb, queryEmbedding, knowledge.SearchParams{
		TopK:                req.TopK,
		SimilarityThreshold: req.SimilarityThreshold,
	})
	if s.metrics != nil {
		s.metrics.RecordRetrieval(config.AppConfig.VectorStore.Provider, time.Since(started), err)
	}
	if err != nil {
		return nil, err
	}

	contextText := s.buildContext(results)

	answer, model, err := s.generate(ctx, req.Query, contextText, req.LLMProvider, req.LLMModel)
	if err != nil {
		return nil, err
	}

	sources := make([]RAGSource, len(results))
	for i, r := range results {
		sources[i] = RAGSource{
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Similarity: r.Similarity,
			Content:    r.Content,
		}
	}

	logger.Info("rag query answered",
		zap.String("knowledge_base_id", kb.ID),
		zap.Int("sources", len(sources)),
		zap.String("model", model))

	return &RAGResponse{
		Answer:          answer,
		Sources:         sources,
		KnowledgeBaseID: kb.ID,
		Model:           model,
	}, nil
}

// buildContext 按相似度顺序拼装上下文，超出预算的分块整块丢弃
func (s *RAGService) buildContext(results []knowledge.RetrievalResult) string {
	maxChars := 6000
	if config.AppConfig != nil && config.AppConfig.Knowledge.MaxContextChars > 0 {
		maxChars = config.AppConfig.Knowledge.MaxContextChars
	}

	var builder strings.Builder
	used := 0
	for i, r := range results {
		segment := fmt.Sprintf("[%d] %s\n\n", i+1, r.Content)
		segmentLen := len([]rune(segment))
		if used+segmentLen > maxChars {
			continue
		}
		builder.WriteString(segment)
		used += segmentLen
	}
	return strings.TrimSpace(builder.String())
}

func (s *RAGService) generate(ctx context.Context, query, contextText, providerOverride, modelOverride string) (string, string, error) {
	llm := config.AppConfig.LLM

	provider := llm.Provider
	if providerOverride != "" {
		provider = providerOverride
	}
	model := llm.Model
	if modelOverride != "" {
		model = modelOverride
	}

	clientConfig := openai.DefaultConfig(llm.APIKey)
	switch provider {
	case models.ProviderLocalAPI, models.ProviderLocalModel:
		clientConfig.BaseURL = llm.LocalURL
		if clientConfig.BaseURL == "" {
			return "", "", errors.NewConfigurationError("local LLM endpoint not configured")
		}
	default:
		if llm.APIKey == "" {
			return "", "", errors.NewConfigurationError("LLM API key not configured")
		}
		if llm.BaseURL != "" {
			clientConfig.BaseURL = llm.BaseURL
		}
	}
	client := openai.NewClientWithConfig(clientConfig)

	systemPrompt := "You are a helpful assistant. Answer the question using only the provided context. " +
		"If the context does not contain the answer, say you do not know."
	userPrompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, query)
	if contextText == "" {
		userPrompt = fmt.Sprintf("No relevant context was found in the knowledge base.\n\nQuestion: %s", query)
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens:   llm.MaxTokens,
		Temperature: float32(llm.Temperature),
	})
	if err != nil {
		if apiErr, ok := err.(*openai.APIError); ok {
			return "", "", errors.NewUpstreamError("llm", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", "", errors.NewUpstreamError("llm", 0, err.Error())
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", "", errors.NewEmptyResponseError("llm")
	}

	return resp.Choices[0].Message.Content, model, nil
}
