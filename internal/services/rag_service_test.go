package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/knowledge"
)

func TestRAGQueryRequiresQuery(t *testing.T) {
	svc := NewRAGService(NewKnowledgeBaseService(newTestDB(t)), knowledge.NewRetrievalEngine(nil, nil), nil)

	_, err := svc.Query(context.Background(), RAGQueryRequest{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetAppError(err).Code)
}

func TestRAGQueryUnknownKnowledgeBase(t *testing.T) {
	svc := NewRAGService(NewKnowledgeBaseService(newTestDB(t)), knowledge.NewRetrievalEngine(nil, nil), nil)

	_, err := svc.Query(context.Background(), RAGQueryRequest{
		KnowledgeBaseID: "missing",
		Query:           "what is this",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceNotFound, errors.GetAppError(err).Code)
}

func TestRAGBuildContextNumbersSegments(t *testing.T) {
	svc := &RAGService{}

	text := svc.buildContext([]knowledge.RetrievalResult{
		{Content: "alpha", Similarity: 0.9},
		{Content: "beta", Similarity: 0.8},
	})
	assert.Equal(t, "[1] alpha\n\n[2] beta", text)

	assert.Empty(t, svc.buildContext(nil))
}

func TestRAGBuildContextRespectsBudget(t *testing.T) {
	previous := config.AppConfig
	cfg := &config.Config{}
	cfg.Knowledge.MaxContextChars = 30
	config.AppConfig = cfg
	t.Cleanup(func() { config.AppConfig = previous })

	svc := &RAGService{}
	text := svc.buildContext([]knowledge.RetrievalResult{
		{Content: strings.Repeat("a", 40), Similarity: 0.9}, // 超出预算，整块丢弃
		{Content: strings.Repeat("b", 10), Similarity: 0.8},
		{Content: strings.Repeat("c", 10), Similarity: 0.7}, // 预算已耗尽
	})
	assert.NotContains(t, text, "a")
	assert.Contains(t, text, strings.Repeat("b", 10))
	assert.NotContains(t, text, "c")
}
