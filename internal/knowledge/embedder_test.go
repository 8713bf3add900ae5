package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/models"
)

func TestEmbeddingDimensions(t *testing.T) {
	cases := []struct {
		provider string
		model    string
		want     int
	}{
		{models.ProviderCloudAPI, "text-embedding-3-large", 3072},
		{models.ProviderCloudAPI, "text-embedding-3-small", 1536},
		{models.ProviderCloudAPI, "text-embedding-ada-002", 1536},
		{models.ProviderLocalAPI, "nomic-embed-text", 768},
		{models.ProviderLocalAPI, "mxbai-embed-large", 1024},
		{models.ProviderLocalAPI, "bge-m3", 1024},
		{models.ProviderLocalModel, "all-minilm", 384},
		// 未知模型回落到提供方默认
		{models.ProviderCloudAPI, "some-future-model", 1536},
		{models.ProviderLocalAPI, "some-future-model", 768},
		{models.ProviderLocalModel, "some-future-model", 384},
		// 未知提供方回落到全局默认
		{"unknown", "whatever", 1536},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, EmbeddingDimensions(tc.provider, tc.model), "%s/%s", tc.provider, tc.model)
	}
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	cfg := &config.Config{}
	_, err := NewEmbedder("quantum", "", cfg)
	require.Error(t, err)

	appErr := errors.GetAppError(err)
	assert.Equal(t, errors.ErrCodeValidationFailed, appErr.Code)
}

func TestNewEmbedderNilConfig(t *testing.T) {
	_, err := NewEmbedder(models.ProviderCloudAPI, "", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmbeddingNotConfigured, errors.GetAppError(err).Code)
}

func TestNewEmbedderCloudWithoutAPIKey(t *testing.T) {
	ResetEmbedderCache()
	cfg := &config.Config{}
	_, err := NewEmbedder(models.ProviderCloudAPI, "text-embedding-3-small", cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmbeddingNotConfigured, errors.GetAppError(err).Code)
}

func TestNewEmbedderLocalWithoutEndpoint(t *testing.T) {
	ResetEmbedderCache()
	cfg := &config.Config{}
	_, err := NewEmbedder(models.ProviderLocalAPI, "nomic-embed-text", cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmbeddingNotConfigured, errors.GetAppError(err).Code)
}

func TestNewEmbedderCacheReuse(t *testing.T) {
	ResetEmbedderCache()
	defer ResetEmbedderCache()

	cfg := &config.Config{}
	cfg.Embedding.LocalEndpoint = "http://localhost:11434"

	first, err := NewEmbedder(models.ProviderLocalAPI, "nomic-embed-text", cfg)
	require.NoError(t, err)
	second, err := NewEmbedder(models.ProviderLocalAPI, "nomic-embed-text", cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// 模型不同则各自独立
	other, err := NewEmbedder(models.ProviderLocalAPI, "bge-m3", cfg)
	require.NoError(t, err)
	assert.NotSame(t, first, other)

	ResetEmbedderCache()
	third, err := NewEmbedder(models.ProviderLocalAPI, "nomic-embed-text", cfg)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestNewEmbedderDefaultsModelFromConfig(t *testing.T) {
	ResetEmbedderCache()
	defer ResetEmbedderCache()

	cfg := &config.Config{}
	cfg.Embedding.LocalEndpoint = "http://localhost:11434"
	cfg.Embedding.LocalModel = "mxbai-embed-large"

	embedder, err := NewEmbedder(models.ProviderLocalAPI, "", cfg)
	require.NoError(t, err)
	assert.Equal(t, "mxbai-embed-large", embedder.Model())
	assert.Equal(t, 1024, embedder.Dimensions())
	assert.Equal(t, models.ProviderLocalAPI, embedder.Provider())
	assert.True(t, embedder.Ready())
}
