package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/models"
)

// staticEmbedder 按内容查表返回固定向量，用于确定性检索测试
type staticEmbedder struct {
	vectors map[string][]float32
	dims    int
	// truncateBatch 为true时批量结果少返回一条，模拟上游响应缺失
	truncateBatch bool
}

func (e *staticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return vec, nil
}

func (e *staticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	if e.truncateBatch && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (e *staticEmbedder) Dimensions() int { return e.dims }
func (e *staticEmbedder) Provider() string {
	return models.ProviderLocalAPI
}
func (e *staticEmbedder) Model() string { return "static-test-model" }
func (e *staticEmbedder) Ready() bool   { return true }

func newTestVectorDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "vectors.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newTestEngine(t *testing.T) (*RetrievalEngine, *gorm.DB) {
	t.Helper()
	db := newTestVectorDB(t)
	store, err := NewDatabaseVectorStore(db)
	require.NoError(t, err)
	return NewRetrievalEngine(store, nil), db
}

func newTestKB(id string, threshold float64, topK int) *models.KnowledgeBase {
	kb := &models.KnowledgeBase{
		ID:         id,
		Name:       "kb-" + id,
		CreateTime: time.Now(),
		UpdateTime: time.Now(),
	}
	kb.SetConfig(models.KnowledgeBaseConfig{
		EmbeddingProvider:  models.ProviderLocalAPI,
		EmbeddingModel:     "static-test-model",
		ChunkingStrategy:   models.StrategyFixed,
		ChunkSize:          1000,
		Overlap:            200,
		RetrievalTopK:      topK,
		RetrievalThreshold: threshold,
	})
	return kb
}

func testChunks(docID string, contents ...string) []models.KnowledgeChunk {
	chunks := make([]models.KnowledgeChunk, len(contents))
	for i, content := range contents {
		chunks[i] = models.KnowledgeChunk{
			ID:         fmt.Sprintf("%s-chunk-%d", docID, i),
			DocumentID: docID,
			Content:    content,
			ChunkIndex: i,
			CreateTime: time.Now(),
		}
	}
	return chunks
}

var testEmbedder = &staticEmbedder{
	dims: 2,
	vectors: map[string][]float32{
		"exact match":   {1, 0},
		"partial match": {0.6, 0.8},
		"orthogonal":    {0, 1},
		"other topic":   {0.8, 0.6},
	},
}

func indexTestDocument(t *testing.T, engine *RetrievalEngine, kb *models.KnowledgeBase, docID string, contents ...string) {
	t.Helper()
	doc := &models.KnowledgeDocument{ID: docID, KnowledgeBaseID: kb.ID, Title: docID}
	indexed, err := engine.IndexChunks(context.Background(), kb, doc, testChunks(docID, contents...), testEmbedder)
	require.NoError(t, err)
	require.Equal(t, len(contents), indexed)
}

func TestSearchOrdersBySimilarityDescending(t *testing.T) {
	engine, _ := newTestEngine(t)
	kb := newTestKB("kb-order", 0, 5)
	indexTestDocument(t, engine, kb, "doc-1", "exact match", "partial match", "orthogonal")

	results, err := engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "exact match", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, "partial match", results[1].Content)
	assert.InDelta(t, 0.6, results[1].Similarity, 1e-6)
	assert.Equal(t, "orthogonal", results[2].Content)
	assert.InDelta(t, 0.0, results[2].Similarity, 1e-6)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}

	// 换一个贴近第二个分块的查询向量，首位结果应指向该分块
	results, err = engine.Search(context.Background(), kb, []float32{0.6, 0.8}, SearchParams{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 1, results[0].ChunkIndex)
}

func TestSearchAppliesThresholdOverride(t *testing.T) {
	engine, _ := newTestEngine(t)
	kb := newTestKB("kb-threshold", 0, 5)
	indexTestDocument(t, engine, kb, "doc-1", "exact match", "partial match", "orthogonal")

	threshold := 0.9
	results, err := engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{
		SimilarityThreshold: &threshold,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exact match", results[0].Content)

	// 过高阈值过滤掉全部结果，返回空切片而非错误
	threshold = 1.5
	results, err = engine.Search(context.Background(), kb, []float32{0.6, 0.8}, SearchParams{
		SimilarityThreshold: &threshold,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchUsesKnowledgeBaseDefaults(t *testing.T) {
	engine, _ := newTestEngine(t)
	kb := newTestKB("kb-defaults", 0.5, 2)
	indexTestDocument(t, engine, kb, "doc-1", "exact match", "partial match", "orthogonal")

	// TopK与阈值都取知识库配置：topK=2，阈值0.5过滤正交向量
	results, err := engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact match", results[0].Content)
	assert.Equal(t, "partial match", results[1].Content)

	// 显式TopK覆盖配置
	results, err = engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchAppliesMetadataFilter(t *testing.T) {
	engine, _ := newTestEngine(t)
	kb := newTestKB("kb-meta", 0, 5)
	doc := &models.KnowledgeDocument{ID: "doc-meta", KnowledgeBaseID: kb.ID, Title: "doc-meta"}

	chunks := testChunks("doc-meta", "exact match", "partial match")
	chunks[0].SetMetadata(map[string]interface{}{"lang": "en"})
	chunks[1].SetMetadata(map[string]interface{}{"lang": "zh"})
	indexed, err := engine.IndexChunks(context.Background(), kb, doc, chunks, testEmbedder)
	require.NoError(t, err)
	require.Equal(t, 2, indexed)

	results, err := engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{
		MetadataFilter: map[string]interface{}{"lang": "zh"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "partial match", results[0].Content)
}

func TestSearchDefaultsWhenConfigMissing(t *testing.T) {
	engine, _ := newTestEngine(t)
	// 配置列为空的老记录，阈值与topK都应落到默认值
	kb := &models.KnowledgeBase{ID: "kb-bare", Name: "bare", CreateTime: time.Now(), UpdateTime: time.Now()}
	indexTestDocument(t, engine, kb, "doc-1", "exact match", "partial match", "orthogonal")

	results, err := engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exact match", results[0].Content)

	// 显式阈值仍然优先于默认值
	threshold := 0.0
	results, err = engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{SimilarityThreshold: &threshold})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchIsolatedAcrossKnowledgeBases(t *testing.T) {
	engine, _ := newTestEngine(t)
	kbA := newTestKB("kb-a", 0, 5)
	kbB := newTestKB("kb-b", 0, 5)
	indexTestDocument(t, engine, kbA, "doc-a", "exact match")
	indexTestDocument(t, engine, kbB, "doc-b", "other topic")

	results, err := engine.Search(context.Background(), kbA, []float32{1, 0}, SearchParams{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-a", results[0].DocumentID)

	results, err = engine.Search(context.Background(), kbB, []float32{1, 0}, SearchParams{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-b", results[0].DocumentID)
}

func TestSearchMissingCollectionReturnsEmpty(t *testing.T) {
	engine, _ := newTestEngine(t)
	kb := newTestKB("kb-missing", 0, 5)

	results, err := engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRejectsEmptyEmbedding(t *testing.T) {
	engine, _ := newTestEngine(t)
	kb := newTestKB("kb-empty", 0, 5)

	_, err := engine.Search(context.Background(), kb, nil, SearchParams{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetAppError(err).Code)
}

func TestIndexChunksIdempotentReindex(t *testing.T) {
	engine, _ := newTestEngine(t)
	kb := newTestKB("kb-reindex", 0, 10)

	indexTestDocument(t, engine, kb, "doc-1", "exact match", "partial match")
	indexTestDocument(t, engine, kb, "doc-1", "exact match", "partial match")

	results, err := engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestIndexChunksAtomicOnEmbeddingFailure(t *testing.T) {
	engine, db := newTestEngine(t)
	kb := newTestKB("kb-atomic", 0, 5)
	doc := &models.KnowledgeDocument{ID: "doc-fail", KnowledgeBaseID: kb.ID, Title: "doc-fail"}

	// 第二条内容没有向量，批量嵌入失败，任何分块都不应写入
	chunks := testChunks("doc-fail", "exact match", "unknown content")
	_, err := engine.IndexChunks(context.Background(), kb, doc, chunks, testEmbedder)
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&ChunkVector{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIndexChunksRejectsShortBatch(t *testing.T) {
	engine, db := newTestEngine(t)
	kb := newTestKB("kb-short", 0, 5)
	doc := &models.KnowledgeDocument{ID: "doc-short", KnowledgeBaseID: kb.ID, Title: "doc-short"}

	short := &staticEmbedder{dims: 2, vectors: testEmbedder.vectors, truncateBatch: true}
	_, err := engine.IndexChunks(context.Background(), kb, doc, testChunks("doc-short", "exact match", "partial match"), short)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmptyResponse, errors.GetAppError(err).Code)

	var count int64
	require.NoError(t, db.Model(&ChunkVector{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeleteDocumentChunksIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	kb := newTestKB("kb-del-doc", 0, 5)
	indexTestDocument(t, engine, kb, "doc-1", "exact match", "partial match")
	indexTestDocument(t, engine, kb, "doc-2", "orthogonal")

	require.NoError(t, engine.DeleteDocumentChunks(context.Background(), kb.ID, "doc-1"))
	// 重复删除与删除不存在的文档都是no-op
	require.NoError(t, engine.DeleteDocumentChunks(context.Background(), kb.ID, "doc-1"))
	require.NoError(t, engine.DeleteDocumentChunks(context.Background(), "kb-never-existed", "doc-x"))

	results, err := engine.Search(context.Background(), kb, []float32{1, 0}, SearchParams{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-2", results[0].DocumentID)
}

func TestDeleteKnowledgeBaseIdempotent(t *testing.T) {
	engine, db := newTestEngine(t)
	kb := newTestKB("kb-del-all", 0, 5)
	indexTestDocument(t, engine, kb, "doc-1", "exact match", "partial match")

	require.NoError(t, engine.DeleteKnowledgeBase(context.Background(), kb.ID))
	require.NoError(t, engine.DeleteKnowledgeBase(context.Background(), kb.ID))

	var count int64
	require.NoError(t, db.Model(&ChunkVector{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&VectorCollection{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDatabaseVectorStoreMetadataFilter(t *testing.T) {
	db := newTestVectorDB(t)
	store, err := NewDatabaseVectorStore(db)
	require.NoError(t, err)

	info := CollectionInfo{KnowledgeBaseID: "kb-filter", Dimensions: 2}
	require.NoError(t, store.UpsertChunks(context.Background(), info, []VectorChunk{
		{ChunkID: "c1", DocumentID: "d1", KnowledgeBaseID: "kb-filter", Content: "a", Embedding: []float32{1, 0}, Metadata: map[string]interface{}{"lang": "en"}},
		{ChunkID: "c2", DocumentID: "d2", KnowledgeBaseID: "kb-filter", Content: "b", Embedding: []float32{1, 0}, Metadata: map[string]interface{}{"lang": "zh"}},
	}))

	matches, err := store.Search(context.Background(), VectorSearchRequest{
		KnowledgeBaseID: "kb-filter",
		QueryEmbedding:  []float32{1, 0},
		Limit:           10,
		Filter:          map[string]interface{}{"lang": "zh"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c2", matches[0].ChunkID)

	matches, err = store.Search(context.Background(), VectorSearchRequest{
		KnowledgeBaseID: "kb-filter",
		QueryEmbedding:  []float32{1, 0},
		Limit:           10,
		Filter:          map[string]interface{}{"document_id": "d1"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c1", matches[0].ChunkID)
}
