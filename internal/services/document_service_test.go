package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/errors"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/models"
)

// startEmbeddingServer 启动一个Ollama兼容的嵌入端点，返回固定向量
func startEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float32{1, 0},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

// newDocTestEnv 构建基于sqlite与本地嵌入端点的完整文档服务环境
func newDocTestEnv(t *testing.T) (*DocumentService, *KnowledgeBaseService, *gorm.DB) {
	t.Helper()

	server := startEmbeddingServer(t)
	previous := config.AppConfig
	cfg := &config.Config{}
	cfg.Embedding.LocalEndpoint = server.URL
	config.AppConfig = cfg
	t.Cleanup(func() {
		config.AppConfig = previous
		knowledge.ResetEmbedderCache()
	})

	db := newTestDB(t)
	store, err := knowledge.NewDatabaseVectorStore(db)
	require.NoError(t, err)
	engine := knowledge.NewRetrievalEngine(store, nil)

	kbSvc := NewKnowledgeBaseService(db)
	docSvc := NewDocumentService(db, kbSvc, engine, nil, nil, nil)
	return docSvc, kbSvc, db
}

func createLocalKB(t *testing.T, kbSvc *KnowledgeBaseService, chunkSize, overlap int) *models.KnowledgeBase {
	t.Helper()
	kb, err := kbSvc.Create(context.Background(), CreateKnowledgeBaseRequest{
		Name: "doc-test-kb",
		Config: &ConfigPatch{
			EmbeddingProvider: ptr(models.ProviderLocalAPI),
			EmbeddingModel:    ptr("nomic-embed-text"),
			ChunkSize:         ptr(chunkSize),
			Overlap:           ptr(overlap),
		},
	})
	require.NoError(t, err)
	return kb
}

func TestDocumentUploadSplitsAndCounts(t *testing.T) {
	docSvc, kbSvc, db := newDocTestEnv(t)
	ctx := context.Background()
	kb := createLocalKB(t, kbSvc, 100, 0)

	doc, err := docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{
		Title:   "alphabet",
		Content: strings.Repeat("abcde", 50), // 250 chars -> 3 windows of 100
	})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusUploaded, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)

	var chunks []models.KnowledgeChunk
	require.NoError(t, db.Where("document_id = ?", doc.ID).Order("chunk_index ASC").Find(&chunks).Error)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 100, chunks[0].EndChar)
	assert.Equal(t, 250, chunks[2].EndChar)

	got, err := kbSvc.Get(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ChunkCount)
	// 仅在索引成功后累加文档计数
	assert.Zero(t, got.DocumentCount)
}

func TestDocumentUploadValidation(t *testing.T) {
	docSvc, kbSvc, _ := newDocTestEnv(t)
	ctx := context.Background()
	kb := createLocalKB(t, kbSvc, 1000, 200)

	_, err := docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{Title: "", Content: "hello"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetAppError(err).Code)

	_, err = docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{Title: "t", Content: "   \n\t  "})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetAppError(err).Code)

	_, err = docSvc.Upload(ctx, "missing-kb", UploadDocumentRequest{Title: "t", Content: "hello"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceNotFound, errors.GetAppError(err).Code)
}

func TestDocumentGetScopedToKnowledgeBase(t *testing.T) {
	docSvc, kbSvc, _ := newDocTestEnv(t)
	ctx := context.Background()
	kb := createLocalKB(t, kbSvc, 1000, 200)

	other, err := kbSvc.Create(ctx, CreateKnowledgeBaseRequest{Name: "other"})
	require.NoError(t, err)

	doc, err := docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{Title: "t", Content: "hello world"})
	require.NoError(t, err)

	_, err = docSvc.Get(ctx, kb.ID, doc.ID)
	require.NoError(t, err)

	// 跨知识库访问视为不存在
	_, err = docSvc.Get(ctx, other.ID, doc.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceNotFound, errors.GetAppError(err).Code)

	_, err = docSvc.List(ctx, "missing-kb")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceNotFound, errors.GetAppError(err).Code)
}

func TestDocumentIndexLifecycle(t *testing.T) {
	docSvc, kbSvc, db := newDocTestEnv(t)
	ctx := context.Background()
	kb := createLocalKB(t, kbSvc, 100, 0)

	doc, err := docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{
		Title:   "lifecycle",
		Content: strings.Repeat("abcde", 40), // 2 chunks
	})
	require.NoError(t, err)

	result, err := docSvc.Index(ctx, kb.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, result.DocumentID)
	assert.Equal(t, 2, result.ChunksIndexed)
	assert.Equal(t, models.DocumentStatusIndexed, result.Status)

	got, err := kbSvc.Get(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DocumentCount)
	assert.Equal(t, 2, got.ChunkCount)

	var vectors int64
	require.NoError(t, db.Model(&knowledge.ChunkVector{}).Count(&vectors).Error)
	assert.EqualValues(t, 2, vectors)

	// 重建索引不会重复累加文档计数，向量按chunk_id幂等覆盖
	result, err = docSvc.Index(ctx, kb.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusIndexed, result.Status)

	got, err = kbSvc.Get(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DocumentCount)

	require.NoError(t, db.Model(&knowledge.ChunkVector{}).Count(&vectors).Error)
	assert.EqualValues(t, 2, vectors)
}

func TestDocumentIndexMissingDocument(t *testing.T) {
	docSvc, kbSvc, _ := newDocTestEnv(t)
	ctx := context.Background()
	kb := createLocalKB(t, kbSvc, 1000, 200)

	_, err := docSvc.Index(ctx, kb.ID, "no-such-doc")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceNotFound, errors.GetAppError(err).Code)

	_, err = docSvc.Index(ctx, "no-such-kb", "no-such-doc")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceNotFound, errors.GetAppError(err).Code)
}

func TestDocumentDeleteRestoresCounters(t *testing.T) {
	docSvc, kbSvc, db := newDocTestEnv(t)
	ctx := context.Background()
	kb := createLocalKB(t, kbSvc, 100, 0)

	doc, err := docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{
		Title:   "to delete",
		Content: strings.Repeat("abcde", 40),
	})
	require.NoError(t, err)
	_, err = docSvc.Index(ctx, kb.ID, doc.ID)
	require.NoError(t, err)

	require.NoError(t, docSvc.Delete(ctx, kb.ID, doc.ID))

	got, err := kbSvc.Get(ctx, kb.ID)
	require.NoError(t, err)
	assert.Zero(t, got.DocumentCount)
	assert.Zero(t, got.ChunkCount)

	var count int64
	require.NoError(t, db.Model(&models.KnowledgeChunk{}).Where("document_id = ?", doc.ID).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&knowledge.ChunkVector{}).Count(&count).Error)
	assert.Zero(t, count)

	err = docSvc.Delete(ctx, kb.ID, doc.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceNotFound, errors.GetAppError(err).Code)
}

func TestDocumentDeleteUnindexedKeepsDocumentCount(t *testing.T) {
	docSvc, kbSvc, _ := newDocTestEnv(t)
	ctx := context.Background()
	kb := createLocalKB(t, kbSvc, 100, 0)

	indexed, err := docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{Title: "indexed", Content: strings.Repeat("abcde", 40)})
	require.NoError(t, err)
	_, err = docSvc.Index(ctx, kb.ID, indexed.ID)
	require.NoError(t, err)

	uploaded, err := docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{Title: "uploaded only", Content: strings.Repeat("vwxyz", 40)})
	require.NoError(t, err)

	// 删除未索引文档只回退分块计数
	require.NoError(t, docSvc.Delete(ctx, kb.ID, uploaded.ID))

	got, err := kbSvc.Get(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DocumentCount)
	assert.Equal(t, 2, got.ChunkCount)
}

func TestPurgeKnowledgeBase(t *testing.T) {
	docSvc, kbSvc, db := newDocTestEnv(t)
	ctx := context.Background()
	kb := createLocalKB(t, kbSvc, 100, 0)

	first, err := docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{Title: "first", Content: strings.Repeat("abcde", 40)})
	require.NoError(t, err)
	_, err = docSvc.Index(ctx, kb.ID, first.ID)
	require.NoError(t, err)

	_, err = docSvc.Upload(ctx, kb.ID, UploadDocumentRequest{Title: "second", Content: strings.Repeat("fghij", 60)})
	require.NoError(t, err)

	result, err := docSvc.PurgeKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DocumentsDeleted)
	assert.Equal(t, 5, result.ChunksDeleted)

	_, err = kbSvc.Get(ctx, kb.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceNotFound, errors.GetAppError(err).Code)

	var count int64
	require.NoError(t, db.Model(&models.KnowledgeDocument{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&models.KnowledgeChunk{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&knowledge.ChunkVector{}).Count(&count).Error)
	assert.Zero(t, count)

	_, err = docSvc.PurgeKnowledgeBase(ctx, kb.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeResourceNotFound, errors.GetAppError(err).Code)
}
