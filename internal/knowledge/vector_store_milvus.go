package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address          string
	Username         string
	Password         string
	CollectionPrefix string
	Distance         string
	Database         string
	UseTLS           bool
	Timeout          time.Duration
}

type milvusVectorStore struct {
	milvusClient     client.Client
	collectionPrefix string
	distance         string
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = "kb_vectors"
	}
	if opts.Distance == "" {
		opts.Distance = "COSINE"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	milvusClient, err := client.NewClient(
		context.Background(),
		client.Config{
			Address:       opts.Address,
			DBName:        opts.Database,
			Username:      opts.Username,
			Password:      opts.Password,
			EnableTLSAuth: opts.UseTLS,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorStore{
		milvusClient:     milvusClient,
		collectionPrefix: opts.CollectionPrefix,
		distance:         formatMilvusDistance(opts.Distance),
	}, nil
}

func formatMilvusDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

// collectionName 集合名只允许字母数字下划线，UUID中的连字符需替换
func (s *milvusVectorStore) collectionName(kbID string) string {
	return fmt.Sprintf("%s_%s", s.collectionPrefix, strings.ReplaceAll(kbID, "-", "_"))
}

func (s *milvusVectorStore) EnsureCollection(ctx context.Context, info CollectionInfo) error {
	name := s.collectionName(info.KnowledgeBaseID)

	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if hasCollection {
		return nil
	}

	// 集合描述携带知识库元数据，保证重新打开时配置一致
	descriptor, _ := json.Marshal(map[string]string{
		"knowledge_base_id":  info.KnowledgeBaseID,
		"name":               info.KnowledgeBaseName,
		"embedding_provider": info.EmbeddingProvider,
		"embedding_model":    info.EmbeddingModel,
	})

	schema := &entity.Schema{
		CollectionName: name,
		Description:    string(descriptor),
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "36"},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "36"},
			},
			{
				Name:       "knowledge_base_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "36"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "start_char",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "end_char",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       "metadata",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       "vector",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", info.Dimensions)},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// 创建索引，HNSW失败时退回IVF_FLAT
	metric := entity.MetricType(s.distance)
	var index entity.Index
	index, indexErr := entity.NewIndexHNSW(metric, 8, 64)
	if indexErr != nil {
		index, indexErr = entity.NewIndexIvfFlat(metric, 128)
		if indexErr != nil {
			return fmt.Errorf("failed to create index: %w", indexErr)
		}
	}
	if err := s.milvusClient.CreateIndex(ctx, name, "vector", index, false); err != nil {
		// 索引创建失败不影响使用
		logger.Warn("failed to create milvus index", zap.String("collection", name), zap.Error(err))
	}

	return nil
}

func (s *milvusVectorStore) UpsertChunks(ctx context.Context, info CollectionInfo, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, info); err != nil {
		return err
	}

	name := s.collectionName(info.KnowledgeBaseID)

	ids := make([]string, len(chunks))
	documentIDs := make([]string, len(chunks))
	kbIDs := make([]string, len(chunks))
	chunkIndexes := make([]int64, len(chunks))
	startChars := make([]int64, len(chunks))
	endChars := make([]int64, len(chunks))
	contents := make([]string, len(chunks))
	metadatas := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))

	for i, chunk := range chunks {
		ids[i] = chunk.ChunkID
		documentIDs[i] = chunk.DocumentID
		kbIDs[i] = chunk.KnowledgeBaseID
		chunkIndexes[i] = int64(chunk.ChunkIndex)
		startChars[i] = int64(chunk.StartChar)
		endChars[i] = int64(chunk.EndChar)
		contents[i] = chunk.Content
		if chunk.Metadata != nil {
			metaJSON, _ := json.Marshal(chunk.Metadata)
			metadatas[i] = string(metaJSON)
		}
		vectors[i] = chunk.Embedding
	}

	_, err := s.milvusClient.Upsert(ctx, name, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("knowledge_base_id", kbIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnInt64("start_char", startChars),
		entity.NewColumnInt64("end_char", endChars),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnVarChar("metadata", metadatas),
		entity.NewColumnFloatVector("vector", info.Dimensions, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus upsert failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, name, false); err != nil {
		logger.Warn("failed to flush milvus collection", zap.String("collection", name), zap.Error(err))
	}

	return nil
}

func (s *milvusVectorStore) DeleteDocument(ctx context.Context, knowledgeBaseID, documentID string) error {
	name := s.collectionName(knowledgeBaseID)

	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !hasCollection {
		return ErrCollectionNotFound
	}

	expr := fmt.Sprintf("document_id == %q", documentID)
	if err := s.milvusClient.Delete(ctx, name, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, name, false); err != nil {
		logger.Warn("failed to flush after delete", zap.String("collection", name), zap.Error(err))
	}

	return nil
}

func (s *milvusVectorStore) DeleteCollection(ctx context.Context, knowledgeBaseID string) error {
	name := s.collectionName(knowledgeBaseID)

	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !hasCollection {
		return ErrCollectionNotFound
	}

	if err := s.milvusClient.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("milvus drop collection failed: %w", err)
	}
	return nil
}

func (s *milvusVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}

	name := s.collectionName(req.KnowledgeBaseID)
	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !hasCollection {
		// 未建集合的知识库返回空结果而不是报错
		return []SearchMatch{}, nil
	}

	if req.Limit == 0 {
		req.Limit = 10
	}

	if err := s.milvusClient.LoadCollection(ctx, name, false); err != nil {
		return nil, fmt.Errorf("milvus load collection failed: %w", err)
	}

	expr := buildMilvusFilter(req.Filter)
	sp, _ := entity.NewIndexHNSWSearchParam(64)

	searchResults, err := s.milvusClient.Search(
		ctx,
		name,
		[]string{},
		expr,
		[]string{"document_id", "chunk_index", "content", "metadata"},
		[]entity.Vector{entity.FloatVector(req.QueryEmbedding)},
		"vector",
		entity.MetricType(s.distance),
		req.Limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return []SearchMatch{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}
	if result.ResultCount == 0 {
		return []SearchMatch{}, nil
	}

	var ids []string
	if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
		ids = idCol.Data()
	}

	var documentIDs, contents, metadatas []string
	var chunkIndexes []int64
	for _, field := range result.Fields {
		switch field.Name() {
		case "document_id":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				documentIDs = col.Data()
			}
		case "chunk_index":
			if col, ok := field.(*entity.ColumnInt64); ok {
				chunkIndexes = col.Data()
			}
		case "content":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				contents = col.Data()
			}
		case "metadata":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				metadatas = col.Data()
			}
		}
	}

	matches := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		match := SearchMatch{}
		if i < len(ids) {
			match.ChunkID = ids[i]
		}
		if i < len(documentIDs) {
			match.DocumentID = documentIDs[i]
		}
		if i < len(chunkIndexes) {
			match.ChunkIndex = int(chunkIndexes[i])
		}
		if i < len(contents) {
			match.Content = contents[i]
		}
		if i < len(metadatas) && metadatas[i] != "" {
			var meta map[string]interface{}
			if err := json.Unmarshal([]byte(metadatas[i]), &meta); err == nil {
				match.Metadata = meta
			}
		}
		if i < len(result.Scores) {
			// COSINE/IP 返回相似度得分，换算为距离
			match.Distance = 1 - float64(result.Scores[i])
		}
		matches = append(matches, match)
	}

	return matches, nil
}

func buildMilvusFilter(filter map[string]interface{}) string {
	if len(filter) == 0 {
		return ""
	}
	var parts []string
	for key, value := range filter {
		switch v := value.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%s == %q", key, v))
		default:
			parts = append(parts, fmt.Sprintf("%s == %v", key, v))
		}
	}
	return strings.Join(parts, " && ")
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
