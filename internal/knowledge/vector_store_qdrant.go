package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Endpoint         string
	APIKey           string
	CollectionPrefix string
	UseTLS           bool
	Timeout          time.Duration
}

type qdrantVectorStore struct {
	client           *http.Client
	endpoint         string
	apiKey           string
	collectionPrefix string
}

// NewQdrantVectorStore 创建Qdrant向量存储
func NewQdrantVectorStore(opts QdrantOptions) (VectorStore, error) {
	if opts.Endpoint == "" {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://localhost:6333", scheme)
	}
	if !strings.HasPrefix(opts.Endpoint, "http") {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = "kb_vectors"
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &qdrantVectorStore{
		client:           &http.Client{Timeout: timeout},
		endpoint:         strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:           opts.APIKey,
		collectionPrefix: opts.CollectionPrefix,
	}, nil
}

func (s *qdrantVectorStore) collectionName(kbID string) string {
	return fmt.Sprintf("%s_%s", s.collectionPrefix, strings.ReplaceAll(kbID, "-", "_"))
}

func (s *qdrantVectorStore) collectionExists(ctx context.Context, name string) (bool, error) {
	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", name), nil)
	if err != nil {
		return false, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK, nil
}

func (s *qdrantVectorStore) EnsureCollection(ctx context.Context, info CollectionInfo) error {
	name := s.collectionName(info.KnowledgeBaseID)

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     info.Dimensions,
			"distance": "Cosine",
		},
	}
	resp, err := s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", name), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("create collection %s failed: %s", name, resp.Status)
	}
	return nil
}

func (s *qdrantVectorStore) UpsertChunks(ctx context.Context, info CollectionInfo, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, info); err != nil {
		return err
	}

	points := make([]map[string]interface{}, 0, len(chunks))
	for _, chunk := range chunks {
		payload := map[string]interface{}{
			"document_id":       chunk.DocumentID,
			"knowledge_base_id": chunk.KnowledgeBaseID,
			"chunk_index":       chunk.ChunkIndex,
			"start_char":        chunk.StartChar,
			"end_char":          chunk.EndChar,
			"content":           chunk.Content,
		}
		for key, value := range chunk.Metadata {
			if _, reserved := payload[key]; !reserved {
				payload[key] = value
			}
		}
		points = append(points, map[string]interface{}{
			"id":      chunk.ChunkID,
			"vector":  chunk.Embedding,
			"payload": payload,
		})
	}

	resp, err := s.doRequest(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", s.collectionName(info.KnowledgeBaseID)),
		map[string]interface{}{"points": points})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant upsert failed: %s %s", resp.Status, string(raw))
	}
	return nil
}

func (s *qdrantVectorStore) DeleteDocument(ctx context.Context, knowledgeBaseID, documentID string) error {
	name := s.collectionName(knowledgeBaseID)

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCollectionNotFound
	}

	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{
					"key":   "document_id",
					"match": map[string]interface{}{"value": documentID},
				},
			},
		},
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", name), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant delete failed: %s %s", resp.Status, string(raw))
	}
	return nil
}

func (s *qdrantVectorStore) DeleteCollection(ctx context.Context, knowledgeBaseID string) error {
	name := s.collectionName(knowledgeBaseID)

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCollectionNotFound
	}

	resp, err := s.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", name), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant drop collection failed: %s", resp.Status)
	}
	return nil
}

func (s *qdrantVectorStore) Search(ctx context.Context, req VectorSearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}

	name := s.collectionName(req.KnowledgeBaseID)
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []SearchMatch{}, nil
	}

	if req.Limit == 0 {
		req.Limit = 10
	}

	body := map[string]interface{}{
		"vector":       req.QueryEmbedding,
		"limit":        req.Limit,
		"with_payload": true,
		"with_vectors": false,
	}
	if len(req.Filter) > 0 {
		var must []map[string]interface{}
		for key, value := range req.Filter {
			must = append(must, map[string]interface{}{
				"key":   key,
				"match": map[string]interface{}{"value": value},
			})
		}
		body["filter"] = map[string]interface{}{"must": must}
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", name), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: %s %s", resp.Status, string(raw))
	}

	var searchResp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, err
	}

	matches := make([]SearchMatch, 0, len(searchResp.Result))
	for _, item := range searchResp.Result {
		payload := item.Payload
		match := SearchMatch{
			// Cosine得分为相似度，换算为距离
			Distance: 1 - item.Score,
			Metadata: payload,
		}
		if id, ok := item.ID.(string); ok {
			match.ChunkID = id
		}
		if docID, ok := payload["document_id"].(string); ok {
			match.DocumentID = docID
		}
		if content, ok := payload["content"].(string); ok {
			match.Content = content
		}
		if idx, ok := payload["chunk_index"].(float64); ok {
			match.ChunkIndex = int(idx)
		}
		delete(payload, "content")
		delete(payload, "document_id")
		matches = append(matches, match)
	}

	return matches, nil
}

func (s *qdrantVectorStore) Ready() bool {
	return s.client != nil
}

func (s *qdrantVectorStore) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}
