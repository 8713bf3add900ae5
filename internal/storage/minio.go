package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/logger"
)

// ObjectStore MinIO对象存储，用于归档文档原文
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore 创建对象存储客户端，未配置时返回nil（存储为可选能力）
func NewObjectStore(cfg config.ObjectStorageConfig) (*ObjectStore, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, nil
	}

	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "knowledge"
	}

	store := &ObjectStore{client: client, bucket: bucket}
	if err := store.ensureBucket(context.Background()); err != nil {
		return nil, err
	}

	logger.Info("object store initialized",
		zap.String("endpoint", endpoint),
		zap.String("bucket", bucket))
	return store, nil
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "BucketAlreadyExists") ||
			strings.Contains(errStr, "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func documentObjectKey(kbID, docID string) string {
	return fmt.Sprintf("knowledge/%s/%s.txt", kbID, docID)
}

// ArchiveDocument 归档文档原文
func (s *ObjectStore) ArchiveDocument(ctx context.Context, kbID, docID, content string) (string, error) {
	if s == nil || s.client == nil {
		return "", nil
	}

	key := documentObjectKey(kbID, docID)
	reader := bytes.NewReader([]byte(content))
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// FetchDocument 读取归档的文档原文
func (s *ObjectStore) FetchDocument(ctx context.Context, kbID, docID string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("object store not configured")
	}

	object, err := s.client.GetObject(ctx, s.bucket, documentObjectKey(kbID, docID), minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RemoveDocument 删除归档文件，不存在时视为成功
func (s *ObjectStore) RemoveDocument(ctx context.Context, kbID, docID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.RemoveObject(ctx, s.bucket, documentObjectKey(kbID, docID), minio.RemoveObjectOptions{})
}

// PresignedURL 生成文档的预签名下载链接
func (s *ObjectStore) PresignedURL(ctx context.Context, kbID, docID string, expires time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("object store not configured")
	}
	if expires == 0 {
		expires = 24 * time.Hour
	}
	url, err := s.client.PresignedGetObject(ctx, s.bucket, documentObjectKey(kbID, docID), expires, nil)
	if err != nil {
		return "", err
	}
	return url.String(), nil
}

// Ready 对象存储是否可用
func (s *ObjectStore) Ready() bool {
	return s != nil && s.client != nil
}

// HealthCheck 执行存储健康检查
func (s *ObjectStore) HealthCheck(ctx context.Context) error {
	if !s.Ready() {
		return fmt.Errorf("object store not configured")
	}
	_, err := s.client.ListBuckets(ctx)
	return err
}
