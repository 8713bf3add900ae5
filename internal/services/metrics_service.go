package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService 知识库指标服务
type MetricsService struct {
	documentsIndexed  *prometheus.CounterVec
	chunksIndexed     *prometheus.CounterVec
	retrievalRequests *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	embeddingErrors   *prometheus.CounterVec
}

var globalMetricsService *MetricsService

// NewMetricsService 创建指标服务并注册Prometheus指标
func NewMetricsService() *MetricsService {
	if globalMetricsService != nil {
		return globalMetricsService
	}

	ms := &MetricsService{
		documentsIndexed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_documents_indexed_total",
				Help: "Total number of documents indexed",
			},
			[]string{"provider"},
		),
		chunksIndexed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_chunks_indexed_total",
				Help: "Total number of chunks indexed",
			},
			[]string{"provider"},
		),
		retrievalRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_retrieval_requests_total",
				Help: "Total number of retrieval requests",
			},
			[]string{"status"},
		),
		retrievalDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knowledge_retrieval_duration_seconds",
				Help:    "Duration of retrieval requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		embeddingErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_embedding_errors_total",
				Help: "Total number of embedding provider errors",
			},
			[]string{"provider"},
		),
	}

	globalMetricsService = ms
	return ms
}

// RecordDocumentIndexed 记录文档索引完成
func (ms *MetricsService) RecordDocumentIndexed(provider string, chunks int) {
	ms.documentsIndexed.WithLabelValues(provider).Inc()
	ms.chunksIndexed.WithLabelValues(provider).Add(float64(chunks))
}

// RecordRetrieval 记录一次检索
func (ms *MetricsService) RecordRetrieval(backend string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ms.retrievalRequests.WithLabelValues(status).Inc()
	ms.retrievalDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordEmbeddingError 记录嵌入服务错误
func (ms *MetricsService) RecordEmbeddingError(provider string) {
	ms.embeddingErrors.WithLabelValues(provider).Inc()
}

// Handler 返回Prometheus指标的HTTP处理器
func (ms *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}
