package di

import (
	"fmt"

	"go.uber.org/dig"
	"gorm.io/gorm"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/database"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/services"
	"github.com/aihub/knowledge-go/internal/storage"
)

// BuildContainer 注册全部依赖提供者并返回容器
func BuildContainer(vectorStore knowledge.VectorStore, indexer knowledge.FulltextIndexer, objectStore *storage.ObjectStore) (*dig.Container, error) {
	container := dig.New()

	providers := []interface{}{
		func() (*config.Config, error) {
			if config.AppConfig == nil {
				return nil, fmt.Errorf("config not loaded")
			}
			return config.AppConfig, nil
		},
		func() (*gorm.DB, error) {
			if database.DB == nil {
				return nil, fmt.Errorf("database not initialized")
			}
			return database.DB, nil
		},
		func() knowledge.VectorStore { return vectorStore },
		func() knowledge.FulltextIndexer { return indexer },
		func() *storage.ObjectStore { return objectStore },
		knowledge.NewRetrievalEngine,
		services.NewKnowledgeBaseService,
		services.NewChunkCache,
		services.NewMetricsService,
		services.NewDocumentService,
		services.NewRAGService,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}
