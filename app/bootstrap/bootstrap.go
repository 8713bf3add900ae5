package bootstrap

import (
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-go/app/controllers"
	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/database"
	"github.com/aihub/knowledge-go/internal/di"
	"github.com/aihub/knowledge-go/internal/kafka"
	"github.com/aihub/knowledge-go/internal/knowledge"
	"github.com/aihub/knowledge-go/internal/logger"
	"github.com/aihub/knowledge-go/internal/services"
	"github.com/aihub/knowledge-go/internal/storage"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cleanupTasks []func() error
}

// Init bootstraps configuration, logger, database connections and other shared
// infrastructure components required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	if err := config.LoadConfig(); err != nil {
		return nil, err
	}

	app := &App{}

	if _, err := database.InitDB(); err != nil {
		return nil, err
	}
	app.cleanupTasks = append(app.cleanupTasks, database.CloseDB)

	// Redis is optional. Failure shouldn't block the app.
	if config.AppConfig.Redis.Enabled {
		if _, err := database.InitRedis(); err != nil {
			logger.Warn("Failed to initialize Redis", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, database.CloseRedis)
		}
	}

	vectorStore, err := buildVectorStore()
	if err != nil {
		return nil, err
	}

	indexer := buildFulltextIndexer()

	objectStore, err := storage.NewObjectStore(config.AppConfig.Storage)
	if err != nil {
		logger.Warn("Failed to initialize object store", zap.Error(err))
		objectStore = nil
	}

	if config.AppConfig.Kafka.Enabled {
		if err := kafka.InitProducer(config.AppConfig.Kafka.Brokers, config.AppConfig.Kafka.Topic); err != nil {
			logger.Warn("Failed to initialize Kafka producer", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				producer := kafka.GetProducer()
				if producer != nil {
					return producer.Close()
				}
				return nil
			})
		}
	}

	container, err := di.BuildContainer(vectorStore, indexer, objectStore)
	if err != nil {
		return nil, err
	}

	err = container.Invoke(func(
		kbService *services.KnowledgeBaseService,
		docService *services.DocumentService,
		ragService *services.RAGService,
		metrics *services.MetricsService,
		engine *knowledge.RetrievalEngine,
	) {
		controllers.RegisterServices(&controllers.Registry{
			KnowledgeBases: kbService,
			Documents:      docService,
			RAG:            ragService,
			Metrics:        metrics,
			Engine:         engine,
		})
	})
	if err != nil {
		return nil, err
	}

	return app, nil
}

func buildVectorStore() (knowledge.VectorStore, error) {
	cfg := config.AppConfig.VectorStore

	switch cfg.Provider {
	case "milvus":
		store, err := knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
			Address:          cfg.Milvus.Address,
			Username:         cfg.Milvus.Username,
			Password:         cfg.Milvus.Password,
			CollectionPrefix: cfg.Milvus.CollectionPrefix,
			Distance:         cfg.Milvus.Distance,
			Database:         cfg.Milvus.Database,
			UseTLS:           cfg.Milvus.TLS,
		})
		if err != nil {
			logger.Warn("Failed to connect Milvus, falling back to database vector store", zap.Error(err))
			return knowledge.NewDatabaseVectorStore(database.DB)
		}
		logger.Info("Milvus vector store initialized", zap.String("address", cfg.Milvus.Address))
		return store, nil
	case "qdrant":
		store, err := knowledge.NewQdrantVectorStore(knowledge.QdrantOptions{
			Endpoint:         cfg.Qdrant.Endpoint,
			APIKey:           cfg.Qdrant.APIKey,
			CollectionPrefix: cfg.Qdrant.CollectionPrefix,
			UseTLS:           cfg.Qdrant.TLS,
		})
		if err != nil {
			logger.Warn("Failed to connect Qdrant, falling back to database vector store", zap.Error(err))
			return knowledge.NewDatabaseVectorStore(database.DB)
		}
		logger.Info("Qdrant vector store initialized", zap.String("endpoint", cfg.Qdrant.Endpoint))
		return store, nil
	default:
		return knowledge.NewDatabaseVectorStore(database.DB)
	}
}

func buildFulltextIndexer() knowledge.FulltextIndexer {
	esCfg := config.AppConfig.Search.Elasticsearch
	if !esCfg.Enabled {
		return &knowledge.NoopFulltextIndexer{}
	}

	indexer, err := knowledge.NewElasticsearchIndexer(
		esCfg.Addresses,
		esCfg.Username,
		esCfg.Password,
		esCfg.APIKey,
		esCfg.IndexPrefix,
	)
	if err != nil {
		logger.Warn("Failed to initialize Elasticsearch indexer", zap.Error(err))
		return &knowledge.NoopFulltextIndexer{}
	}
	logger.Info("Elasticsearch indexer initialized", zap.Strings("addresses", esCfg.Addresses))
	return indexer
}

// Shutdown flushes logs and closes resources gracefully.
func (a *App) Shutdown() {
	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}

	logger.Sync()
}
