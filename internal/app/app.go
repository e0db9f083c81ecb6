// Package app assembles the services of a hanjang process from its config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"hanjang/internal/chat"
	"hanjang/internal/cloud"
	"hanjang/internal/config"
	"hanjang/internal/ddb"
	"hanjang/internal/indexer/embedpipe"
	"hanjang/internal/llm"
	"hanjang/internal/llm/bedrock"
	"hanjang/internal/llm/openai"
	"hanjang/internal/metrics"
	"hanjang/internal/notes"
	"hanjang/internal/objectstore"
	"hanjang/internal/ocr"
	"hanjang/internal/questions"
	"hanjang/internal/rag"
	"hanjang/internal/rag/retriever"
	"hanjang/internal/review"
	sqlm "hanjang/internal/storage/sqlite"
	"hanjang/internal/store"
	"hanjang/internal/vectorstore"
)

type App struct {
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics

	Store    store.Store
	Vectors  vectorstore.VectorStore
	Objects  objectstore.Store
	Embedder *llm.CachingEmbedder
	Pipeline *embedpipe.Pipeline

	RAG       *rag.Service
	Notes     *notes.Service
	Questions *questions.Service
	Chat      *chat.Service
	Reviews   *review.Service

	provider Provider
	closers  []func()
}

// Provider is a model backend that can both chat and embed.
type Provider interface {
	llm.ChatProvider
	llm.Embedder
}

// Overrides replaces externally backed components, mostly for tests and
// local runs without AWS.
type Overrides struct {
	Provider Provider
	OCR      ocr.Extractor
	Objects  objectstore.Store
	Dynamo   ddb.API
}

// Build wires every service named by cfg. Close releases what it opened.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger, ov Overrides) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var awsCfg aws.Config
	if needsAWS(cfg, ov) {
		if awsCfg, err = cloud.Load(ctx, cfg.AWSRegion); err != nil {
			return nil, err
		}
	}
	dyn := ov.Dynamo
	if dyn == nil && (cfg.Store == "dynamodb" || cfg.VectorStore == "dynamodb") {
		dyn = dynamodb.NewFromConfig(awsCfg)
	}

	var db *sql.DB
	switch cfg.Store {
	case "memory":
		a.Store = store.NewMemory()
	case "sqlite":
		ss, err := store.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.Store, db = ss, ss.DB()
		if err := (sqlm.Manager{}).Seed(ctx, db, cfg.DefaultUserID); err != nil {
			log.Warn("db.seed", zap.Error(err))
		}
	case "dynamodb":
		a.Store = store.NewDynamo(dyn, cfg.Table)
	}
	a.closers = append(a.closers, func() { _ = a.Store.Close() })

	if cfg.VectorStore == "sqlite" && db == nil {
		if db, err = sqlm.Open(ctx, cfg.SQLitePath); err != nil {
			return nil, err
		}
		vdb := db
		a.closers = append(a.closers, func() { _ = vdb.Close() })
	}
	vs, closeVS, err := vectorstore.NewFromConfig(ctx, cfg, vectorstore.Backends{SQLite: db, Dynamo: dyn})
	if err != nil {
		return nil, err
	}
	a.Vectors = vs
	a.closers = append(a.closers, closeVS)

	prov := ov.Provider
	if prov == nil {
		prov = newProvider(cfg, awsCfg)
	}
	a.provider = prov
	a.Embedder = llm.NewCachingEmbedder(prov, cfg.EmbedCacheSize, cfg.EmbedCacheTTL, a.Metrics.EmbedCache)
	a.Embedder.SetGeneration(cfg.EmbeddingModel)
	a.Pipeline = embedpipe.New(a.Embedder, vs, embedpipe.Options{
		Model:       cfg.EmbeddingModel,
		ChunkSize:   cfg.ChunkSize,
		Overlap:     cfg.ChunkOverlap,
		BatchSize:   cfg.EmbedBatchSize,
		Concurrency: cfg.EmbedConcurrency,
	}, log.Named("embedpipe"))

	ext := ov.OCR
	if ext == nil {
		if cfg.OCRProvider == "textract" {
			ext = ocr.NewTextractFromConfig(awsCfg)
		} else {
			ext = ocr.Disabled{}
		}
	}
	a.Objects = ov.Objects
	if a.Objects == nil {
		if cfg.ObjectStore == "s3" {
			a.Objects = objectstore.NewS3(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.AWSRegion)
		} else if a.Objects, err = objectstore.NewLocal(cfg.LocalObjectDir); err != nil {
			return nil, err
		}
	}

	m := a.Metrics
	a.RAG = rag.New(a.Store, vs, a.Pipeline, retriever.NewKNN(vs, a.Pipeline), m.Chat(prov, "rag"),
		rag.Options{ChatModel: cfg.ChatModel}, log.Named("rag"))
	a.Notes = notes.New(a.Store, vs, a.Objects, ext, a.RAG, notes.Options{
		MaxBytes:       cfg.UploadMaxBytes,
		DefaultUserID:  cfg.DefaultUserID,
		AutoIndex:      cfg.AutoIndex,
		OCRByReference: cfg.ObjectStore == "s3" && cfg.OCRProvider == "textract" && ov.Objects == nil,
	}, log.Named("notes"))
	a.Notes.SetObserver(m)
	a.Questions = questions.New(a.Store, m.Chat(prov, "questions"), cfg.ChatModel, log.Named("questions"))
	a.Chat = chat.New(m.Chat(prov, "chat"), cfg.ChatModel)
	a.Reviews = review.NewService(a.Store, log.Named("review"))

	m.Gauge("hanjang_embed_cache_entries", "Cached embeddings.", func() float64 { return float64(a.Embedder.Len()) })
	if _, err := vs.Stats(ctx); err == nil {
		m.Gauge("hanjang_vectors", "Stored note-chunk vectors.", func() float64 {
			st, err := vs.Stats(context.Background())
			if err != nil {
				return 0
			}
			return float64(st.TotalVectors)
		})
	} else if !errors.Is(err, vectorstore.ErrStatsUnsupported) {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	log.Info("app.ready",
		zap.String("store", cfg.Store), zap.String("vectors", cfg.VectorStore),
		zap.String("llm", cfg.LLMProvider), zap.String("chat_model", cfg.ChatModel),
		zap.String("ocr", cfg.OCRProvider), zap.String("objects", cfg.ObjectStore))
	return a, nil
}

func needsAWS(cfg config.Config, ov Overrides) bool {
	return (cfg.LLMProvider == "bedrock" && ov.Provider == nil) ||
		(cfg.OCRProvider == "textract" && ov.OCR == nil) ||
		(cfg.ObjectStore == "s3" && ov.Objects == nil) ||
		((cfg.Store == "dynamodb" || cfg.VectorStore == "dynamodb") && ov.Dynamo == nil)
}

func newProvider(cfg config.Config, awsCfg aws.Config) Provider {
	if cfg.LLMProvider == "openai" {
		return openai.New(openai.Options{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			ChatModel:   cfg.ChatModel,
			EmbedModel:  cfg.EmbeddingModel,
			MinInterval: cfg.LLMMinInterval,
		})
	}
	return bedrock.NewFromConfig(awsCfg, bedrock.Options{ChatModel: cfg.ChatModel, EmbedModel: cfg.EmbeddingModel})
}

// Models lists the model ids the configured provider offers.
func (a *App) Models(ctx context.Context) ([]string, error) {
	ml, ok := a.provider.(llm.ModelLister)
	if !ok {
		return nil, llm.ErrModelsUnsupported
	}
	return ml.ListModels(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
