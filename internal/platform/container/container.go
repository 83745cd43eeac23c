package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/kb-rag/internal/core/ask"
	"github.com/jinford/kb-rag/internal/core/chunk"
	"github.com/jinford/kb-rag/internal/core/embedding"
	"github.com/jinford/kb-rag/internal/core/eval"
	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/jinford/kb-rag/internal/core/retrieval"
	"github.com/jinford/kb-rag/internal/core/suggest"
	"github.com/jinford/kb-rag/internal/infra/anthropic"
	"github.com/jinford/kb-rag/internal/infra/extract"
	"github.com/jinford/kb-rag/internal/infra/openai"
	"github.com/jinford/kb-rag/internal/infra/postgres"
	"github.com/jinford/kb-rag/internal/infra/storage"
	"github.com/jinford/kb-rag/internal/platform/background"
	"github.com/jinford/kb-rag/internal/platform/config"
	"github.com/jinford/kb-rag/internal/platform/database"
	"github.com/jinford/kb-rag/internal/platform/metrics"
)

// shutdownTimeout はバックグラウンドタスクの完了を待つ上限
const shutdownTimeout = 10 * time.Second

// ServiceContainer はアプリケーションの依存関係を保持する
type ServiceContainer struct {
	Config *config.Config

	Embeddings *embedding.Service
	Retrieval  *retrieval.Engine
	Generation *generation.Adapter
	Ingestion  *ingestion.Pipeline
	Ask        *ask.AskService
	Suggest    *suggest.Service
	Eval       *eval.Runner

	Documents   *postgres.DocumentRepository
	Memberships *postgres.MembershipRepository
	Evals       *postgres.EvalRepository
	Storage     storage.Storage
	Metrics     *metrics.Metrics
	Tasks       *background.Runner

	logger   *slog.Logger
	database *database.DB
	tx       *database.TransactionProvider[*postgres.Adapter]
}

type containerOptions struct {
	logger          *slog.Logger
	embeddingClient embedding.Client
	streamer        generation.Streamer
	judge           eval.Judge
	storage         storage.Storage
	metrics         *metrics.Metrics
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbeddingClient は Embedding API クライアントを差し替える
func WithContainerEmbeddingClient(client embedding.Client) ContainerOption {
	return func(opts *containerOptions) {
		opts.embeddingClient = client
	}
}

// WithContainerStreamer は回答生成のストリーミングクライアントを差し替える
func WithContainerStreamer(streamer generation.Streamer) ContainerOption {
	return func(opts *containerOptions) {
		opts.streamer = streamer
	}
}

// WithContainerJudge は評価用ジャッジを差し替える
func WithContainerJudge(judge eval.Judge) ContainerOption {
	return func(opts *containerOptions) {
		opts.judge = judge
	}
}

// WithContainerStorage はドキュメント保存先を差し替える
func WithContainerStorage(s storage.Storage) ContainerOption {
	return func(opts *containerOptions) {
		opts.storage = s
	}
}

// WithContainerMetrics はメトリクスを差し替える
func WithContainerMetrics(m *metrics.Metrics) ContainerOption {
	return func(opts *containerOptions) {
		opts.metrics = m
	}
}

// NewContainer は設定からコンテナを生成する
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	c, err := NewContainerWithDB(ctx, cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存の DB を受け取りコンテナを生成する
func NewContainerWithDB(ctx context.Context, cfg *config.Config, db *database.DB, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	m := options.metrics
	if m == nil {
		m = metrics.New(nil)
	}

	if err := resolveModelClients(cfg, &options); err != nil {
		return nil, err
	}

	docStorage := options.storage
	if docStorage == nil {
		var err error
		docStorage, err = storage.New(ctx, storage.Config{
			Type:         storage.Type(cfg.Storage.Type),
			LocalPath:    cfg.Storage.LocalDir,
			S3Bucket:     cfg.Storage.S3Bucket,
			S3Region:     cfg.Storage.S3Region,
			AWSAccessKey: cfg.Storage.AccessKey,
			AWSSecretKey: cfg.Storage.SecretKey,
			S3Endpoint:   cfg.Storage.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	tokenizer, err := chunk.NewTiktokenTokenizer(chunk.DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}
	chunker, err := chunk.New(tokenizer, chunk.Config{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
		MinTokens: cfg.Chunking.MinTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	// Repository (PostgreSQL)
	documents := postgres.NewDocumentRepository(db.Pool)
	chunks := postgres.NewChunkRepository(db.Pool)
	evals := postgres.NewEvalRepository(db.Pool)
	txProvider := database.NewTransactionProvider(db.Pool, postgres.NewAdapter)

	embeddings := embedding.NewService(options.embeddingClient,
		embedding.WithBatchSize(cfg.Chunking.EmbedBatchSize),
		embedding.WithEmbeddingLogger(logger),
	)

	engine := retrieval.NewEngine(chunks, documents,
		retrieval.WithRetrievalLogger(logger),
		retrieval.WithRetrievalObserver(m),
	)

	adapter := generation.NewAdapter(options.streamer,
		generation.WithAdapterLogger(logger),
		generation.WithAdapterObserver(m),
	)

	pipeline := ingestion.NewPipeline(
		postgres.NewIngestionRepository(db.Pool),
		docStorage,
		extract.New(),
		chunker,
		embeddings,
		ingestion.WithPersistBatchSize(cfg.Chunking.PersistBatchSize),
		ingestion.WithPipelineLogger(logger),
		ingestion.WithPipelineObserver(m),
	)

	tasks := background.NewRunner(ctx, background.WithRunnerLogger(logger))

	askService := ask.NewAskService(embeddings, engine, adapter,
		ask.WithAskLogger(logger),
		ask.WithAskDefaults(retrieval.Options{K: cfg.Retrieval.ChatK, Threshold: cfg.Retrieval.ChatThreshold}),
		ask.WithMissingKBThreshold(cfg.Retrieval.MissingKBThreshold),
		ask.WithExchangeRecording(&exchangeRecorder{tx: txProvider, gaps: postgres.NewExchangeRepository(db.Pool)}, tasks),
	)

	suggestService := suggest.NewService(embeddings, engine,
		suggest.WithSuggestLogger(logger),
		suggest.WithSuggestDefaults(retrieval.Options{K: cfg.Retrieval.SuggestK, Threshold: cfg.Retrieval.SuggestThreshold}),
	)

	evalRunner := eval.NewRunner(embeddings, engine, adapter, options.judge,
		eval.WithRunnerLogger(logger),
		eval.WithRetrievalOptions(retrieval.Options{K: cfg.Retrieval.EvalK, Threshold: cfg.Retrieval.EvalThreshold}),
		eval.WithRunnerObserver(m),
	)

	return &ServiceContainer{
		Config:      cfg,
		Embeddings:  embeddings,
		Retrieval:   engine,
		Generation:  adapter,
		Ingestion:   pipeline,
		Ask:         askService,
		Suggest:     suggestService,
		Eval:        evalRunner,
		Documents:   documents,
		Memberships: postgres.NewMembershipRepository(db.Pool),
		Evals:       evals,
		Storage:     docStorage,
		Metrics:     m,
		Tasks:       tasks,
		logger:      logger,
		database:    db,
		tx:          txProvider,
	}, nil
}

// resolveModelClients は差し替えられていないモデルクライアントを設定から生成する
func resolveModelClients(cfg *config.Config, options *containerOptions) error {
	if options.embeddingClient != nil && options.streamer != nil && options.judge != nil {
		return nil
	}

	var client *openai.Client
	openaiClient := func() (*openai.Client, error) {
		if client != nil {
			return client, nil
		}
		c, err := openai.NewClient(cfg.OpenAI.APIKey, openai.WithClientLogger(options.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		client = c
		return client, nil
	}

	if options.embeddingClient == nil {
		c, err := openaiClient()
		if err != nil {
			return err
		}
		options.embeddingClient = openai.NewEmbedder(c,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		)
	}

	if options.streamer == nil {
		c, err := openaiClient()
		if err != nil {
			return err
		}
		options.streamer = openai.NewChatStreamer(c, cfg.OpenAI.ChatModel)
	}

	if options.judge == nil {
		switch cfg.Judge.Provider {
		case "anthropic":
			judge, err := anthropic.NewJudge(cfg.Judge.APIKey, anthropic.WithModel(cfg.Judge.Model))
			if err != nil {
				return fmt.Errorf("failed to initialize Anthropic judge: %w", err)
			}
			options.judge = judge
		default:
			c, err := openaiClient()
			if err != nil {
				return err
			}
			options.judge = openai.NewJudge(c, cfg.Judge.Model)
		}
	}

	return nil
}

// Close はバックグラウンドタスクの完了を待ってから内部リソースを解放する
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if c.Tasks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.Tasks.Wait(ctx); err != nil {
			c.Logger().Warn("background tasks did not finish before shutdown", "error", err)
		}
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す
func (c *ServiceContainer) Database() *database.DB {
	if c == nil {
		return nil
	}
	return c.database
}
