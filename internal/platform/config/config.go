package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	Database  DatabaseConfig
	OpenAI    OpenAIConfig
	Judge     JudgeConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	Storage   StorageConfig
	HTTP      HTTPConfig
	Log       LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定（Embeddings + 回答生成）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	ChatModel          string
}

// JudgeConfig は評価用ジャッジモデルの設定
type JudgeConfig struct {
	Provider string // "openai" or "anthropic"
	Model    string
	APIKey   string // anthropic の場合のみ使用
}

// ChunkingConfig はチャンク化とバッチサイズの設定
type ChunkingConfig struct {
	ChunkSize        int
	Overlap          int
	MinTokens        int
	EmbedBatchSize   int
	PersistBatchSize int
}

// RetrievalConfig は呼び出し元ごとの検索デフォルト値
type RetrievalConfig struct {
	ChatK              int
	ChatThreshold      float64
	SuggestK           int
	SuggestThreshold   float64
	EvalK              int
	EvalThreshold      float64
	MissingKBThreshold float64
}

// StorageConfig はドキュメント保存先の設定
type StorageConfig struct {
	Type      string // "local" or "s3"
	LocalDir  string
	S3Bucket  string
	S3Region  string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// HTTPConfig はHTTPサーバー設定
type HTTPConfig struct {
	Addr              string
	ChatRatePerMinute int
	IngestRatePerHour int
}

// LogConfig はログ出力設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	judgeProvider := getEnv("JUDGE_PROVIDER", "openai")
	defaultJudgeModel := "gpt-4o-mini"
	if judgeProvider == "anthropic" {
		defaultJudgeModel = "claude-3-5-haiku-latest"
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "kb_rag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIM", 1536),
			ChatModel:          getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		},
		Judge: JudgeConfig{
			Provider: judgeProvider,
			Model:    getEnv("JUDGE_MODEL", defaultJudgeModel),
			APIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		},
		Chunking: ChunkingConfig{
			ChunkSize:        getEnvAsInt("CHUNK_SIZE", 512),
			Overlap:          getEnvAsInt("CHUNK_OVERLAP", 50),
			MinTokens:        getEnvAsInt("CHUNK_MIN_TOKENS", 50),
			EmbedBatchSize:   getEnvAsInt("EMBED_BATCH_SIZE", 100),
			PersistBatchSize: getEnvAsInt("PERSIST_BATCH_SIZE", 500),
		},
		Retrieval: RetrievalConfig{
			ChatK:              getEnvAsInt("CHAT_K", 8),
			ChatThreshold:      getEnvAsFloat("CHAT_THRESHOLD", 0.5),
			SuggestK:           getEnvAsInt("SUGGEST_K", 3),
			SuggestThreshold:   getEnvAsFloat("SUGGEST_THRESHOLD", 0.4),
			EvalK:              getEnvAsInt("EVAL_K", 5),
			EvalThreshold:      getEnvAsFloat("EVAL_THRESHOLD", 0.3),
			MissingKBThreshold: getEnvAsFloat("MISSING_KB_THRESHOLD", 0.6),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			LocalDir:  getEnv("STORAGE_LOCAL_DIR", "./data/uploads"),
			S3Bucket:  getEnv("AWS_S3_BUCKET", ""),
			S3Region:  getEnv("AWS_REGION", "us-east-1"),
			AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:  getEnv("AWS_S3_ENDPOINT", ""),
		},
		HTTP: HTTPConfig{
			Addr:              getEnv("HTTP_ADDR", ":8080"),
			ChatRatePerMinute: getEnvAsInt("CHAT_RATE_PER_MINUTE", 20),
			IngestRatePerHour: getEnvAsInt("INGEST_RATE_PER_HOUR", 10),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive: %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE): %d", c.Chunking.Overlap)
	}
	switch c.Judge.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported JUDGE_PROVIDER: %s", c.Judge.Provider)
	}
	switch c.Storage.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("unsupported STORAGE_TYPE: %s", c.Storage.Type)
	}
	return nil
}

// SlogLevel はLOG_LEVELをslog.Levelに変換します。不明な値はInfoとして扱います
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
