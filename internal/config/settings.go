package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAddr           = ":5000"
	DefaultUserID         = "test-user"
	DefaultRegion         = "ap-northeast-2"
	DefaultBucket         = "learning-notes-bucket"
	DefaultTable          = "LearningNotesTable"
	DefaultBedrockChat    = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	DefaultBedrockEmbed   = "amazon.titan-embed-text-v2:0"
	DefaultOpenAIChat     = "gpt-4o-mini"
	DefaultOpenAIEmbed    = "text-embedding-3-small"
	DefaultUploadMaxBytes = 10 << 20
	DefaultChunkSize      = 500
	DefaultChunkOverlap   = 50
)

// Config is the resolved runtime configuration.
type Config struct {
	Addr       string
	ServerURL  string
	APIToken   string
	CORSOrigin string
	// Rate limits in requests per second per scope; 0 disables a scope.
	RateLimitGlobalRPS float64
	RateLimitPathRPS   float64
	RateLimitIPRPS     float64
	DefaultUserID      string
	LogLevel           string

	AWSRegion string
	Bucket    string
	Table     string

	Store       string // memory|sqlite|dynamodb
	SQLitePath  string
	VectorStore string // memory|sqlite|dynamodb|pgvector|noop
	PGVectorDSN string

	LLMProvider    string // bedrock|openai
	ChatModel      string
	EmbeddingModel string
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	LLMMinInterval time.Duration

	OCRProvider    string // textract|none
	ObjectStore    string // s3|local
	LocalObjectDir string
	UploadMaxBytes int64

	ChunkSize        int
	ChunkOverlap     int
	EmbedBatchSize   int
	EmbedConcurrency int
	EmbedCacheSize   int
	EmbedCacheTTL    time.Duration
	AutoIndex        bool
}

// FromEnv resolves a Config from the environment, filling defaults and
// normalizing enum values. Call Validate before use.
func FromEnv() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".hanjang")
	c := Config{
		Addr:               env("HANJANG_ADDR", DefaultAddr),
		ServerURL:          env("HANJANG_SERVER_URL", "http://localhost:5000"),
		APIToken:           os.Getenv("HANJANG_API_TOKEN"),
		CORSOrigin:         env("HANJANG_CORS_ORIGIN", "*"),
		RateLimitGlobalRPS: envFloat("HANJANG_RATE_LIMIT_GLOBAL_RPS", envFloat("HANJANG_RATE_LIMIT_RPS", 0)),
		RateLimitPathRPS:   envFloat("HANJANG_RATE_LIMIT_PATH_RPS", envFloat("HANJANG_RATE_LIMIT_RPS", 0)),
		RateLimitIPRPS:     envFloat("HANJANG_RATE_LIMIT_IP_RPS", envFloat("HANJANG_RATE_LIMIT_RPS", 0)),
		DefaultUserID:      env("HANJANG_DEFAULT_USER", DefaultUserID),
		LogLevel:           env("HANJANG_LOG_LEVEL", "info"),

		AWSRegion: env("HANJANG_AWS_REGION", env("AWS_REGION", DefaultRegion)),
		Bucket:    env("HANJANG_S3_BUCKET", env("S3_BUCKET_NAME", DefaultBucket)),
		Table:     env("HANJANG_DYNAMODB_TABLE", env("DYNAMODB_TABLE_NAME", DefaultTable)),

		Store:       lower(env("HANJANG_STORE", "sqlite")),
		SQLitePath:  env("HANJANG_SQLITE_PATH", filepath.Join(dataDir, "hanjang.db")),
		VectorStore: lower(os.Getenv("HANJANG_VECTOR_STORE")),
		PGVectorDSN: os.Getenv("HANJANG_PGVECTOR_DSN"),

		LLMProvider:    lower(env("HANJANG_LLM_PROVIDER", "bedrock")),
		ChatModel:      os.Getenv("HANJANG_CHAT_MODEL"),
		EmbeddingModel: os.Getenv("HANJANG_EMBEDDING_MODEL"),
		OpenAIBaseURL:  os.Getenv("HANJANG_OPENAI_BASE_URL"),
		OpenAIAPIKey:   os.Getenv("HANJANG_OPENAI_API_KEY"),
		LLMMinInterval: time.Duration(envInt("HANJANG_LLM_MIN_INTERVAL_MS", 0)) * time.Millisecond,

		OCRProvider:    lower(env("HANJANG_OCR_PROVIDER", "textract")),
		ObjectStore:    lower(env("HANJANG_OBJECT_STORE", "s3")),
		LocalObjectDir: env("HANJANG_LOCAL_OBJECT_DIR", filepath.Join(dataDir, "objects")),
		UploadMaxBytes: int64(envInt("HANJANG_UPLOAD_MAX_BYTES", DefaultUploadMaxBytes)),

		ChunkSize:        envInt("HANJANG_CHUNK_SIZE", DefaultChunkSize),
		ChunkOverlap:     envInt("HANJANG_CHUNK_OVERLAP", DefaultChunkOverlap),
		EmbedBatchSize:   envInt("HANJANG_EMBED_BATCH_SIZE", 16),
		EmbedConcurrency: envInt("HANJANG_EMBED_CONCURRENCY", 2),
		EmbedCacheSize:   envInt("HANJANG_EMBED_CACHE_MAX_ENTRIES", 2048),
		EmbedCacheTTL:    time.Duration(envInt("HANJANG_EMBED_CACHE_TTL_SEC", 900)) * time.Second,
		AutoIndex:        envBool("HANJANG_AUTO_INDEX"),
	}
	if c.VectorStore == "" {
		// vectors live next to notes unless told otherwise
		c.VectorStore = c.Store
	}
	if c.ChatModel == "" {
		c.ChatModel = defaultChatModel(c.LLMProvider)
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = defaultEmbedModel(c.LLMProvider)
	}
	return c
}

func defaultChatModel(provider string) string {
	if provider == "openai" {
		return DefaultOpenAIChat
	}
	return env("BEDROCK_MODEL_ID", DefaultBedrockChat)
}

func defaultEmbedModel(provider string) string {
	if provider == "openai" {
		return DefaultOpenAIEmbed
	}
	return DefaultBedrockEmbed
}

var (
	storeKinds  = []string{"memory", "sqlite", "dynamodb"}
	vectorKinds = []string{"memory", "sqlite", "dynamodb", "pgvector", "noop"}
	llmKinds    = []string{"bedrock", "openai"}
	ocrKinds    = []string{"textract", "none"}
	objectKinds = []string{"s3", "local"}
)

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	check := func(name, v string, allowed []string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unsupported value %q (want one of %s)", name, v, strings.Join(allowed, ", ")))
	}
	check("store", c.Store, storeKinds)
	check("vector store", c.VectorStore, vectorKinds)
	check("llm provider", c.LLMProvider, llmKinds)
	check("ocr provider", c.OCRProvider, ocrKinds)
	check("object store", c.ObjectStore, objectKinds)
	if c.Store == "sqlite" && c.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite path is required"))
	}
	if c.VectorStore == "pgvector" && c.PGVectorDSN == "" {
		errs = append(errs, errors.New("pgvector store requires HANJANG_PGVECTOR_DSN"))
	}
	if c.LLMProvider == "openai" && c.OpenAIBaseURL == "" {
		errs = append(errs, errors.New("openai provider requires HANJANG_OPENAI_BASE_URL"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk overlap %d must be in [0, %d)", c.ChunkOverlap, c.ChunkSize))
	}
	if c.UploadMaxBytes <= 0 {
		errs = append(errs, errors.New("upload max bytes must be positive"))
	}
	if c.EmbedBatchSize <= 0 || c.EmbedConcurrency <= 0 {
		errs = append(errs, errors.New("embed batch size and concurrency must be positive"))
	}
	return errors.Join(errs...)
}

// UsesAWS reports whether any configured component talks to AWS.
func (c Config) UsesAWS() bool {
	return c.Store == "dynamodb" || c.VectorStore == "dynamodb" || c.LLMProvider == "bedrock" ||
		c.OCRProvider == "textract" || c.ObjectStore == "s3"
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string) bool {
	switch lower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
