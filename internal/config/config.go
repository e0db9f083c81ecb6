package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// KnownKeys defines environment variable keys that hanjang recognizes.
var KnownKeys = []string{
	"HANJANG_ADDR",
	"HANJANG_SERVER_URL",
	"HANJANG_API_TOKEN",
	"HANJANG_CORS_ORIGIN",
	"HANJANG_RATE_LIMIT_RPS",
	"HANJANG_RATE_LIMIT_GLOBAL_RPS",
	"HANJANG_RATE_LIMIT_PATH_RPS",
	"HANJANG_RATE_LIMIT_IP_RPS",
	"HANJANG_DEFAULT_USER",
	"HANJANG_LOG_LEVEL",
	"HANJANG_AWS_REGION",
	"HANJANG_S3_BUCKET",
	"HANJANG_DYNAMODB_TABLE",
	"HANJANG_STORE",
	"HANJANG_SQLITE_PATH",
	"HANJANG_VECTOR_STORE",
	"HANJANG_PGVECTOR_DSN",
	"HANJANG_LLM_PROVIDER",
	"HANJANG_CHAT_MODEL",
	"HANJANG_EMBEDDING_MODEL",
	"HANJANG_OPENAI_BASE_URL",
	"HANJANG_OPENAI_API_KEY",
	"HANJANG_LLM_MIN_INTERVAL_MS",
	"HANJANG_OCR_PROVIDER",
	"HANJANG_OBJECT_STORE",
	"HANJANG_LOCAL_OBJECT_DIR",
	"HANJANG_UPLOAD_MAX_BYTES",
	"HANJANG_CHUNK_SIZE",
	"HANJANG_CHUNK_OVERLAP",
	"HANJANG_EMBED_BATCH_SIZE",
	"HANJANG_EMBED_CONCURRENCY",
	"HANJANG_EMBED_CACHE_MAX_ENTRIES",
	"HANJANG_EMBED_CACHE_TTL_SEC",
	"HANJANG_AUTO_INDEX",
}

// FilePath returns the config file that LoadAndApply would read, or "" when
// none exists. HANJANG_CONFIG overrides the search in ~/.hanjang.
func FilePath() string {
	if p := strings.TrimSpace(os.Getenv("HANJANG_CONFIG")); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	base := filepath.Join(home, ".hanjang")
	for _, name := range []string{"config.yaml", "config.yml", "config.toml", "config.json"} {
		p := filepath.Join(base, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadAndApply reads the config file (if any) and applies values into the
// process environment for known keys that are not already set. Environment
// variables take precedence over file values.
func LoadAndApply() error {
	p := FilePath()
	if p == "" {
		return nil
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", p, err)
	}
	data, err := parseFile(p, b)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", p, err)
	}
	apply(data)
	return nil
}

func parseFile(path string, b []byte) (map[string]any, error) {
	m := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &m); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(b, &m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func apply(data map[string]any) {
	for _, key := range KnownKeys {
		if os.Getenv(key) != "" {
			continue
		}
		if v, ok := lookup(data, key); ok {
			os.Setenv(key, toString(v))
		}
	}
}

// lookup accepts the env name itself (any case) or the short form without the
// HANJANG_ prefix, so "chat_model: x" works in a file.
func lookup(m map[string]any, key string) (any, bool) {
	short := strings.TrimPrefix(key, "HANJANG_")
	for k, v := range m {
		if strings.EqualFold(k, key) || strings.EqualFold(k, short) {
			return v, true
		}
	}
	return nil, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		// avoid trailing .0 for integer-like values
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
