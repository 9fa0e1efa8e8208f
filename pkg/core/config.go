package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for an Engine.
//
// Example:
//
//	config := &core.Config{
//	    LLM: core.LLMConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	        Model:    "gpt-4o-mini",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-ada-002",
//	        Dimensions: 1536,
//	    },
//	    Store: core.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./converse.db",
//	        },
//	    },
//	}
type Config struct {
	// LLM contains language model provider configuration.
	LLM LLMConfig `json:"llm"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Store contains storage backend configuration.
	Store StoreConfig `json:"store"`

	// Answering contains thresholds and limits for the answer pipeline.
	Answering AnsweringConfig `json:"answering"`

	// Cache contains context snapshot cache configuration.
	Cache CacheConfig `json:"cache"`
}

// LLMConfig contains configuration for the language model provider.
//
// Supported providers: openai, deepseek, ollama
type LLMConfig struct {
	// Provider is the LLM provider name (openai, deepseek, ollama).
	Provider string `json:"provider"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key"`

	// Model is the model name (e.g. "gpt-4o-mini", "deepseek-chat").
	Model string `json:"model"`

	// BaseURL overrides the provider's default endpoint (optional).
	BaseURL string `json:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, qwen
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, qwen).
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g. "text-embedding-ada-002").
	Model string `json:"model"`

	// BaseURL overrides the provider's default endpoint (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the embedding vector dimension (e.g. 1536).
	Dimensions int `json:"dimensions,omitempty"`
}

// StoreConfig contains configuration for the storage backend.
//
// Supported providers: sqlite, postgres, mysql
type StoreConfig struct {
	// Provider is the backend name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path
	// For Postgres: host, port, user, password, db_name, ssl_mode
	// For MySQL: host, port, user, password, db_name
	Config map[string]interface{} `json:"config"`
}

// AnsweringConfig tunes the answer pipeline.
type AnsweringConfig struct {
	// CanonicalMinScore is the similarity a stored canonical question must
	// reach before its answer is served verbatim. Strict on purpose.
	CanonicalMinScore float64 `json:"canonical_min_score"`

	// ChunkMinScore is the floor below which retrieved chunks are treated
	// as noise rather than grounding.
	ChunkMinScore float64 `json:"chunk_min_score"`

	// TopK caps the chunks handed to generation per turn.
	TopK int `json:"top_k"`

	// MaxChunkChars bounds chunk length during ingestion.
	MaxChunkChars int `json:"max_chunk_chars"`
}

// CacheConfig tunes the context snapshot cache.
type CacheConfig struct {
	// TTL is how long a snapshot stays valid without invalidation.
	TTL time.Duration `json:"ttl"`

	// NegativeTTL is how long a failed lookup is remembered.
	NegativeTTL time.Duration `json:"negative_ttl"`
}

// Default pipeline settings, applied where the config leaves zero values.
const (
	DefaultCanonicalMinScore = 0.92
	DefaultChunkMinScore     = 0.15
	DefaultTopK              = 4
	DefaultMaxChunkChars     = 2000
	DefaultCacheTTL          = time.Hour
	DefaultNegativeTTL       = 5 * time.Second
)

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - STORE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - CANONICAL_MIN_SCORE, CHUNK_MIN_SCORE, ANSWER_TOP_K, MAX_CHUNK_CHARS
//   - CONTEXT_CACHE_TTL, CONTEXT_CACHE_NEGATIVE_TTL (Go duration strings)
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("STORE_PROVIDER", "sqlite")

	storeConfig := make(map[string]interface{})
	switch provider {
	case "sqlite":
		storeConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./converse.db"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     port,
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "converse"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":     port,
			"user":     getEnvOrDefault("MYSQL_USER", "root"),
			"password": os.Getenv("MYSQL_PASSWORD"),
			"db_name":  getEnvOrDefault("MYSQL_DATABASE", "converse"),
		}
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMS", "1536"))

	config := &Config{
		LLM: LLMConfig{
			Provider: getEnvOrDefault("LLM_PROVIDER", "openai"),
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    os.Getenv("LLM_MODEL"),
			BaseURL:  os.Getenv("LLM_BASE_URL"),
		},
		Embedder: EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		},
		Store: StoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
		Answering: AnsweringConfig{
			CanonicalMinScore: getEnvFloat("CANONICAL_MIN_SCORE", DefaultCanonicalMinScore),
			ChunkMinScore:     getEnvFloat("CHUNK_MIN_SCORE", DefaultChunkMinScore),
			TopK:              getEnvInt("ANSWER_TOP_K", DefaultTopK),
			MaxChunkChars:     getEnvInt("MAX_CHUNK_CHARS", DefaultMaxChunkChars),
		},
		Cache: CacheConfig{
			TTL:         getEnvDuration("CONTEXT_CACHE_TTL", DefaultCacheTTL),
			NegativeTTL: getEnvDuration("CONTEXT_CACHE_NEGATIVE_TTL", DefaultNegativeTTL),
		},
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, NewEngineError("LoadConfigFromEnvFile", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.LLM.Provider == "" {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if c.Embedder.Provider == "" {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if c.Store.Provider == "" {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if c.Answering.CanonicalMinScore < -1 || c.Answering.CanonicalMinScore > 1 {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Answering.CanonicalMinScore == 0 {
		c.Answering.CanonicalMinScore = DefaultCanonicalMinScore
	}
	if c.Answering.ChunkMinScore == 0 {
		c.Answering.ChunkMinScore = DefaultChunkMinScore
	}
	if c.Answering.TopK == 0 {
		c.Answering.TopK = DefaultTopK
	}
	if c.Answering.MaxChunkChars == 0 {
		c.Answering.MaxChunkChars = DefaultMaxChunkChars
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.NegativeTTL == 0 {
		c.Cache.NegativeTTL = DefaultNegativeTTL
	}
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search checks the current directory, then up to 5 directory levels up,
// returning the first file found.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent

		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		examplePath := filepath.Join(dir, ".env.example")
		if _, err := os.Stat(examplePath); err == nil {
			return examplePath, true
		}
	}
	return "", false
}
