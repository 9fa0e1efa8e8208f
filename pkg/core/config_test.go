package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("STORE_PROVIDER", "sqlite")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("EMBEDDING_PROVIDER", "")

	config, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", config.Store.Provider)
	assert.Equal(t, "openai", config.LLM.Provider)
	assert.Equal(t, "openai", config.Embedder.Provider)
	assert.Equal(t, 1536, config.Embedder.Dimensions)
	assert.Equal(t, DefaultCanonicalMinScore, config.Answering.CanonicalMinScore)
	assert.Equal(t, DefaultChunkMinScore, config.Answering.ChunkMinScore)
	assert.Equal(t, DefaultTopK, config.Answering.TopK)
	assert.Equal(t, DefaultCacheTTL, config.Cache.TTL)
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_PROVIDER", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("LLM_PROVIDER", "deepseek")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("CANONICAL_MIN_SCORE", "0.95")
	t.Setenv("ANSWER_TOP_K", "8")
	t.Setenv("CONTEXT_CACHE_TTL", "30m")

	config, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "postgres", config.Store.Provider)
	assert.Equal(t, "db.internal", config.Store.Config["host"])
	assert.Equal(t, 5433, config.Store.Config["port"])
	assert.Equal(t, "deepseek", config.LLM.Provider)
	assert.Equal(t, "sk-test", config.LLM.APIKey)
	assert.Equal(t, 0.95, config.Answering.CanonicalMinScore)
	assert.Equal(t, 8, config.Answering.TopK)
	assert.Equal(t, 30*time.Minute, config.Cache.TTL)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"llm": {"provider": "openai", "api_key": "sk-json", "model": "gpt-4o-mini"},
		"embedder": {"provider": "openai", "api_key": "sk-json", "dimensions": 1536},
		"store": {"provider": "sqlite", "config": {"db_path": "./test.db"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	config, err := LoadConfigFromJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", config.LLM.Model)
	assert.Equal(t, "./test.db", config.Store.Config["db_path"])
	// Defaults fill unset pipeline settings.
	assert.Equal(t, DefaultCanonicalMinScore, config.Answering.CanonicalMinScore)
	assert.Equal(t, DefaultNegativeTTL, config.Cache.NegativeTTL)
}

func TestLoadConfigFromJSONMissingFile(t *testing.T) {
	_, err := LoadConfigFromJSON("/nonexistent/config.json")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := &Config{
		LLM:      LLMConfig{Provider: "openai"},
		Embedder: EmbedderConfig{Provider: "openai"},
		Store:    StoreConfig{Provider: "sqlite"},
	}
	valid.applyDefaults()
	assert.NoError(t, valid.Validate())

	missing := &Config{
		Embedder: EmbedderConfig{Provider: "openai"},
		Store:    StoreConfig{Provider: "sqlite"},
	}
	err := missing.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	badThreshold := &Config{
		LLM:       LLMConfig{Provider: "openai"},
		Embedder:  EmbedderConfig{Provider: "openai"},
		Store:     StoreConfig{Provider: "sqlite"},
		Answering: AnsweringConfig{CanonicalMinScore: 1.5},
	}
	assert.ErrorIs(t, badThreshold.Validate(), ErrInvalidConfig)
}

func TestEngineErrorFormat(t *testing.T) {
	err := NewEngineError("Answer", ErrInvalidInput)
	assert.Equal(t, "converse: Answer: invalid input", err.Error())
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Nil(t, NewEngineError("Answer", nil))
}
