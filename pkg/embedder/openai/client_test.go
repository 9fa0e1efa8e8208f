package openai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(&Config{APIKey: "sk-test"})
	require.NoError(t, err)

	assert.Equal(t, openai.AdaEmbeddingV2, client.model)
	assert.Equal(t, 1536, client.Dimensions())
}

func TestNewClientResolvesModelName(t *testing.T) {
	client, err := NewClient(&Config{APIKey: "sk-test", Model: "text-embedding-ada-002", Dimensions: 1536})
	require.NoError(t, err)
	assert.Equal(t, openai.AdaEmbeddingV2, client.model)
}

func TestNewClientRejectsUnknownModel(t *testing.T) {
	_, err := NewClient(&Config{APIKey: "sk-test", Model: "no-such-model"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported model")
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(&Config{})
	require.Error(t, err)
}
