package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personify-ai/converse-go/pkg/contextcache"
	"github.com/personify-ai/converse-go/pkg/storage"
	"github.com/personify-ai/converse-go/pkg/visibility"
)

func testSnapshot() *contextcache.Snapshot {
	return &contextcache.Snapshot{
		AgentID:     "agent-1",
		DisplayName: "Ada",
		Persona:     "A meticulous engineer who explains things patiently.",
		Bio:         "I build engines for a living.",
		StyleTraits: []string{"precise", "dry"},
	}
}

func TestBuildMessagesShape(t *testing.T) {
	messages := buildMessages(testSnapshot(), visibility.TierPublic, nil, "What do you do?")

	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "What do you do?", messages[1].Content)

	assert.Contains(t, messages[0].Content, "You are Ada.")
	assert.Contains(t, messages[0].Content, "meticulous engineer")
	assert.Contains(t, messages[0].Content, "precise, dry")
}

func TestBuildMessagesIncludesChunks(t *testing.T) {
	chunks := []*storage.Chunk{
		{ID: 1, Content: "I spent 2019 restoring a sailboat."},
		{ID: 2, Content: "My workshop is in an old barn."},
	}

	messages := buildMessages(testSnapshot(), visibility.TierFriends, chunks, "Tell me about your hobbies")

	system := messages[0].Content
	assert.Contains(t, system, "restoring a sailboat")
	assert.Contains(t, system, "old barn")
	assert.Contains(t, system, "never mention notes")
}

func TestBuildMessagesWithoutChunks(t *testing.T) {
	messages := buildMessages(testSnapshot(), visibility.TierPublic, nil, "hi")

	assert.Contains(t, messages[0].Content, "persona alone")
	assert.NotContains(t, messages[0].Content, "[1]")
}

func TestTierInstructionDiffersByTier(t *testing.T) {
	public := tierInstruction(visibility.TierPublic)
	friends := tierInstruction(visibility.TierFriends)
	intimate := tierInstruction(visibility.TierIntimate)

	assert.NotEqual(t, public, friends)
	assert.NotEqual(t, friends, intimate)
	assert.Contains(t, public, "stranger")
	assert.Contains(t, friends, "friend")
	assert.Contains(t, intimate, "trust")
}
