package contextcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personify-ai/converse-go/pkg/storage"
)

type fakeSource struct {
	mu         sync.Mutex
	agents     map[string]*storage.Agent
	chunks     map[string][]*storage.Chunk
	agentCalls int64
}

func (f *fakeSource) GetAgent(ctx context.Context, agentID string) (*storage.Agent, error) {
	atomic.AddInt64(&f.agentCalls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, ok := f.agents[agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return agent, nil
}

func (f *fakeSource) ListChunks(ctx context.Context, opts *storage.ListChunksOptions) ([]*storage.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[opts.AgentID], nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		agents: map[string]*storage.Agent{
			"agent-1": {
				ID:          "agent-1",
				OwnerID:     "owner-1",
				DisplayName: "Ada",
				Persona:     "A meticulous engineer.",
				Bio:         "Builds engines.",
				StyleTraits: []string{"precise", "dry"},
			},
		},
		chunks: map[string][]*storage.Chunk{
			"agent-1": {
				{ID: 1, AgentID: "agent-1", DocumentID: "doc-1", Content: "compilers parse compilers emit compilers optimize"},
				{ID: 2, AgentID: "agent-1", DocumentID: "doc-2", Content: "parsers build syntax trees and parsers recover"},
			},
		},
	}
}

func TestGetBuildsSnapshot(t *testing.T) {
	cache := New(newFakeSource(), time.Minute, time.Second)

	snap, err := cache.Get(context.Background(), "agent-1")
	require.NoError(t, err)

	assert.Equal(t, "agent-1", snap.AgentID)
	assert.Equal(t, "Ada", snap.DisplayName)
	assert.Equal(t, []string{"precise", "dry"}, snap.StyleTraits)
	assert.Equal(t, 2, snap.ChunkCount)
	assert.Equal(t, 2, snap.DocumentCount)
	assert.Contains(t, snap.KnowledgeDigest, "compilers")
	assert.False(t, snap.ComputedAt.IsZero())
}

func TestGetCachesUntilInvalidated(t *testing.T) {
	source := newFakeSource()
	cache := New(source, time.Minute, time.Second)

	_, err := cache.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&source.agentCalls))

	cache.Invalidate("agent-1")
	_, err = cache.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&source.agentCalls))
}

func TestGetExpiresAfterTTL(t *testing.T) {
	source := newFakeSource()
	cache := New(source, 10*time.Millisecond, time.Second)

	_, err := cache.Get(context.Background(), "agent-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = cache.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&source.agentCalls))
}

func TestGetMissingAgent(t *testing.T) {
	cache := New(newFakeSource(), time.Minute, time.Second)

	_, err := cache.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetCollapsesConcurrentMisses(t *testing.T) {
	source := newFakeSource()
	cache := New(source, time.Minute, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), "agent-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&source.agentCalls))
}

func TestGetSurvivesCallerCancellation(t *testing.T) {
	source := newFakeSource()
	cache := New(source, time.Minute, time.Second)

	// The source rejects cancelled contexts, so this only succeeds if the
	// rebuild is detached from the triggering caller's context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := cache.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", snap.AgentID)
}

func TestDigestDeterministic(t *testing.T) {
	chunks := []*storage.Chunk{
		{Content: "gardens grow roses and gardens grow ferns"},
		{Content: "roses bloom in spring gardens"},
	}

	first := buildDigest(chunks)
	second := buildDigest(chunks)
	assert.Equal(t, first, second)
	assert.Equal(t, "gardens", first[:7])
}

func TestDigestEmptyKnowledge(t *testing.T) {
	assert.Equal(t, "", buildDigest(nil))
}
