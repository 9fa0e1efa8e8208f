package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personify-ai/converse-go/pkg/storage"
	"github.com/personify-ai/converse-go/pkg/visibility"
)

type fakeDirectory struct {
	agents map[string]*storage.Agent
	grants map[string]*storage.Grant
	err    error
}

func (f *fakeDirectory) GetAgent(ctx context.Context, agentID string) (*storage.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	agent, ok := f.agents[agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return agent, nil
}

func (f *fakeDirectory) GetGrant(ctx context.Context, followerID, agentID string) (*storage.Grant, error) {
	grant, ok := f.grants[followerID+"/"+agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return grant, nil
}

func newTestDirectory() *fakeDirectory {
	return &fakeDirectory{
		agents: map[string]*storage.Agent{
			"agent-1": {ID: "agent-1", OwnerID: "owner-1"},
		},
		grants: map[string]*storage.Grant{
			"friend-1/agent-1":   {FollowerID: "friend-1", AgentID: "agent-1", Tier: visibility.TierFriends},
			"intimate-1/agent-1": {FollowerID: "intimate-1", AgentID: "agent-1", Tier: visibility.TierIntimate},
		},
	}
}

func TestResolveOwnerIsIntimate(t *testing.T) {
	resolver := NewResolver(newTestDirectory())

	tier, err := resolver.Resolve(context.Background(), "owner-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, visibility.TierIntimate, tier)
}

func TestResolveAnonymousIsPublic(t *testing.T) {
	resolver := NewResolver(newTestDirectory())

	tier, err := resolver.Resolve(context.Background(), "", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, visibility.TierPublic, tier)
}

func TestResolveGrantTier(t *testing.T) {
	resolver := NewResolver(newTestDirectory())

	tier, err := resolver.Resolve(context.Background(), "friend-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, visibility.TierFriends, tier)

	tier, err = resolver.Resolve(context.Background(), "intimate-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, visibility.TierIntimate, tier)
}

func TestResolveNoGrantIsPublic(t *testing.T) {
	resolver := NewResolver(newTestDirectory())

	tier, err := resolver.Resolve(context.Background(), "stranger", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, visibility.TierPublic, tier)
}

func TestResolveMissingAgent(t *testing.T) {
	resolver := NewResolver(newTestDirectory())

	_, err := resolver.Resolve(context.Background(), "owner-1", "no-such-agent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestResolveDirectoryFailure(t *testing.T) {
	dir := newTestDirectory()
	dir.err = errors.New("connection refused")
	resolver := NewResolver(dir)

	_, err := resolver.Resolve(context.Background(), "owner-1", "agent-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrNotFound))
}
