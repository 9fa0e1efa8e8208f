// Package policy resolves a requester's identity to a visibility tier for a
// given agent. All disclosure decisions downstream take the resolved tier as
// input; nothing else in the engine looks at requester identity.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/personify-ai/converse-go/pkg/storage"
	"github.com/personify-ai/converse-go/pkg/visibility"
)

// Directory is the subset of the store the resolver needs.
type Directory interface {
	GetAgent(ctx context.Context, agentID string) (*storage.Agent, error)
	GetGrant(ctx context.Context, followerID, agentID string) (*storage.Grant, error)
}

// Resolver maps (requester, agent) pairs to visibility tiers.
type Resolver struct {
	dir Directory
}

// NewResolver returns a Resolver backed by the given directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the tier the requester holds on the agent.
//
// The agent's owner always resolves to intimate. An anonymous requester
// (empty requesterID) resolves to public. Any other requester resolves to
// their grant's tier, or public when no grant exists. A missing agent is
// an error: tiers are only meaningful against an existing agent.
func (r *Resolver) Resolve(ctx context.Context, requesterID, agentID string) (visibility.Tier, error) {
	agent, err := r.dir.GetAgent(ctx, agentID)
	if err != nil {
		return visibility.TierPublic, fmt.Errorf("policy: resolve tier: %w", err)
	}

	if requesterID == "" {
		return visibility.TierPublic, nil
	}
	if requesterID == agent.OwnerID {
		return visibility.TierIntimate, nil
	}

	grant, err := r.dir.GetGrant(ctx, requesterID, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return visibility.TierPublic, nil
	}
	if err != nil {
		return visibility.TierPublic, fmt.Errorf("policy: resolve tier: %w", err)
	}
	return grant.Tier, nil
}
