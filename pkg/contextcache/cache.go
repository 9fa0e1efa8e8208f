// Package contextcache maintains cached per-agent context snapshots: the
// persona fields plus a digest of the knowledge base, assembled once and
// reused across conversations until invalidated or expired.
package contextcache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/singleflight"

	"github.com/personify-ai/converse-go/pkg/storage"
)

// Source is the subset of the store the cache reads from.
type Source interface {
	GetAgent(ctx context.Context, agentID string) (*storage.Agent, error)
	ListChunks(ctx context.Context, opts *storage.ListChunksOptions) ([]*storage.Chunk, error)
}

// Snapshot is an assembled view of one agent's identity and knowledge,
// cheap to hand to prompt construction on every turn.
type Snapshot struct {
	AgentID     string
	DisplayName string
	Persona     string
	Bio         string
	StyleTraits []string

	// KnowledgeDigest is a short deterministic summary of the agent's
	// knowledge base, listing its dominant terms.
	KnowledgeDigest string

	ChunkCount    int
	DocumentCount int

	ComputedAt time.Time
}

type entry struct {
	snapshot  *Snapshot
	err       error
	expiresAt time.Time
}

// Cache caches snapshots with a TTL. Concurrent misses for the same agent
// collapse into one rebuild via singleflight. Lookup failures are cached
// briefly so a missing agent does not hammer the store.
type Cache struct {
	source      Source
	ttl         time.Duration
	negativeTTL time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

// New returns a Cache over the given source. negativeTTL bounds how long a
// failed lookup is remembered.
func New(source Source, ttl, negativeTTL time.Duration) *Cache {
	return &Cache{
		source:      source,
		ttl:         ttl,
		negativeTTL: negativeTTL,
		entries:     make(map[string]*entry),
	}
}

// Get returns the agent's snapshot, rebuilding it on miss or expiry.
func (c *Cache) Get(ctx context.Context, agentID string) (*Snapshot, error) {
	c.mu.RLock()
	e, ok := c.entries[agentID]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.snapshot, e.err
	}

	v, err, _ := c.group.Do(agentID, func() (interface{}, error) {
		// The build outcome is shared by every collapsed waiter, so it must
		// not die with the first caller's context.
		snapshot, buildErr := c.build(context.WithoutCancel(ctx), agentID)

		e := &entry{snapshot: snapshot, err: buildErr}
		if buildErr != nil {
			e.expiresAt = time.Now().Add(c.negativeTTL)
		} else {
			e.expiresAt = time.Now().Add(c.ttl)
		}

		c.mu.Lock()
		c.entries[agentID] = e
		c.mu.Unlock()

		return snapshot, buildErr
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate drops the agent's cached snapshot. Called after any write that
// changes the agent's identity or knowledge.
func (c *Cache) Invalidate(agentID string) {
	c.mu.Lock()
	delete(c.entries, agentID)
	c.mu.Unlock()
}

func (c *Cache) build(ctx context.Context, agentID string) (*Snapshot, error) {
	agent, err := c.source.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("contextcache: build snapshot: %w", err)
	}

	chunks, err := c.source.ListChunks(ctx, &storage.ListChunksOptions{AgentID: agentID})
	if err != nil {
		return nil, fmt.Errorf("contextcache: build snapshot: %w", err)
	}

	documents := make(map[string]struct{})
	for _, chunk := range chunks {
		documents[chunk.DocumentID] = struct{}{}
	}

	return &Snapshot{
		AgentID:         agent.ID,
		DisplayName:     agent.DisplayName,
		Persona:         agent.Persona,
		Bio:             agent.Bio,
		StyleTraits:     agent.StyleTraits,
		KnowledgeDigest: buildDigest(chunks),
		ChunkCount:      len(chunks),
		DocumentCount:   len(documents),
		ComputedAt:      time.Now().UTC(),
	}, nil
}

const digestTerms = 8

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "not": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "which": {}, "with": {},
}

// buildDigest summarizes the knowledge base as its most frequent terms,
// ordered by count descending then term ascending so the digest is stable
// for a given set of chunks.
func buildDigest(chunks []*storage.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}

	counts := make(map[string]int)
	for _, chunk := range chunks {
		for _, term := range tokenize(chunk.Content) {
			counts[term]++
		}
	}
	if len(counts) == 0 {
		return ""
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > digestTerms {
		terms = terms[:digestTerms]
	}
	return strings.Join(terms, ", ")
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var terms []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}
