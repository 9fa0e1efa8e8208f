// Package storage defines the persistence interface for agents, knowledge
// chunks, canonical answers, and access grants, along with the record types
// shared by all backends.
//
// Visibility filtering happens here, at the store layer: search options carry
// the caller's maximum tier and backends never return rows above it. The
// orchestrator treats anything else as a programming error, not a condition
// to redact after the fact.
package storage

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/personify-ai/converse-go/pkg/visibility"
)

// ErrNotFound indicates that a referenced agent, chunk, canonical answer, or
// grant does not exist (or is not visible to the caller).
var ErrNotFound = errors.New("storage: not found")

// Agent is the primary record for a user-authored persona.
type Agent struct {
	// ID uniquely identifies the agent.
	ID string

	// OwnerID is the identity of the user who authored the agent. The owner
	// always resolves to the intimate tier.
	OwnerID string

	// DisplayName is the agent's public name.
	DisplayName string

	// Persona describes the agent's voice and character.
	Persona string

	// Bio is the agent's self-description.
	Bio string

	// StyleTraits are short descriptors of how the agent speaks.
	StyleTraits []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a bounded-length slice of an ingested document, stored with its
// embedding. Chunks are immutable once created and cascade-deleted with
// their agent.
type Chunk struct {
	// ID is the chunk's snowflake ID. IDs are monotonic in creation order,
	// which backends use as the stable tie-break on equal similarity.
	ID int64

	// AgentID is the owning agent.
	AgentID string

	// DocumentID identifies the source document.
	DocumentID string

	// Ordinal is the chunk's position within its document.
	Ordinal int

	// Content is the chunk text. The embedding is always computed from this
	// exact text.
	Content string

	// Embedding is the chunk's vector.
	Embedding []float64

	// Tier is the visibility level required to see this chunk.
	Tier visibility.Tier

	CreatedAt time.Time

	// Score is the similarity from a search operation; zero otherwise.
	Score float64
}

// CanonicalAnswer is an owner-curated question/answer pair served verbatim
// when a query matches the stored question closely enough.
type CanonicalAnswer struct {
	ID      int64
	AgentID string

	// Question is the canonical question text.
	Question string

	// QuestionEmbedding is the vector of Question.
	QuestionEmbedding []float64

	// Answer is served unmodified on a match.
	Answer string

	// Tier is the visibility level required to be served this answer.
	Tier visibility.Tier

	// UsageCount tracks how often the answer has been served. Updated
	// best-effort; approximate under concurrency.
	UsageCount int64

	CreatedAt time.Time
	UpdatedAt time.Time

	// Score is the similarity from a search operation; zero otherwise.
	Score float64
}

// Grant gives a follower an elevated tier on one agent. At most one grant
// exists per (follower, agent) pair; upserts replace.
type Grant struct {
	FollowerID string
	AgentID    string
	Tier       visibility.Tier
	GrantedAt  time.Time
}

// ChunkSearchOptions scopes a chunk similarity search.
type ChunkSearchOptions struct {
	// AgentID restricts the search to one agent's chunks (required).
	AgentID string

	// MaxTier is the caller's resolved tier; rows above it are excluded.
	MaxTier visibility.Tier

	// Limit caps the number of results.
	Limit int

	// MinScore drops results below this cosine similarity.
	MinScore float64
}

// CanonicalSearchOptions scopes a canonical-question similarity search.
type CanonicalSearchOptions struct {
	// AgentID restricts the search to one agent's answers (required).
	AgentID string

	// MaxTier is the caller's resolved tier; rows above it are excluded.
	MaxTier visibility.Tier

	// Limit caps the number of results.
	Limit int

	// MinScore drops results below this cosine similarity. For canonical
	// answers this is deliberately strict: matches are served verbatim.
	MinScore float64
}

// ListChunksOptions filters and paginates chunk listings.
type ListChunksOptions struct {
	AgentID    string
	DocumentID string
	Limit      int
	Offset     int
}

// Store is the persistence interface all backends implement.
type Store interface {
	// UpsertAgent creates or replaces an agent record.
	UpsertAgent(ctx context.Context, agent *Agent) error

	// GetAgent returns an agent, or ErrNotFound.
	GetAgent(ctx context.Context, agentID string) (*Agent, error)

	// DeleteAgent removes an agent and cascades to its chunks, canonical
	// answers, and grants.
	DeleteAgent(ctx context.Context, agentID string) error

	// InsertChunks stores a batch of chunks from one ingestion pass.
	InsertChunks(ctx context.Context, chunks []*Chunk) error

	// SearchChunks returns the agent's chunks most similar to the query
	// embedding, ordered by descending similarity with ties broken by id
	// ascending, floor-filtered by MinScore and tier-filtered by MaxTier.
	// An agent with zero chunks yields an empty result, not an error.
	SearchChunks(ctx context.Context, embedding []float64, opts *ChunkSearchOptions) ([]*Chunk, error)

	// ListChunks returns chunks in creation order.
	ListChunks(ctx context.Context, opts *ListChunksOptions) ([]*Chunk, error)

	// DeleteDocumentChunks removes all chunks of one document.
	DeleteDocumentChunks(ctx context.Context, agentID, documentID string) error

	// UpsertCanonical creates or replaces a canonical answer.
	UpsertCanonical(ctx context.Context, answer *CanonicalAnswer) error

	// GetCanonical returns a canonical answer by id, or ErrNotFound.
	GetCanonical(ctx context.Context, id int64) (*CanonicalAnswer, error)

	// DeleteCanonical removes a canonical answer.
	DeleteCanonical(ctx context.Context, id int64) error

	// SearchCanonical returns the agent's canonical answers whose question
	// is most similar to the query embedding, with the same ordering and
	// filtering rules as SearchChunks.
	SearchCanonical(ctx context.Context, embedding []float64, opts *CanonicalSearchOptions) ([]*CanonicalAnswer, error)

	// IncrementCanonicalUsage bumps an answer's usage count. Approximate
	// under concurrency; callers treat failures as non-fatal.
	IncrementCanonicalUsage(ctx context.Context, id int64) error

	// UpsertGrant creates or replaces the grant for (follower, agent).
	UpsertGrant(ctx context.Context, grant *Grant) error

	// GetGrant returns the active grant, or ErrNotFound when the follower
	// has none.
	GetGrant(ctx context.Context, followerID, agentID string) (*Grant, error)

	// RevokeGrant removes the grant for (follower, agent).
	RevokeGrant(ctx context.Context, followerID, agentID string) error

	// Close releases the backend's resources.
	Close() error
}

// CosineSimilarity returns the cosine similarity of two vectors in [-1, 1].
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SortChunksByScore orders chunks by descending score, breaking exact ties
// by id ascending (creation order), and truncates to limit when positive.
func SortChunksByScore(chunks []*Chunk, limit int) []*Chunk {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ID < chunks[j].ID
	})
	if limit > 0 && len(chunks) > limit {
		return chunks[:limit]
	}
	return chunks
}

// SortCanonicalByScore orders canonical answers by descending score with the
// same tie-break as SortChunksByScore.
func SortCanonicalByScore(answers []*CanonicalAnswer, limit int) []*CanonicalAnswer {
	sort.Slice(answers, func(i, j int) bool {
		if answers[i].Score != answers[j].Score {
			return answers[i].Score > answers[j].Score
		}
		return answers[i].ID < answers[j].ID
	})
	if limit > 0 && len(answers) > limit {
		return answers[:limit]
	}
	return answers
}
