package core

import (
	"time"

	"github.com/personify-ai/converse-go/pkg/storage"
	"github.com/personify-ai/converse-go/pkg/visibility"
)

// Aliases so callers can work with the engine without importing the storage
// package directly.
type (
	Agent           = storage.Agent
	Chunk           = storage.Chunk
	CanonicalAnswer = storage.CanonicalAnswer
	Grant           = storage.Grant
)

// Strategy names how an answer was produced.
type Strategy string

const (
	// StrategyCanonical means an owner-curated answer was served verbatim.
	StrategyCanonical Strategy = "canonical"

	// StrategyGenerated means the reply was generated grounded on
	// retrieved knowledge chunks.
	StrategyGenerated Strategy = "generated"

	// StrategyUngrounded means the reply was generated from persona
	// context alone, with no supporting chunks.
	StrategyUngrounded Strategy = "generated_ungrounded"
)

// Answer is the result of one conversational turn.
type Answer struct {
	// Text is the reply. For StrategyCanonical it is the stored answer
	// unmodified.
	Text string

	// Strategy records which path produced the reply.
	Strategy Strategy

	// Tier is the requester's resolved visibility tier for this turn.
	Tier visibility.Tier

	// CanonicalID is the matched canonical answer's id; zero otherwise.
	CanonicalID int64

	// Sources are the knowledge chunks the reply was grounded on, in
	// descending similarity order. Empty unless Strategy is
	// StrategyGenerated.
	Sources []*storage.Chunk

	// Degraded is set when retrieval failed and the engine fell back to
	// ungrounded generation instead of surfacing the failure.
	Degraded bool

	CreatedAt time.Time
}

// IngestResult summarizes one document ingestion pass.
type IngestResult struct {
	DocumentID string
	ChunkCount int
}
