// Package embedder defines the text-embedding capability the engine depends
// on for similarity search.
//
// Providers must be deterministic for identical input; the similarity
// semantics of the knowledge and canonical-answer stores are undefined
// otherwise.
package embedder

import "context"

// Provider converts text into fixed-length embedding vectors.
type Provider interface {
	// Embed converts a single text into an embedding vector.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple texts in one request. The result order
	// matches the input order. Used by document ingestion, where chunk
	// embeddings must be computed from the exact stored text in one pass.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector dimensionality this provider produces.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}
