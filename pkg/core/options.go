package core

// AnswerOptions tunes a single Answer call. Zero values fall back to the
// engine's configured defaults.
type AnswerOptions struct {
	// TopK overrides the configured chunk limit for this turn.
	TopK int

	// ChunkMinScore overrides the configured retrieval floor.
	ChunkMinScore float64

	// CanonicalMinScore overrides the configured canonical threshold.
	CanonicalMinScore float64

	// SkipCanonical disables canonical matching for this turn, forcing
	// the retrieval/generation path.
	SkipCanonical bool
}

// AnswerOption configures a single Answer call.
type AnswerOption func(*AnswerOptions)

// WithTopK overrides the number of chunks handed to generation.
func WithTopK(k int) AnswerOption {
	return func(o *AnswerOptions) {
		o.TopK = k
	}
}

// WithChunkMinScore overrides the retrieval similarity floor.
func WithChunkMinScore(score float64) AnswerOption {
	return func(o *AnswerOptions) {
		o.ChunkMinScore = score
	}
}

// WithCanonicalMinScore overrides the canonical match threshold.
func WithCanonicalMinScore(score float64) AnswerOption {
	return func(o *AnswerOptions) {
		o.CanonicalMinScore = score
	}
}

// WithoutCanonical disables canonical matching for this turn.
func WithoutCanonical() AnswerOption {
	return func(o *AnswerOptions) {
		o.SkipCanonical = true
	}
}

// ApplyAnswerOptions applies the options over the engine defaults.
func ApplyAnswerOptions(defaults AnsweringConfig, opts ...AnswerOption) *AnswerOptions {
	options := &AnswerOptions{
		TopK:              defaults.TopK,
		ChunkMinScore:     defaults.ChunkMinScore,
		CanonicalMinScore: defaults.CanonicalMinScore,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// SearchOptions tunes a SearchKnowledge call.
type SearchOptions struct {
	// Limit caps the number of results.
	Limit int

	// MinScore drops results below this similarity.
	MinScore float64
}

// SearchOption configures a SearchKnowledge call.
type SearchOption func(*SearchOptions)

// WithSearchLimit caps the number of results.
func WithSearchLimit(limit int) SearchOption {
	return func(o *SearchOptions) {
		o.Limit = limit
	}
}

// WithSearchMinScore drops results below the given similarity.
func WithSearchMinScore(score float64) SearchOption {
	return func(o *SearchOptions) {
		o.MinScore = score
	}
}
