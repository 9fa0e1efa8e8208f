package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/personify-ai/converse-go/pkg/chunker"
	"github.com/personify-ai/converse-go/pkg/contextcache"
	"github.com/personify-ai/converse-go/pkg/embedder"
	openaiEmbedder "github.com/personify-ai/converse-go/pkg/embedder/openai"
	qwenEmbedder "github.com/personify-ai/converse-go/pkg/embedder/qwen"
	"github.com/personify-ai/converse-go/pkg/llm"
	deepseekLLM "github.com/personify-ai/converse-go/pkg/llm/deepseek"
	ollamaLLM "github.com/personify-ai/converse-go/pkg/llm/ollama"
	openaiLLM "github.com/personify-ai/converse-go/pkg/llm/openai"
	"github.com/personify-ai/converse-go/pkg/policy"
	"github.com/personify-ai/converse-go/pkg/storage"
	mysqlStore "github.com/personify-ai/converse-go/pkg/storage/mysql"
	postgresStore "github.com/personify-ai/converse-go/pkg/storage/postgres"
	sqliteStore "github.com/personify-ai/converse-go/pkg/storage/sqlite"
	"github.com/personify-ai/converse-go/pkg/visibility"
)

// Engine is the conversation engine. One Engine serves any number of agents
// and is safe for concurrent use.
type Engine struct {
	config   *Config
	store    storage.Store
	llm      llm.Provider
	embedder embedder.Provider
	resolver *policy.Resolver
	cache    *contextcache.Cache
	usage    *usageRecorder
	node     *snowflake.Node
	logger   *zap.Logger
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger. Defaults to a production zap logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// withDependencies swaps the engine's providers. Used by tests.
func withDependencies(store storage.Store, llmProvider llm.Provider, embedderProvider embedder.Provider) EngineOption {
	return func(e *Engine) {
		e.store = store
		e.llm = llmProvider
		e.embedder = embedderProvider
	}
}

// NewEngine builds an Engine from the configuration: storage backend,
// language model, and embedding provider are selected by name.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{config: cfg}
	for _, opt := range opts {
		opt(engine)
	}

	if engine.logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
		engine.logger = logger
	}

	if engine.store == nil {
		store, err := initStore(cfg.Store, cfg.Embedder.Dimensions)
		if err != nil {
			return nil, err
		}
		engine.store = store
	}
	if engine.llm == nil {
		llmProvider, err := initLLM(cfg.LLM)
		if err != nil {
			return nil, err
		}
		engine.llm = llmProvider
	}
	if engine.embedder == nil {
		embedderProvider, err := initEmbedder(cfg.Embedder)
		if err != nil {
			return nil, err
		}
		engine.embedder = embedderProvider
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewEngineError("NewEngine", err)
	}
	engine.node = node

	engine.resolver = policy.NewResolver(engine.store)
	engine.cache = contextcache.New(engine.store, cfg.Cache.TTL, cfg.Cache.NegativeTTL)
	engine.usage = newUsageRecorder(engine.store, engine.logger)

	return engine, nil
}

// Answer runs one conversational turn as the agent, on behalf of the
// requester.
//
// The pipeline: resolve the requester's tier, try to match a canonical
// answer (served verbatim on a hit), retrieve grounding chunks, then
// generate. Retrieval failures degrade to ungrounded generation; only
// generation failure is terminal.
func (e *Engine) Answer(ctx context.Context, requesterID, agentID, utterance string, opts ...AnswerOption) (*Answer, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, NewEngineError("Answer", fmt.Errorf("%w: empty utterance", ErrInvalidInput))
	}
	options := ApplyAnswerOptions(e.config.Answering, opts...)

	tier, err := e.resolver.Resolve(ctx, requesterID, agentID)
	if err != nil {
		return nil, NewEngineError("Answer", err)
	}

	// One query embedding serves both canonical matching and retrieval.
	// If embedding fails, both are unavailable and the turn degrades to
	// persona-only generation.
	degraded := false
	queryEmbedding, err := e.embedder.Embed(ctx, utterance)
	if err != nil {
		e.logger.Warn("query embedding failed, degrading to ungrounded generation",
			zap.String("agent_id", agentID), zap.Error(err))
		degraded = true
	}

	if !degraded && !options.SkipCanonical {
		answer, err := e.matchCanonical(ctx, queryEmbedding, agentID, tier, options.CanonicalMinScore)
		if err != nil {
			return nil, NewEngineError("Answer", err)
		}
		if answer != nil {
			return answer, nil
		}
	}

	var chunks []*storage.Chunk
	if !degraded {
		chunks, err = e.store.SearchChunks(ctx, queryEmbedding, &storage.ChunkSearchOptions{
			AgentID:  agentID,
			MaxTier:  tier,
			Limit:    options.TopK,
			MinScore: options.ChunkMinScore,
		})
		if err != nil {
			e.logger.Warn("chunk retrieval failed, degrading to ungrounded generation",
				zap.String("agent_id", agentID), zap.Error(err))
			degraded = true
			chunks = nil
		}
	}
	for _, chunk := range chunks {
		if !tier.Allows(chunk.Tier) {
			return nil, NewEngineError("Answer", fmt.Errorf("%w: chunk %d requires %s", ErrTierViolation, chunk.ID, chunk.Tier))
		}
	}

	snapshot, err := e.cache.Get(ctx, agentID)
	if err != nil {
		return nil, NewEngineError("Answer", err)
	}

	messages := buildMessages(snapshot, tier, chunks, utterance)
	text, err := e.llm.GenerateWithMessages(ctx, messages)
	if err != nil {
		return nil, NewEngineError("Answer", fmt.Errorf("%w: %v", ErrGenerationFailed, err))
	}

	strategy := StrategyUngrounded
	if len(chunks) > 0 {
		strategy = StrategyGenerated
	}
	return &Answer{
		Text:      text,
		Strategy:  strategy,
		Tier:      tier,
		Sources:   chunks,
		Degraded:  degraded,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// matchCanonical returns a verbatim answer when the best visible canonical
// question clears the threshold, nil when nothing matches. Store failures
// here are not fatal to the turn; the caller falls through to retrieval.
func (e *Engine) matchCanonical(ctx context.Context, queryEmbedding []float64, agentID string, tier visibility.Tier, minScore float64) (*Answer, error) {
	matches, err := e.store.SearchCanonical(ctx, queryEmbedding, &storage.CanonicalSearchOptions{
		AgentID:  agentID,
		MaxTier:  tier,
		Limit:    1,
		MinScore: minScore,
	})
	if err != nil {
		e.logger.Warn("canonical search failed, falling through to retrieval",
			zap.String("agent_id", agentID), zap.Error(err))
		return nil, nil
	}
	if len(matches) == 0 {
		return nil, nil
	}

	match := matches[0]
	if !tier.Allows(match.Tier) {
		return nil, fmt.Errorf("%w: canonical %d requires %s", ErrTierViolation, match.ID, match.Tier)
	}

	e.usage.Record(match.ID)

	return &Answer{
		Text:        match.Answer,
		Strategy:    StrategyCanonical,
		Tier:        tier,
		CanonicalID: match.ID,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// SearchKnowledge returns the agent's chunks most similar to the query,
// filtered to what the requester's tier may see.
func (e *Engine) SearchKnowledge(ctx context.Context, requesterID, agentID, query string, opts ...SearchOption) ([]*storage.Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, NewEngineError("SearchKnowledge", fmt.Errorf("%w: empty query", ErrInvalidInput))
	}

	options := &SearchOptions{
		Limit:    e.config.Answering.TopK,
		MinScore: e.config.Answering.ChunkMinScore,
	}
	for _, opt := range opts {
		opt(options)
	}

	tier, err := e.resolver.Resolve(ctx, requesterID, agentID)
	if err != nil {
		return nil, NewEngineError("SearchKnowledge", err)
	}

	queryEmbedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, NewEngineError("SearchKnowledge", fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err))
	}

	chunks, err := e.store.SearchChunks(ctx, queryEmbedding, &storage.ChunkSearchOptions{
		AgentID:  agentID,
		MaxTier:  tier,
		Limit:    options.Limit,
		MinScore: options.MinScore,
	})
	if err != nil {
		return nil, NewEngineError("SearchKnowledge", fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err))
	}
	return chunks, nil
}

// IngestDocument splits a document into chunks, embeds them, and stores them
// under the given visibility tier. Re-ingesting a document id replaces its
// previous chunks.
func (e *Engine) IngestDocument(ctx context.Context, agentID, documentID, text string, tier visibility.Tier) (*IngestResult, error) {
	if agentID == "" || documentID == "" {
		return nil, NewEngineError("IngestDocument", fmt.Errorf("%w: agent id and document id are required", ErrInvalidInput))
	}
	if !tier.Valid() {
		return nil, NewEngineError("IngestDocument", fmt.Errorf("%w: unknown tier", ErrInvalidInput))
	}
	if _, err := e.store.GetAgent(ctx, agentID); err != nil {
		return nil, NewEngineError("IngestDocument", err)
	}

	parts := chunker.Split(text, e.config.Answering.MaxChunkChars)
	if len(parts) == 0 {
		return nil, NewEngineError("IngestDocument", fmt.Errorf("%w: empty document", ErrInvalidInput))
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, parts)
	if err != nil {
		return nil, NewEngineError("IngestDocument", err)
	}
	if len(embeddings) != len(parts) {
		return nil, NewEngineError("IngestDocument", fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(parts)))
	}

	now := time.Now().UTC()
	chunks := make([]*storage.Chunk, len(parts))
	for i, content := range parts {
		chunks[i] = &storage.Chunk{
			ID:         e.node.Generate().Int64(),
			AgentID:    agentID,
			DocumentID: documentID,
			Ordinal:    i,
			Content:    content,
			Embedding:  embeddings[i],
			Tier:       tier,
			CreatedAt:  now,
		}
	}

	if err := e.store.DeleteDocumentChunks(ctx, agentID, documentID); err != nil {
		return nil, NewEngineError("IngestDocument", err)
	}
	if err := e.store.InsertChunks(ctx, chunks); err != nil {
		return nil, NewEngineError("IngestDocument", err)
	}
	e.cache.Invalidate(agentID)

	e.logger.Info("document ingested",
		zap.String("agent_id", agentID),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)))

	return &IngestResult{DocumentID: documentID, ChunkCount: len(chunks)}, nil
}

// DeleteDocument removes a document's chunks from the agent's knowledge.
func (e *Engine) DeleteDocument(ctx context.Context, agentID, documentID string) error {
	if err := e.store.DeleteDocumentChunks(ctx, agentID, documentID); err != nil {
		return NewEngineError("DeleteDocument", err)
	}
	e.cache.Invalidate(agentID)
	return nil
}

// SaveCanonicalAnswer stores an owner-curated question/answer pair. The
// question is embedded so later utterances can match it. Pass a zero id to
// create; a nonzero id updates in place.
func (e *Engine) SaveCanonicalAnswer(ctx context.Context, id int64, agentID, question, answer string, tier visibility.Tier) (*storage.CanonicalAnswer, error) {
	if agentID == "" || strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
		return nil, NewEngineError("SaveCanonicalAnswer", fmt.Errorf("%w: agent id, question, and answer are required", ErrInvalidInput))
	}
	if !tier.Valid() {
		return nil, NewEngineError("SaveCanonicalAnswer", fmt.Errorf("%w: unknown tier", ErrInvalidInput))
	}
	if _, err := e.store.GetAgent(ctx, agentID); err != nil {
		return nil, NewEngineError("SaveCanonicalAnswer", err)
	}

	embedding, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, NewEngineError("SaveCanonicalAnswer", err)
	}

	record := &storage.CanonicalAnswer{
		ID:                id,
		AgentID:           agentID,
		Question:          question,
		QuestionEmbedding: embedding,
		Answer:            answer,
		Tier:              tier,
	}
	if record.ID == 0 {
		record.ID = e.node.Generate().Int64()
	} else {
		existing, err := e.store.GetCanonical(ctx, record.ID)
		if err != nil {
			return nil, NewEngineError("SaveCanonicalAnswer", err)
		}
		record.UsageCount = existing.UsageCount
		record.CreatedAt = existing.CreatedAt
	}

	if err := e.store.UpsertCanonical(ctx, record); err != nil {
		return nil, NewEngineError("SaveCanonicalAnswer", err)
	}
	return record, nil
}

// DeleteCanonicalAnswer removes a canonical answer.
func (e *Engine) DeleteCanonicalAnswer(ctx context.Context, id int64) error {
	if err := e.store.DeleteCanonical(ctx, id); err != nil {
		return NewEngineError("DeleteCanonicalAnswer", err)
	}
	return nil
}

// UpsertAgent creates or updates an agent.
func (e *Engine) UpsertAgent(ctx context.Context, agent *storage.Agent) error {
	if agent == nil || agent.ID == "" || agent.OwnerID == "" {
		return NewEngineError("UpsertAgent", fmt.Errorf("%w: agent id and owner id are required", ErrInvalidInput))
	}
	if err := e.store.UpsertAgent(ctx, agent); err != nil {
		return NewEngineError("UpsertAgent", err)
	}
	e.cache.Invalidate(agent.ID)
	return nil
}

// GetAgent returns an agent by id.
func (e *Engine) GetAgent(ctx context.Context, agentID string) (*storage.Agent, error) {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, NewEngineError("GetAgent", err)
	}
	return agent, nil
}

// DeleteAgent removes an agent and everything attached to it: chunks,
// canonical answers, and grants.
func (e *Engine) DeleteAgent(ctx context.Context, agentID string) error {
	if err := e.store.DeleteAgent(ctx, agentID); err != nil {
		return NewEngineError("DeleteAgent", err)
	}
	e.cache.Invalidate(agentID)
	return nil
}

// GrantAccess gives a follower an elevated tier on an agent. Only friends
// and intimate can be granted; public is everyone's default and is expressed
// by revoking.
func (e *Engine) GrantAccess(ctx context.Context, followerID, agentID string, tier visibility.Tier) error {
	if followerID == "" || agentID == "" {
		return NewEngineError("GrantAccess", fmt.Errorf("%w: follower id and agent id are required", ErrInvalidInput))
	}
	if tier != visibility.TierFriends && tier != visibility.TierIntimate {
		return NewEngineError("GrantAccess", fmt.Errorf("%w: grants must be friends or intimate", ErrInvalidInput))
	}
	if _, err := e.store.GetAgent(ctx, agentID); err != nil {
		return NewEngineError("GrantAccess", err)
	}

	if err := e.store.UpsertGrant(ctx, &storage.Grant{
		FollowerID: followerID,
		AgentID:    agentID,
		Tier:       tier,
		GrantedAt:  time.Now().UTC(),
	}); err != nil {
		return NewEngineError("GrantAccess", err)
	}
	return nil
}

// RevokeAccess removes a follower's grant, returning them to public.
func (e *Engine) RevokeAccess(ctx context.Context, followerID, agentID string) error {
	if err := e.store.RevokeGrant(ctx, followerID, agentID); err != nil {
		return NewEngineError("RevokeAccess", err)
	}
	return nil
}

// ResolveTier reports the tier the requester holds on the agent.
func (e *Engine) ResolveTier(ctx context.Context, requesterID, agentID string) (visibility.Tier, error) {
	tier, err := e.resolver.Resolve(ctx, requesterID, agentID)
	if err != nil {
		return visibility.TierPublic, NewEngineError("ResolveTier", err)
	}
	return tier, nil
}

// Snapshot returns the agent's cached context snapshot, rebuilding it if
// needed.
func (e *Engine) Snapshot(ctx context.Context, agentID string) (*contextcache.Snapshot, error) {
	snapshot, err := e.cache.Get(ctx, agentID)
	if err != nil {
		return nil, NewEngineError("Snapshot", err)
	}
	return snapshot, nil
}

// Close flushes pending usage increments and releases all providers.
func (e *Engine) Close() error {
	e.usage.Close()

	var errs []error
	if err := e.llm.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = e.logger.Sync()

	if len(errs) > 0 {
		return NewEngineError("Close", errs[0])
	}
	return nil
}

// initStore initializes the storage backend.
func initStore(cfg StoreConfig, embeddingDims int) (storage.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath: stringValue(cfg.Config, "db_path", "./converse.db"),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:          stringValue(cfg.Config, "host", "localhost"),
			Port:          intValue(cfg.Config, "port", 5432),
			User:          stringValue(cfg.Config, "user", "postgres"),
			Password:      stringValue(cfg.Config, "password", ""),
			DBName:        stringValue(cfg.Config, "db_name", "converse"),
			SSLMode:       stringValue(cfg.Config, "ssl_mode", "disable"),
			EmbeddingDims: embeddingDims,
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:     stringValue(cfg.Config, "host", "127.0.0.1"),
			Port:     intValue(cfg.Config, "port", 3306),
			User:     stringValue(cfg.Config, "user", "root"),
			Password: stringValue(cfg.Config, "password", ""),
			DBName:   stringValue(cfg.Config, "db_name", "converse"),
		})
	default:
		return nil, NewEngineError("initStore", ErrInvalidConfig)
	}
}

// initLLM initializes the language model provider.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "deepseek":
		return deepseekLLM.NewClient(&deepseekLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "ollama":
		return ollamaLLM.NewClient(&ollamaLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, NewEngineError("initLLM", ErrInvalidConfig)
	}
}

// initEmbedder initializes the embedding provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "qwen":
		return qwenEmbedder.NewClient(&qwenEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, NewEngineError("initEmbedder", ErrInvalidConfig)
	}
}

func stringValue(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intValue(m map[string]interface{}, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
