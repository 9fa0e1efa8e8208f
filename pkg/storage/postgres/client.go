// Package postgres provides the PostgreSQL + pgvector storage backend.
//
// Embeddings live in vector(n) columns and similarity search is pushed into
// SQL via the <=> cosine-distance operator, so only the top rows cross the
// wire.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/personify-ai/converse-go/pkg/storage"
	"github.com/personify-ai/converse-go/pkg/visibility"
)

// Client implements storage.Store on PostgreSQL with pgvector.
type Client struct {
	db         *sql.DB
	dimensions int
}

// Config configures the PostgreSQL backend.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	// EmbeddingDims is the dimensionality of stored vectors (required; the
	// vector(n) column type is fixed at schema creation).
	EmbeddingDims int
}

// NewClient connects, enables the pgvector extension, and initializes the
// schema.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	client := &Client{db: db, dimensions: cfg.EmbeddingDims}
	if err := client.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("postgres: create extension: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(255) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			persona TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			style_traits JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id BIGINT PRIMARY KEY,
			agent_id VARCHAR(255) NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			document_id VARCHAR(255) NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			tier INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`, c.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_chunks_agent ON chunks(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_agent_document ON chunks(agent_id, document_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS canonical_answers (
			id BIGINT PRIMARY KEY,
			agent_id VARCHAR(255) NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			question TEXT NOT NULL,
			question_embedding vector(%d) NOT NULL,
			answer TEXT NOT NULL,
			tier INTEGER NOT NULL DEFAULT 0,
			usage_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, c.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_canonical_agent ON canonical_answers(agent_id)`,
		`CREATE TABLE IF NOT EXISTS access_grants (
			follower_id VARCHAR(255) NOT NULL,
			agent_id VARCHAR(255) NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			tier INTEGER NOT NULL,
			granted_at TIMESTAMP NOT NULL,
			PRIMARY KEY (follower_id, agent_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

// UpsertAgent creates or replaces an agent record.
func (c *Client) UpsertAgent(ctx context.Context, agent *storage.Agent) error {
	traits, err := json.Marshal(agent.StyleTraits)
	if err != nil {
		return fmt.Errorf("UpsertAgent: %w", err)
	}

	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO agents (id, owner_id, display_name, persona, bio, style_traits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			display_name = EXCLUDED.display_name,
			persona = EXCLUDED.persona,
			bio = EXCLUDED.bio,
			style_traits = EXCLUDED.style_traits,
			updated_at = EXCLUDED.updated_at
	`, agent.ID, agent.OwnerID, agent.DisplayName, agent.Persona, agent.Bio, string(traits), agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertAgent: %w", err)
	}
	return nil
}

// GetAgent returns an agent, or storage.ErrNotFound.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*storage.Agent, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, owner_id, display_name, persona, bio, style_traits, created_at, updated_at
		FROM agents WHERE id = $1
	`, agentID)

	var agent storage.Agent
	var traits []byte
	err := row.Scan(&agent.ID, &agent.OwnerID, &agent.DisplayName, &agent.Persona, &agent.Bio, &traits, &agent.CreatedAt, &agent.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	if err := json.Unmarshal(traits, &agent.StyleTraits); err != nil {
		return nil, fmt.Errorf("GetAgent: parse style traits: %w", err)
	}
	return &agent, nil
}

// DeleteAgent removes an agent; dependent rows cascade.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("DeleteAgent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("DeleteAgent: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertChunks stores a batch of chunks in one transaction.
func (c *Client) InsertChunks(ctx context.Context, chunks []*storage.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertChunks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, agent_id, document_id, ordinal, content, embedding, tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("InsertChunks: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, chunk := range chunks {
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.AgentID, chunk.DocumentID, chunk.Ordinal, chunk.Content, vectorToString(chunk.Embedding), int(chunk.Tier), chunk.CreatedAt); err != nil {
			return fmt.Errorf("InsertChunks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("InsertChunks: %w", err)
	}
	return nil
}

// SearchChunks runs the similarity search in SQL via pgvector. The id
// tie-break keeps ordering stable on exact score ties.
func (c *Client) SearchChunks(ctx context.Context, embedding []float64, opts *storage.ChunkSearchOptions) ([]*storage.Chunk, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 16
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, agent_id, document_id, ordinal, content, embedding, tier, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM chunks
		WHERE agent_id = $2 AND tier <= $3
		ORDER BY embedding <=> $1, id
		LIMIT $4
	`, vectorToString(embedding), opts.AgentID, int(opts.MaxTier), limit)
	if err != nil {
		return nil, fmt.Errorf("SearchChunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*storage.Chunk
	for rows.Next() {
		var chunk storage.Chunk
		var vec string
		var tier int
		if err := rows.Scan(&chunk.ID, &chunk.AgentID, &chunk.DocumentID, &chunk.Ordinal, &chunk.Content, &vec, &tier, &chunk.CreatedAt, &chunk.Score); err != nil {
			return nil, fmt.Errorf("SearchChunks: %w", err)
		}
		chunk.Embedding, err = stringToVector(vec)
		if err != nil {
			return nil, fmt.Errorf("SearchChunks: %w", err)
		}
		chunk.Tier = visibility.Tier(tier)
		if chunk.Score >= opts.MinScore {
			matches = append(matches, &chunk)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SearchChunks: %w", err)
	}
	return matches, nil
}

// ListChunks returns chunks in creation order.
func (c *Client) ListChunks(ctx context.Context, opts *storage.ListChunksOptions) ([]*storage.Chunk, error) {
	query := `
		SELECT id, agent_id, document_id, ordinal, content, embedding, tier, created_at
		FROM chunks WHERE agent_id = $1`
	args := []interface{}{opts.AgentID}
	argIndex := 2
	if opts.DocumentID != "" {
		query += fmt.Sprintf(` AND document_id = $%d`, argIndex)
		args = append(args, opts.DocumentID)
		argIndex++
	}
	query += ` ORDER BY id`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIndex, argIndex+1)
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListChunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*storage.Chunk
	for rows.Next() {
		var chunk storage.Chunk
		var vec string
		var tier int
		if err := rows.Scan(&chunk.ID, &chunk.AgentID, &chunk.DocumentID, &chunk.Ordinal, &chunk.Content, &vec, &tier, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListChunks: %w", err)
		}
		chunk.Embedding, err = stringToVector(vec)
		if err != nil {
			return nil, fmt.Errorf("ListChunks: %w", err)
		}
		chunk.Tier = visibility.Tier(tier)
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListChunks: %w", err)
	}
	return chunks, nil
}

// DeleteDocumentChunks removes all chunks of one document.
func (c *Client) DeleteDocumentChunks(ctx context.Context, agentID, documentID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE agent_id = $1 AND document_id = $2`, agentID, documentID)
	if err != nil {
		return fmt.Errorf("DeleteDocumentChunks: %w", err)
	}
	return nil
}

// UpsertCanonical creates or replaces a canonical answer.
func (c *Client) UpsertCanonical(ctx context.Context, answer *storage.CanonicalAnswer) error {
	now := time.Now().UTC()
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = now
	}
	answer.UpdatedAt = now

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO canonical_answers (id, agent_id, question, question_embedding, answer, tier, usage_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			question = EXCLUDED.question,
			question_embedding = EXCLUDED.question_embedding,
			answer = EXCLUDED.answer,
			tier = EXCLUDED.tier,
			updated_at = EXCLUDED.updated_at
	`, answer.ID, answer.AgentID, answer.Question, vectorToString(answer.QuestionEmbedding), answer.Answer, int(answer.Tier), answer.UsageCount, answer.CreatedAt, answer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertCanonical: %w", err)
	}
	return nil
}

// GetCanonical returns a canonical answer by id, or storage.ErrNotFound.
func (c *Client) GetCanonical(ctx context.Context, id int64) (*storage.CanonicalAnswer, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, agent_id, question, question_embedding, answer, tier, usage_count, created_at, updated_at
		FROM canonical_answers WHERE id = $1
	`, id)

	var answer storage.CanonicalAnswer
	var vec string
	var tier int
	err := row.Scan(&answer.ID, &answer.AgentID, &answer.Question, &vec, &answer.Answer, &tier, &answer.UsageCount, &answer.CreatedAt, &answer.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetCanonical: %w", err)
	}
	answer.QuestionEmbedding, err = stringToVector(vec)
	if err != nil {
		return nil, fmt.Errorf("GetCanonical: %w", err)
	}
	answer.Tier = visibility.Tier(tier)
	return &answer, nil
}

// DeleteCanonical removes a canonical answer.
func (c *Client) DeleteCanonical(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM canonical_answers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteCanonical: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("DeleteCanonical: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SearchCanonical runs the similarity search in SQL via pgvector.
func (c *Client) SearchCanonical(ctx context.Context, embedding []float64, opts *storage.CanonicalSearchOptions) ([]*storage.CanonicalAnswer, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 4
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, agent_id, question, question_embedding, answer, tier, usage_count, created_at, updated_at,
		       1 - (question_embedding <=> $1) AS similarity
		FROM canonical_answers
		WHERE agent_id = $2 AND tier <= $3
		ORDER BY question_embedding <=> $1, id
		LIMIT $4
	`, vectorToString(embedding), opts.AgentID, int(opts.MaxTier), limit)
	if err != nil {
		return nil, fmt.Errorf("SearchCanonical: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*storage.CanonicalAnswer
	for rows.Next() {
		var answer storage.CanonicalAnswer
		var vec string
		var tier int
		if err := rows.Scan(&answer.ID, &answer.AgentID, &answer.Question, &vec, &answer.Answer, &tier, &answer.UsageCount, &answer.CreatedAt, &answer.UpdatedAt, &answer.Score); err != nil {
			return nil, fmt.Errorf("SearchCanonical: %w", err)
		}
		answer.QuestionEmbedding, err = stringToVector(vec)
		if err != nil {
			return nil, fmt.Errorf("SearchCanonical: %w", err)
		}
		answer.Tier = visibility.Tier(tier)
		if answer.Score >= opts.MinScore {
			matches = append(matches, &answer)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SearchCanonical: %w", err)
	}
	return matches, nil
}

// IncrementCanonicalUsage bumps the usage counter.
func (c *Client) IncrementCanonicalUsage(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE canonical_answers SET usage_count = usage_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("IncrementCanonicalUsage: %w", err)
	}
	return nil
}

// UpsertGrant creates or replaces the grant for (follower, agent).
func (c *Client) UpsertGrant(ctx context.Context, grant *storage.Grant) error {
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO access_grants (follower_id, agent_id, tier, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (follower_id, agent_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			granted_at = EXCLUDED.granted_at
	`, grant.FollowerID, grant.AgentID, int(grant.Tier), grant.GrantedAt)
	if err != nil {
		return fmt.Errorf("UpsertGrant: %w", err)
	}
	return nil
}

// GetGrant returns the active grant, or storage.ErrNotFound.
func (c *Client) GetGrant(ctx context.Context, followerID, agentID string) (*storage.Grant, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT follower_id, agent_id, tier, granted_at
		FROM access_grants WHERE follower_id = $1 AND agent_id = $2
	`, followerID, agentID)

	var grant storage.Grant
	var tier int
	err := row.Scan(&grant.FollowerID, &grant.AgentID, &tier, &grant.GrantedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetGrant: %w", err)
	}
	grant.Tier = visibility.Tier(tier)
	return &grant, nil
}

// RevokeGrant removes the grant for (follower, agent).
func (c *Client) RevokeGrant(ctx context.Context, followerID, agentID string) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM access_grants WHERE follower_id = $1 AND agent_id = $2`, followerID, agentID)
	if err != nil {
		return fmt.Errorf("RevokeGrant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("RevokeGrant: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Close closes the database.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
