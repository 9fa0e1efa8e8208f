// Package sqlite provides the SQLite storage backend.
//
// SQLite has no native vector operations, so embeddings are stored as JSON
// strings in TEXT columns and cosine similarity is computed in memory over
// the agent's rows. That keeps the backend dependency-free beyond the driver
// and is plenty for per-agent corpora, which are small by construction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/personify-ai/converse-go/pkg/storage"
	"github.com/personify-ai/converse-go/pkg/visibility"
)

// Client implements storage.Store on SQLite.
type Client struct {
	db *sql.DB
}

// Config configures the SQLite backend.
type Config struct {
	// DBPath is the database file path. ":memory:" works for tests.
	DBPath string
}

// NewClient opens (creating if necessary) the database and initializes the
// schema. Foreign keys are enabled so agent deletion cascades.
func NewClient(cfg *Config) (*Client, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	client := &Client{db: db}
	if err := client.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			persona TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			style_traits TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			document_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			tier INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_agent ON chunks(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_agent_document ON chunks(agent_id, document_id)`,
		`CREATE TABLE IF NOT EXISTS canonical_answers (
			id INTEGER PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			question TEXT NOT NULL,
			question_embedding TEXT NOT NULL,
			answer TEXT NOT NULL,
			tier INTEGER NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_agent ON canonical_answers(agent_id)`,
		`CREATE TABLE IF NOT EXISTS access_grants (
			follower_id TEXT NOT NULL,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			tier INTEGER NOT NULL,
			granted_at DATETIME NOT NULL,
			PRIMARY KEY (follower_id, agent_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			display_name = excluded.display_name,
			persona = excluded.persona,
			bio = excluded.bio,
			style_traits = excluded.style_traits,
			updated_at = excluded.updated_at
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
		FROM agents WHERE id = ?
	`, agentID)

	var agent storage.Agent
	var traits string
	err := row.Scan(&agent.ID, &agent.OwnerID, &agent.DisplayName, &agent.Persona, &agent.Bio, &traits, &agent.CreatedAt, &agent.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	if err := json.Unmarshal([]byte(traits), &agent.StyleTraits); err != nil {
		return nil, fmt.Errorf("GetAgent: parse style traits: %w", err)
	}
	return &agent, nil
}

// DeleteAgent removes an agent; chunks, canonical answers, and grants cascade
// via foreign keys.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, agentID)
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("InsertChunks: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, chunk := range chunks {
		embedding, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("InsertChunks: %w", err)
		}
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.AgentID, chunk.DocumentID, chunk.Ordinal, chunk.Content, string(embedding), int(chunk.Tier), chunk.CreatedAt); err != nil {
			return fmt.Errorf("InsertChunks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("InsertChunks: %w", err)
	}
	return nil
}

// SearchChunks loads the agent's visible chunks and scores them in memory.
func (c *Client) SearchChunks(ctx context.Context, embedding []float64, opts *storage.ChunkSearchOptions) ([]*storage.Chunk, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, agent_id, document_id, ordinal, content, embedding, tier, created_at
		FROM chunks
		WHERE agent_id = ? AND tier <= ?
		ORDER BY id
	`, opts.AgentID, int(opts.MaxTier))
	if err != nil {
		return nil, fmt.Errorf("SearchChunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*storage.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("SearchChunks: %w", err)
		}
		chunk.Score = storage.CosineSimilarity(embedding, chunk.Embedding)
		if chunk.Score >= opts.MinScore {
			matches = append(matches, chunk)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SearchChunks: %w", err)
	}

	return storage.SortChunksByScore(matches, opts.Limit), nil
}

// ListChunks returns chunks in creation order.
func (c *Client) ListChunks(ctx context.Context, opts *storage.ListChunksOptions) ([]*storage.Chunk, error) {
	query := `
		SELECT id, agent_id, document_id, ordinal, content, embedding, tier, created_at
		FROM chunks WHERE agent_id = ?`
	args := []interface{}{opts.AgentID}
	if opts.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, opts.DocumentID)
	}
	query += ` ORDER BY id`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListChunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*storage.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("ListChunks: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListChunks: %w", err)
	}
	return chunks, nil
}

// DeleteDocumentChunks removes all chunks of one document.
func (c *Client) DeleteDocumentChunks(ctx context.Context, agentID, documentID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE agent_id = ? AND document_id = ?`, agentID, documentID)
	if err != nil {
		return fmt.Errorf("DeleteDocumentChunks: %w", err)
	}
	return nil
}

// UpsertCanonical creates or replaces a canonical answer.
func (c *Client) UpsertCanonical(ctx context.Context, answer *storage.CanonicalAnswer) error {
	embedding, err := json.Marshal(answer.QuestionEmbedding)
	if err != nil {
		return fmt.Errorf("UpsertCanonical: %w", err)
	}

	now := time.Now().UTC()
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = now
	}
	answer.UpdatedAt = now

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO canonical_answers (id, agent_id, question, question_embedding, answer, tier, usage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			question_embedding = excluded.question_embedding,
			answer = excluded.answer,
			tier = excluded.tier,
			updated_at = excluded.updated_at
	`, answer.ID, answer.AgentID, answer.Question, string(embedding), answer.Answer, int(answer.Tier), answer.UsageCount, answer.CreatedAt, answer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertCanonical: %w", err)
	}
	return nil
}

// GetCanonical returns a canonical answer by id, or storage.ErrNotFound.
func (c *Client) GetCanonical(ctx context.Context, id int64) (*storage.CanonicalAnswer, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, agent_id, question, question_embedding, answer, tier, usage_count, created_at, updated_at
		FROM canonical_answers WHERE id = ?
	`, id)

	answer, err := scanCanonical(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetCanonical: %w", err)
	}
	return answer, nil
}

// DeleteCanonical removes a canonical answer.
func (c *Client) DeleteCanonical(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM canonical_answers WHERE id = ?`, id)
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

// SearchCanonical scores the agent's visible canonical questions in memory.
func (c *Client) SearchCanonical(ctx context.Context, embedding []float64, opts *storage.CanonicalSearchOptions) ([]*storage.CanonicalAnswer, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, agent_id, question, question_embedding, answer, tier, usage_count, created_at, updated_at
		FROM canonical_answers
		WHERE agent_id = ? AND tier <= ?
		ORDER BY id
	`, opts.AgentID, int(opts.MaxTier))
	if err != nil {
		return nil, fmt.Errorf("SearchCanonical: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*storage.CanonicalAnswer
	for rows.Next() {
		answer, err := scanCanonical(rows)
		if err != nil {
			return nil, fmt.Errorf("SearchCanonical: %w", err)
		}
		answer.Score = storage.CosineSimilarity(embedding, answer.QuestionEmbedding)
		if answer.Score >= opts.MinScore {
			matches = append(matches, answer)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SearchCanonical: %w", err)
	}

	return storage.SortCanonicalByScore(matches, opts.Limit), nil
}

// IncrementCanonicalUsage bumps the usage counter.
func (c *Client) IncrementCanonicalUsage(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE canonical_answers SET usage_count = usage_count + 1 WHERE id = ?`, id)
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
		VALUES (?, ?, ?, ?)
		ON CONFLICT(follower_id, agent_id) DO UPDATE SET
			tier = excluded.tier,
			granted_at = excluded.granted_at
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
		FROM access_grants WHERE follower_id = ? AND agent_id = ?
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
	result, err := c.db.ExecContext(ctx, `DELETE FROM access_grants WHERE follower_id = ? AND agent_id = ?`, followerID, agentID)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(s rowScanner) (*storage.Chunk, error) {
	var chunk storage.Chunk
	var embedding string
	var tier int
	if err := s.Scan(&chunk.ID, &chunk.AgentID, &chunk.DocumentID, &chunk.Ordinal, &chunk.Content, &embedding, &tier, &chunk.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(embedding), &chunk.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	chunk.Tier = visibility.Tier(tier)
	return &chunk, nil
}

func scanCanonical(s rowScanner) (*storage.CanonicalAnswer, error) {
	var answer storage.CanonicalAnswer
	var embedding string
	var tier int
	if err := s.Scan(&answer.ID, &answer.AgentID, &answer.Question, &embedding, &answer.Answer, &tier, &answer.UsageCount, &answer.CreatedAt, &answer.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(embedding), &answer.QuestionEmbedding); err != nil {
		return nil, fmt.Errorf("parse question embedding: %w", err)
	}
	answer.Tier = visibility.Tier(tier)
	return &answer, nil
}
