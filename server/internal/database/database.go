// Package database provides PostgreSQL connection management and schema
// migrations for HMLR. It handles database initialization, connection
// pooling, and an idempotent (unversioned) schema migration for the ledger (blocks, turns),
// the fact store, the long-term gardened memory and its pgvector index, the
// dossier family, and the ambient operator-auth table.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/geraldfingburke/hmlr/server/internal/config"
)

// NewDB establishes a new PostgreSQL connection pool, verifying connectivity
// with Ping before returning.
func NewDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return db, nil
}

// Migrate executes HMLR's schema migration. It is idempotent: tables,
// plain indexes and the pgvector extension use CREATE ... IF NOT EXISTS,
// and the ivfflat indexes are created behind a guarded
// DO $$ ... IF NOT EXISTS ... $$ block.
func Migrate(db *sql.DB, embeddingDim int) error {
	schema := fmt.Sprintf(`
	-- ========================================================================
	-- EXTENSION: pgvector
	-- ========================================================================
	CREATE EXTENSION IF NOT EXISTS vector;

	-- ========================================================================
	-- TABLE: daily_ledger (Bridge Blocks)
	-- ========================================================================
	-- Short-term, mutable containers for one ongoing topic's turns. Rows are
	-- deleted once the Gardener commits their content into long-term storage.
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS daily_ledger (
		block_id VARCHAR(64) PRIMARY KEY,
		status VARCHAR(16) NOT NULL CHECK (status IN ('ACTIVE', 'PAUSED', 'CLOSED')),
		topic_label TEXT NOT NULL DEFAULT '',
		keywords TEXT[] NOT NULL DEFAULT '{}',
		rolling_summary TEXT NOT NULL DEFAULT '',
		open_loops TEXT[] NOT NULL DEFAULT '{}',
		decisions TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_daily_ledger_status ON daily_ledger(status);
	CREATE INDEX IF NOT EXISTS idx_daily_ledger_updated_at ON daily_ledger(updated_at);

	-- ========================================================================
	-- TABLE: turns
	-- ========================================================================
	-- One user/assistant exchange, permanently owned by one block.
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS turns (
		turn_id VARCHAR(64) PRIMARY KEY,
		block_id VARCHAR(64) NOT NULL REFERENCES daily_ledger(block_id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		user_text TEXT NOT NULL,
		ai_text TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (block_id, ordinal)
	);

	CREATE INDEX IF NOT EXISTS idx_turns_block_id ON turns(block_id);

	-- ========================================================================
	-- TABLE: fact_store
	-- ========================================================================
	-- Append-only key/value facts extracted by the Fact Scrubber.
	-- source_block_id stays NULL until the Governor links the owning turn's
	-- block after routing completes (update_facts_block_id).
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS fact_store (
		fact_id VARCHAR(64) PRIMARY KEY,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		source_chunk_id VARCHAR(64) NOT NULL,
		source_block_id VARCHAR(64) REFERENCES daily_ledger(block_id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_fact_store_key ON fact_store(key);
	CREATE INDEX IF NOT EXISTS idx_fact_store_source_block_id ON fact_store(source_block_id);
	CREATE INDEX IF NOT EXISTS idx_fact_store_created_at ON fact_store(created_at DESC);

	-- ========================================================================
	-- TABLE: user_profile
	-- ========================================================================
	-- Singleton row for the JSON profile document. The live document is
	-- file-backed (see internal/profile); no code path writes or reads this
	-- table, and the GraphQL inspector reads the file through profile.Store.
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS user_profile (
		id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		document JSONB NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- ========================================================================
	-- TABLE: ephemeral_chunks
	-- ========================================================================
	-- Holds the Chunk Engine's turn/paragraph/sentence tree and its
	-- embeddings while a block is still short-term. The Gardener promotes
	-- these rows into gardened_memory + embeddings and deletes them here as
	-- part of the block's deletion.
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS ephemeral_chunks (
		chunk_id VARCHAR(64) PRIMARY KEY,
		block_id VARCHAR(64) NOT NULL REFERENCES daily_ledger(block_id) ON DELETE CASCADE,
		parent_id VARCHAR(64) NOT NULL DEFAULT '',
		turn_id VARCHAR(64) NOT NULL,
		level VARCHAR(16) NOT NULL CHECK (level IN ('turn', 'paragraph', 'sentence')),
		ordinal INTEGER NOT NULL DEFAULT 0,
		turn_ordinal INTEGER NOT NULL DEFAULT 0,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		embedding vector(%[1]d) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_ephemeral_chunks_block_id ON ephemeral_chunks(block_id);

	-- ========================================================================
	-- TABLE: gardened_memory (long-term chunks)
	-- ========================================================================
	-- Immutable chunk bodies written by the Gardener. Tags are never
	-- duplicated here; block_metadata is joined at read time (see §3 of
	-- SPEC_FULL.md, resolving the two-generation Open Question).
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS gardened_memory (
		chunk_id VARCHAR(64) PRIMARY KEY,
		block_id VARCHAR(64) NOT NULL,
		parent_id VARCHAR(64) NOT NULL DEFAULT '',
		level VARCHAR(16) NOT NULL CHECK (level IN ('turn', 'paragraph', 'sentence')),
		turn_ordinal INTEGER NOT NULL DEFAULT 0,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_gardened_memory_block_id ON gardened_memory(block_id);

	-- ========================================================================
	-- TABLE: embeddings
	-- ========================================================================
	-- One pgvector row per gardened_memory chunk. Kept as its own table
	-- (rather than a column on gardened_memory) so the ivfflat index can be
	-- built independently, mirroring the fbrzx-airplane-chat vectorstore.
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id VARCHAR(64) PRIMARY KEY REFERENCES gardened_memory(chunk_id) ON DELETE CASCADE,
		embedding vector(%[1]d) NOT NULL
	);

	DO $$
	BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM pg_class WHERE relname = 'idx_embeddings_embedding_cosine'
		) THEN
			CREATE INDEX idx_embeddings_embedding_cosine ON embeddings
				USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
		END IF;
	END $$;

	-- ========================================================================
	-- TABLE: block_metadata
	-- ========================================================================
	-- Sticky global tags and section rules written once per gardened block.
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS block_metadata (
		block_id VARCHAR(64) PRIMARY KEY,
		global_tags JSONB NOT NULL DEFAULT '[]',
		section_rules JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- ========================================================================
	-- TABLE: dossiers
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS dossiers (
		dossier_id VARCHAR(64) PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'open',
		permissions TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_dossiers_status ON dossiers(status);

	-- ========================================================================
	-- TABLE: dossier_facts
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS dossier_facts (
		fact_id VARCHAR(64) PRIMARY KEY,
		dossier_id VARCHAR(64) NOT NULL REFERENCES dossiers(dossier_id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		type VARCHAR(32) NOT NULL DEFAULT 'narrative',
		source_block_id VARCHAR(64) NOT NULL DEFAULT '',
		source_turn_id VARCHAR(64) NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		added_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_dossier_facts_dossier_id ON dossier_facts(dossier_id);

	-- ========================================================================
	-- TABLE: dossier_fact_embeddings
	-- ========================================================================
	-- Backs the Dossier Governor's Multi-Vector Voting crawl.
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS dossier_fact_embeddings (
		fact_id VARCHAR(64) PRIMARY KEY REFERENCES dossier_facts(fact_id) ON DELETE CASCADE,
		dossier_id VARCHAR(64) NOT NULL REFERENCES dossiers(dossier_id) ON DELETE CASCADE,
		embedding vector(%[1]d) NOT NULL
	);

	DO $$
	BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM pg_class WHERE relname = 'idx_dossier_fact_embeddings_cosine'
		) THEN
			CREATE INDEX idx_dossier_fact_embeddings_cosine ON dossier_fact_embeddings
				USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
		END IF;
	END $$;

	CREATE INDEX IF NOT EXISTS idx_dossier_fact_embeddings_dossier_id ON dossier_fact_embeddings(dossier_id);

	-- ========================================================================
	-- TABLE: dossier_provenance
	-- ========================================================================
	-- Append-only audit log of every mutation made to a dossier.
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS dossier_provenance (
		provenance_id VARCHAR(64) PRIMARY KEY,
		dossier_id VARCHAR(64) NOT NULL REFERENCES dossiers(dossier_id) ON DELETE CASCADE,
		operation VARCHAR(32) NOT NULL,
		source_block_id VARCHAR(64) NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_dossier_provenance_dossier_id ON dossier_provenance(dossier_id);

	-- ========================================================================
	-- TABLE: operators
	-- ========================================================================
	-- Ambient auth table guarding the HTTP/GraphQL surface. Distinct from
	-- any conversational-user identity, which this system does not model.
	-- ========================================================================
	CREATE TABLE IF NOT EXISTS operators (
		id SERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`, embeddingDim)

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	return nil
}
