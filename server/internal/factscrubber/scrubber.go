// Package factscrubber implements the Fact Scrubber: an LLM-driven extractor
// of durable key/value facts from sentence-level chunks. Extracted pairs are
// inserted with source_block_id left null until the Governor commits a
// routing decision and update_facts_block_id links them.
package factscrubber

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/geraldfingburke/hmlr/server/internal/llm"
	"github.com/geraldfingburke/hmlr/server/internal/models"
)

const systemPrompt = `You extract durable facts (credentials, identifiers, definitions) from a single sentence of conversation. Respond with strict JSON: {"facts": [{"key": "...", "value": "..."}]}. Return {"facts": []} if the sentence carries no durable fact.`

type extraction struct {
	Facts []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"facts"`
}

// Scrubber extracts and persists facts from sentence chunks.
type Scrubber struct {
	db  *sql.DB
	llm llm.Client
	log zerolog.Logger
}

// New builds a Scrubber.
func New(db *sql.DB, client llm.Client, log zerolog.Logger) *Scrubber {
	return &Scrubber{db: db, llm: client, log: log.With().Str("component", "factscrubber").Logger()}
}

// Extract runs one LLM call per sentence-level chunk, inserting every
// discovered fact into fact_store with source_block_id left null. A
// transient LLM failure on a chunk yields zero facts for that chunk rather
// than aborting the whole batch.
func (s *Scrubber) Extract(ctx context.Context, sentenceChunks []models.Chunk) ([]models.Fact, error) {
	var facts []models.Fact

	for _, chunk := range sentenceChunks {
		if chunk.Level != models.LevelSentence || strings.TrimSpace(chunk.Text) == "" {
			continue
		}

		var result extraction
		if err := s.llm.Complete(ctx, systemPrompt, chunk.Text, &result); err != nil {
			s.log.Warn().Err(err).Str("chunk_id", chunk.ID).Msg("fact extraction failed, emitting zero facts")
			continue
		}

		for _, pair := range result.Facts {
			if pair.Key == "" {
				continue
			}
			fact := models.Fact{
				ID:            uuid.NewString(),
				Key:           pair.Key,
				Value:         pair.Value,
				SourceChunkID: chunk.ID,
				CreatedAt:     time.Now().UTC(),
			}
			if err := s.insert(ctx, fact); err != nil {
				return facts, fmt.Errorf("factscrubber: inserting fact: %w", err)
			}
			facts = append(facts, fact)
		}
	}

	return facts, nil
}

func (s *Scrubber) insert(ctx context.Context, f models.Fact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fact_store (fact_id, key, value, source_chunk_id, source_block_id, created_at)
		VALUES ($1, $2, $3, $4, NULL, $5)
	`, f.ID, f.Key, f.Value, f.SourceChunkID, f.CreatedAt)
	return err
}

// LinkToBlock implements update_facts_block_id: every fact whose
// source_chunk_id belongs to turnID and still lacks a source_block_id is
// linked to blockID. This runs synchronously right after the Governor
// commits, before Hydration, so the Hydrator observes freshly linked facts.
func (s *Scrubber) LinkToBlock(ctx context.Context, turnID, blockID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fact_store
		SET source_block_id = $1
		WHERE source_block_id IS NULL AND source_chunk_id LIKE $2
	`, blockID, turnID+"%")
	if err != nil {
		return fmt.Errorf("factscrubber: linking facts to block: %w", err)
	}
	return nil
}

// ForBlock returns the facts scoped to block_id, ordered by created_at DESC.
// There is no secondary sort key: facts with equal created_at come back in
// no defined order.
func ForBlock(ctx context.Context, db *sql.DB, blockID string) ([]models.Fact, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT fact_id, key, value, source_chunk_id, source_block_id, created_at
		FROM fact_store
		WHERE source_block_id = $1
		ORDER BY created_at DESC
	`, blockID)
	if err != nil {
		return nil, fmt.Errorf("factscrubber: querying facts for block: %w", err)
	}
	defer rows.Close()

	var facts []models.Fact
	for rows.Next() {
		var f models.Fact
		if err := rows.Scan(&f.ID, &f.Key, &f.Value, &f.SourceChunkID, &f.SourceBlockID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("factscrubber: scanning fact row: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
