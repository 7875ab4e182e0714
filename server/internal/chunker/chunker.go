// Package chunker implements the Chunk Engine: a deterministic, synchronous
// splitter that turns one (turn_id, user_text, ai_text) pair into a rooted
// turn → paragraph → sentence tree, computing an embedding for every node.
// Sentence boundary detection follows a pragmatic regexp approach rather
// than pulling in a tokenizer library.
package chunker

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/geraldfingburke/hmlr/server/internal/embedding"
	"github.com/geraldfingburke/hmlr/server/internal/models"
)

var sentenceBoundary = regexp.MustCompile(`(?:[.!?])\s+(?:[A-Z]|$)`)

// Engine splits turns into chunk trees and embeds every node.
type Engine struct {
	embedder embedding.Client
}

// NewEngine builds an Engine backed by the given embedding client.
func NewEngine(embedder embedding.Client) *Engine {
	return &Engine{embedder: embedder}
}

// Split produces the full chunk tree for one turn: a turn-level node, one
// paragraph node per blank-line-delimited block of text, and one sentence
// node per detected sentence within each paragraph. IDs are deterministic:
// `<parent>_<level><ordinal>`, zero-padded, with the turn ID itself already
// carrying the ingest UTC timestamp (assigned by the caller).
func (e *Engine) Split(ctx context.Context, turnID, blockID, userText, aiText string) ([]models.Chunk, error) {
	combined := strings.TrimSpace(userText + "\n\n" + aiText)

	turnChunk := models.Chunk{
		ID:      turnID,
		TurnID:  turnID,
		BlockID: blockID,
		Level:   models.LevelTurn,
		Ordinal: 0,
		Text:    combined,
	}
	chunks := []models.Chunk{turnChunk}

	paragraphs := splitParagraphs(combined)
	for pi, para := range paragraphs {
		paraID := fmt.Sprintf("%s_p%02d", turnID, pi)
		paraChunk := models.Chunk{
			ID:       paraID,
			ParentID: turnID,
			TurnID:   turnID,
			BlockID:  blockID,
			Level:    models.LevelParagraph,
			Ordinal:  pi,
			Text:     para,
		}
		chunks = append(chunks, paraChunk)

		sentences := splitSentences(para)
		for si, sent := range sentences {
			sentID := fmt.Sprintf("%s_s%02d", paraID, si)
			chunks = append(chunks, models.Chunk{
				ID:       sentID,
				ParentID: paraID,
				TurnID:   turnID,
				BlockID:  blockID,
				Level:    models.LevelSentence,
				Ordinal:  si,
				Text:     sent,
			})
		}
	}

	for i := range chunks {
		chunks[i].TokenCount = estimateTokens(chunks[i].Text)

		vec, err := e.embedder.Embed(ctx, chunks[i].Text)
		if err != nil {
			return nil, fmt.Errorf("chunker: embedding chunk %s: %w", chunks[i].ID, err)
		}
		chunks[i].Embedding = vec
	}

	return chunks, nil
}

func splitParagraphs(text string) []string {
	raw := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	var out []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func splitSentences(paragraph string) []string {
	locs := sentenceBoundary.FindAllStringIndex(paragraph, -1)
	if len(locs) == 0 {
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var sentences []string
	start := 0
	for _, loc := range locs {
		end := loc[0] + 1
		s := strings.TrimSpace(paragraph[start:end])
		if s != "" {
			sentences = append(sentences, s)
		}
		start = loc[1] - 1
	}
	if tail := strings.TrimSpace(paragraph[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// Persist writes the chunk tree into ephemeral_chunks, the short-term home
// for chunks until the Gardener promotes them into gardened_memory.
// turnOrdinal is the owning turn's position within its block, stamped onto
// every node so section rules can later match against it.
func Persist(ctx context.Context, db *sql.DB, chunks []models.Chunk, turnOrdinal int) error {
	for _, c := range chunks {
		_, err := db.ExecContext(ctx, `
			INSERT INTO ephemeral_chunks (chunk_id, block_id, parent_id, turn_id, level, ordinal, turn_ordinal, text, token_count, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		`, c.ID, c.BlockID, c.ParentID, c.TurnID, string(c.Level), c.Ordinal, turnOrdinal, c.Text, c.TokenCount, pgvector.NewVector(c.Embedding))
		if err != nil {
			return fmt.Errorf("chunker: persisting chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// estimateTokens approximates token count from whitespace-delimited words
// rather than invoking a tokenizer.
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}
