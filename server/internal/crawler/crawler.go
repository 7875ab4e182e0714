// Package crawler implements the Crawler: vector search over gardened_memory
// and dossier_fact_embeddings via pgvector cosine similarity, grounded on
// the fbrzx-airplane-chat postgres vectorstore's QuerySimilar query shape
// (`1 - (embedding <=> $1) AS score ... ORDER BY embedding <=> $1 LIMIT $3`).
// The Crawler never searches daily_ledger; short-term blocks are loaded
// directly by the Hydrator.
package crawler

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/geraldfingburke/hmlr/server/internal/embedding"
	"github.com/geraldfingburke/hmlr/server/internal/jsonutil"
	"github.com/geraldfingburke/hmlr/server/internal/models"
)

// Crawler performs cosine-similarity search over the long-term stores.
type Crawler struct {
	db        *sql.DB
	embedder  embedding.Client
	threshold float64
}

// New builds a Crawler.
func New(db *sql.DB, embedder embedding.Client, threshold float64) *Crawler {
	return &Crawler{db: db, embedder: embedder, threshold: threshold}
}

// SearchMemory returns the top-k gardened_memory chunks whose cosine
// similarity to the query embedding is at or above the Crawler's threshold,
// annotated with their source block's sticky tags.
func (c *Crawler) SearchMemory(ctx context.Context, query string, k int) ([]models.RetrievedMemory, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil // embedding failure: proceed with empty retrieval
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT g.chunk_id, g.text, g.block_id, g.turn_ordinal, g.created_at,
		       1 - (e.embedding <=> $1) AS score,
		       COALESCE(m.global_tags, '[]')
		FROM gardened_memory g
		JOIN embeddings e ON e.chunk_id = g.chunk_id
		LEFT JOIN block_metadata m ON m.block_id = g.block_id
		ORDER BY e.embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("crawler: querying gardened_memory: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievedMemory
	for rows.Next() {
		var (
			r       models.RetrievedMemory
			tagsRaw []byte
		)
		if err := rows.Scan(&r.ChunkID, &r.Text, &r.SourceBlock, &r.TurnOrdinal, &r.SourceDate, &r.Similarity, &tagsRaw); err != nil {
			return nil, fmt.Errorf("crawler: scanning memory row: %w", err)
		}
		if r.Similarity < c.threshold {
			continue
		}
		if err := jsonutil.Unmarshal(tagsRaw, &r.Tags); err != nil {
			return nil, fmt.Errorf("crawler: decoding global tags: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchDossierFacts returns the top-k dossier_fact_embeddings rows whose
// cosine similarity to the query embedding is at or above the Crawler's
// threshold.
func (c *Crawler) SearchDossierFacts(ctx context.Context, query string, k int) ([]models.RetrievedDossierFact, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil
	}
	return c.searchDossierFactsByVector(ctx, vec, k)
}

func (c *Crawler) searchDossierFactsByVector(ctx context.Context, vec []float32, k int) ([]models.RetrievedDossierFact, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT df.fact_id, df.dossier_id, df.text, 1 - (de.embedding <=> $1) AS score
		FROM dossier_facts df
		JOIN dossier_fact_embeddings de ON de.fact_id = df.fact_id
		ORDER BY de.embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("crawler: querying dossier_fact_embeddings: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievedDossierFact
	for rows.Next() {
		var r models.RetrievedDossierFact
		if err := rows.Scan(&r.FactID, &r.DossierID, &r.Text, &r.Similarity); err != nil {
			return nil, fmt.Errorf("crawler: scanning dossier fact row: %w", err)
		}
		if r.Similarity < c.threshold {
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// VoteCandidates is used by the Dossier Governor's Multi-Vector Voting: it
// embeds factText directly and returns up to topK hits, ignoring the
// Crawler's default threshold in favor of the supplied one.
func (c *Crawler) VoteCandidates(ctx context.Context, factText string, topK int, threshold float64) ([]models.RetrievedDossierFact, error) {
	vec, err := c.embedder.Embed(ctx, factText)
	if err != nil {
		return nil, fmt.Errorf("crawler: embedding fact for voting: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT df.fact_id, df.dossier_id, df.text, 1 - (de.embedding <=> $1) AS score
		FROM dossier_facts df
		JOIN dossier_fact_embeddings de ON de.fact_id = df.fact_id
		ORDER BY de.embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("crawler: querying voting candidates: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievedDossierFact
	for rows.Next() {
		var r models.RetrievedDossierFact
		if err := rows.Scan(&r.FactID, &r.DossierID, &r.Text, &r.Similarity); err != nil {
			return nil, fmt.Errorf("crawler: scanning voting row: %w", err)
		}
		if r.Similarity < threshold {
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
