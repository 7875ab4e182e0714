// Package dossier implements the write-side Dossier Governor (Multi-Vector
// Voting) and the read-side Dossier Retriever, which together keep
// long-lived fact dossiers building incrementally across many gardened
// blocks.
package dossier

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/geraldfingburke/hmlr/server/internal/embedding"
	"github.com/geraldfingburke/hmlr/server/internal/idgen"
	"github.com/geraldfingburke/hmlr/server/internal/llm"
	"github.com/geraldfingburke/hmlr/server/internal/models"
)

// Crawler is the subset of crawler.Crawler the Dossier Governor needs for
// its voting crawl, declared locally to avoid a dependency on the crawler
// package's full surface.
type Crawler interface {
	VoteCandidates(ctx context.Context, factText string, topK int, threshold float64) ([]models.RetrievedDossierFact, error)
}

// Governor is the write-side router that appends fact packets to existing
// dossiers or creates new ones via Multi-Vector Voting.
type Governor struct {
	db        *sql.DB
	llm       llm.Client
	embedder  embedding.Client
	crawler   Crawler
	votingTopK int
	threshold  float64
	log        zerolog.Logger
}

// New builds a dossier Governor.
func New(db *sql.DB, client llm.Client, embedder embedding.Client, crawler Crawler, votingTopK int, threshold float64, log zerolog.Logger) *Governor {
	return &Governor{
		db:         db,
		llm:        client,
		embedder:   embedder,
		crawler:    crawler,
		votingTopK: votingTopK,
		threshold:  threshold,
		log:        log.With().Str("component", "dossier_governor").Logger(),
	}
}

type candidateTally struct {
	dossierID string
	hitCount  int
	scoreSum  float64
}

// Route executes Multi-Vector Voting for one fact packet: crawl each fact's
// nearest dossier facts, tally hits per dossier_id, rank by (hit_count DESC,
// score_sum DESC), and ask one LLM call to append or create.
func (g *Governor) Route(ctx context.Context, packet models.FactPacket) error {
	tallies := make(map[string]*candidateTally)

	for _, fact := range packet.Facts {
		hits, err := g.crawler.VoteCandidates(ctx, fact, g.votingTopK, g.threshold)
		if err != nil {
			return fmt.Errorf("dossier: voting crawl failed: %w", err)
		}
		for _, hit := range hits {
			t, ok := tallies[hit.DossierID]
			if !ok {
				t = &candidateTally{dossierID: hit.DossierID}
				tallies[hit.DossierID] = t
			}
			t.hitCount++
			t.scoreSum += hit.Similarity
		}
	}

	ranked := make([]candidateTally, 0, len(tallies))
	for _, t := range tallies {
		ranked = append(ranked, *t)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].hitCount != ranked[j].hitCount {
			return ranked[i].hitCount > ranked[j].hitCount
		}
		return ranked[i].scoreSum > ranked[j].scoreSum
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}

	if len(ranked) == 0 {
		return g.create(ctx, packet)
	}

	targetID, shouldCreate, err := g.decideAction(ctx, packet, ranked)
	if err != nil {
		return fmt.Errorf("dossier: vote decision failed: %w", err)
	}
	if shouldCreate {
		return g.create(ctx, packet)
	}
	return g.append(ctx, targetID, packet)
}

func (g *Governor) decideAction(ctx context.Context, packet models.FactPacket, ranked []candidateTally) (string, bool, error) {
	var sb strings.Builder
	sb.WriteString("Incoming facts:\n")
	for _, f := range packet.Facts {
		sb.WriteString("- " + f + "\n")
	}
	sb.WriteString("\nCandidate dossiers:\n")
	for _, c := range ranked {
		var d models.Dossier
		err := g.db.QueryRowContext(ctx, `SELECT dossier_id, title, summary FROM dossiers WHERE dossier_id = $1`, c.dossierID).
			Scan(&d.ID, &d.Title, &d.Summary)
		if err != nil {
			return "", false, err
		}
		fmt.Fprintf(&sb, "- id=%s title=%q summary=%q hit_count=%d score_sum=%.3f\n", d.ID, d.Title, d.Summary, c.hitCount, c.scoreSum)
	}

	var decision struct {
		Action          string `json:"action"`
		TargetDossierID string `json:"target_dossier_id"`
	}
	system := `Choose whether the incoming facts belong to one of the candidate dossiers or need a new one. Respond with strict JSON: {"action": "append"|"create", "target_dossier_id": "<id if append, else empty>"}.`
	if err := g.llm.Complete(ctx, system, sb.String(), &decision); err != nil {
		return "", false, err
	}
	if decision.Action == "append" && decision.TargetDossierID != "" {
		return decision.TargetDossierID, false, nil
	}
	return "", true, nil
}

func (g *Governor) create(ctx context.Context, packet models.FactPacket) error {
	now := time.Now().UTC()
	dossierID := idgen.Dossier(now)

	summary, err := g.generateSummary(ctx, "", packet.Facts)
	if err != nil {
		g.log.Warn().Err(err).Msg("initial summary generation failed, using empty summary")
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dossiers (dossier_id, title, summary, status, permissions, created_at, last_updated)
		VALUES ($1, $2, $3, 'open', '{}', $4, $4)
	`, dossierID, packet.ClusterLabel, summary, now)
	if err != nil {
		return fmt.Errorf("dossier: inserting dossier: %w", err)
	}

	if err := g.insertFacts(ctx, tx, dossierID, packet); err != nil {
		return err
	}

	if err := g.writeProvenance(ctx, tx, dossierID, models.ProvCreated, packet.SourceBlockID, "dossier created"); err != nil {
		return err
	}

	return tx.Commit()
}

func (g *Governor) append(ctx context.Context, dossierID string, packet models.FactPacket) error {
	var oldSummary string
	if err := g.db.QueryRowContext(ctx, `SELECT summary FROM dossiers WHERE dossier_id = $1`, dossierID).Scan(&oldSummary); err != nil {
		return fmt.Errorf("dossier: loading dossier for append: %w", err)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := g.insertFacts(ctx, tx, dossierID, packet); err != nil {
		return err
	}

	if err := g.writeProvenance(ctx, tx, dossierID, models.ProvFactAdded, packet.SourceBlockID, fmt.Sprintf("%d facts appended", len(packet.Facts))); err != nil {
		return err
	}

	newSummary, err := g.generateSummary(ctx, oldSummary, packet.Facts)
	if err != nil {
		g.log.Warn().Err(err).Str("dossier_id", dossierID).Msg("summary rewrite failed, keeping old summary")
		newSummary = oldSummary
	} else {
		if err := g.writeProvenance(ctx, tx, dossierID, models.ProvSummaryUpdated, packet.SourceBlockID, "summary rewritten"); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE dossiers SET summary = $1, last_updated = now() WHERE dossier_id = $2`, newSummary, dossierID); err != nil {
		return fmt.Errorf("dossier: updating summary: %w", err)
	}

	return tx.Commit()
}

func (g *Governor) insertFacts(ctx context.Context, tx *sql.Tx, dossierID string, packet models.FactPacket) error {
	for _, text := range packet.Facts {
		factID := uuid.NewString()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dossier_facts (fact_id, dossier_id, text, type, source_block_id, source_turn_id, confidence, added_at)
			VALUES ($1, $2, $3, 'narrative', $4, '', 1.0, $5)
		`, factID, dossierID, text, packet.SourceBlockID, packet.Timestamp)
		if err != nil {
			return fmt.Errorf("dossier: inserting fact: %w", err)
		}

		vec, err := g.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("dossier: embedding fact: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dossier_fact_embeddings (fact_id, dossier_id, embedding) VALUES ($1, $2, $3)
		`, factID, dossierID, pgvector.NewVector(vec))
		if err != nil {
			return fmt.Errorf("dossier: inserting fact embedding: %w", err)
		}
	}
	return nil
}

func (g *Governor) writeProvenance(ctx context.Context, tx *sql.Tx, dossierID string, op models.ProvenanceOp, sourceBlockID, details string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dossier_provenance (provenance_id, dossier_id, operation, source_block_id, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, now())
	`, uuid.NewString(), dossierID, string(op), sourceBlockID, details)
	if err != nil {
		return fmt.Errorf("dossier: writing provenance: %w", err)
	}
	return nil
}

func (g *Governor) generateSummary(ctx context.Context, oldSummary string, newFacts []string) (string, error) {
	var result struct {
		Summary string `json:"summary"`
	}
	prompt := fmt.Sprintf("Old summary: %s\n\nNew facts:\n", oldSummary)
	for _, f := range newFacts {
		prompt += "- " + f + "\n"
	}
	system := `Rewrite the dossier summary incorporating the new facts. Do not duplicate content already present in the old summary. Respond with strict JSON: {"summary": "..."}.`
	if err := g.llm.Complete(ctx, system, prompt, &result); err != nil {
		return "", err
	}
	return result.Summary, nil
}
