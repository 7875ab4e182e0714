// Package gardener implements the Gardener: the offline/on-demand pipeline
// that converts an aged bridge block into block metadata tags and dossiers,
// then deletes the consumed block. It acquires an exclusive per-block_id
// lock so a resumption can never race a gardening pass.
package gardener

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/geraldfingburke/hmlr/server/internal/factscrubber"
	"github.com/geraldfingburke/hmlr/server/internal/jsonutil"
	"github.com/geraldfingburke/hmlr/server/internal/llm"
	"github.com/geraldfingburke/hmlr/server/internal/models"
)

// ErrBlockLocked is returned when gardening is attempted on a block already
// held by another in-flight gardening pass.
var ErrBlockLocked = fmt.Errorf("gardener: block is locked")

// DossierGovernor is the subset of dossier.Governor the Gardener dispatches
// fact packets to.
type DossierGovernor interface {
	Route(ctx context.Context, packet models.FactPacket) error
}

// Gardener converts aged bridge blocks into long-term artifacts.
type Gardener struct {
	db       *sql.DB
	llm      llm.Client
	dossiers DossierGovernor
	locker   *Locker
	log      zerolog.Logger
}

// New builds a Gardener.
func New(db *sql.DB, client llm.Client, dossiers DossierGovernor, locker *Locker, log zerolog.Logger) *Gardener {
	return &Gardener{db: db, llm: client, dossiers: dossiers, locker: locker, log: log.With().Str("component", "gardener").Logger()}
}

type classification struct {
	GlobalTags   []models.GlobalTag   `json:"global_tags"`
	SectionRules []models.SectionRule `json:"section_rules"`
	NarrativeFactIDs []string         `json:"narrative_fact_ids"`
}

const classificationPrompt = `You classify facts extracted from a conversation block using three heuristics:
- environment: defines a setting, version, or language -> a global tag {"type":"env","value":"..."}.
- constraint: forbids or mandates something -> a global tag {"type":"constraint","value":"..."} (or a section_rule if scoped to a turn range).
- definition/alias: renames or redefines an entity within a turn range -> a section_rule {"start_turn":N,"end_turn":M,"rule":"..."}.
Facts matching none of these are narrative and should be listed by fact_id in narrative_fact_ids.
Respond with strict JSON: {"global_tags": [...], "section_rules": [...], "narrative_fact_ids": ["..."]}.`

type clustering struct {
	Clusters []struct {
		Label   string   `json:"label"`
		FactIDs []string `json:"fact_ids"`
	} `json:"clusters"`
}

const clusteringPrompt = `Group the given narrative facts into semantic clusters, each with a short label. Respond with strict JSON: {"clusters": [{"label": "...", "fact_ids": ["..."]}]}.`

// Garden runs the full gardening pipeline for blockID. Failure on any step
// aborts gardening for this block and leaves it intact for retry; deletion
// of the bridge block (step 6) is the atomic commit boundary.
func (g *Gardener) Garden(ctx context.Context, blockID string) error {
	release, ok := g.locker.TryAcquire(blockID)
	if !ok {
		return ErrBlockLocked
	}
	defer release()

	facts, err := factscrubber.ForBlock(ctx, g.db, blockID)
	if err != nil {
		return fmt.Errorf("gardener: loading facts: %w", err)
	}

	class, err := g.classify(ctx, facts)
	if err != nil {
		return fmt.Errorf("gardener: classification pass: %w", err)
	}

	if err := g.writeBlockMetadata(ctx, blockID, class.GlobalTags, class.SectionRules); err != nil {
		return fmt.Errorf("gardener: writing block metadata: %w", err)
	}

	narrative := selectFacts(facts, class.NarrativeFactIDs)
	if len(narrative) > 0 {
		clusters, err := g.cluster(ctx, narrative)
		if err != nil {
			return fmt.Errorf("gardener: dossier clustering pass: %w", err)
		}

		for _, packet := range clusters {
			if err := g.dossiers.Route(ctx, packet); err != nil {
				return fmt.Errorf("gardener: routing dossier packet %q: %w", packet.ClusterLabel, err)
			}
		}
	}

	if err := g.promoteChunks(ctx, blockID); err != nil {
		return fmt.Errorf("gardener: promoting chunks: %w", err)
	}

	if err := g.deleteBlock(ctx, blockID); err != nil {
		return fmt.Errorf("gardener: deleting block: %w", err)
	}

	return nil
}

func (g *Gardener) classify(ctx context.Context, facts []models.Fact) (classification, error) {
	var result classification
	prompt := "Facts:\n"
	for _, f := range facts {
		prompt += fmt.Sprintf("- id=%s key=%s value=%s\n", f.ID, f.Key, f.Value)
	}
	if err := g.llm.Complete(ctx, classificationPrompt, prompt, &result); err != nil {
		return classification{}, err
	}
	return result, nil
}

func (g *Gardener) writeBlockMetadata(ctx context.Context, blockID string, tags []models.GlobalTag, rules []models.SectionRule) error {
	tagsJSON, err := jsonutil.Marshal(tags)
	if err != nil {
		return err
	}
	rulesJSON, err := jsonutil.Marshal(rules)
	if err != nil {
		return err
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO block_metadata (block_id, global_tags, section_rules, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (block_id) DO UPDATE SET global_tags = $2, section_rules = $3
	`, blockID, tagsJSON, rulesJSON)
	return err
}

func (g *Gardener) cluster(ctx context.Context, facts []models.Fact) ([]models.FactPacket, error) {
	var result clustering
	prompt := "Narrative facts:\n"
	for _, f := range facts {
		prompt += fmt.Sprintf("- id=%s value=%s\n", f.ID, f.Value)
	}
	if err := g.llm.Complete(ctx, clusteringPrompt, prompt, &result); err != nil {
		return nil, err
	}

	byID := make(map[string]models.Fact, len(facts))
	for _, f := range facts {
		byID[f.ID] = f
	}

	now := time.Now().UTC()
	var packets []models.FactPacket
	for _, c := range result.Clusters {
		packet := models.FactPacket{ClusterLabel: c.Label, Timestamp: now}
		for _, id := range c.FactIDs {
			if f, ok := byID[id]; ok {
				packet.Facts = append(packet.Facts, f.Value)
				if packet.SourceBlockID == "" && f.SourceBlockID != nil {
					packet.SourceBlockID = *f.SourceBlockID
				}
			}
		}
		if len(packet.Facts) > 0 {
			packets = append(packets, packet)
		}
	}
	return packets, nil
}

// promoteChunks copies the block's ephemeral chunks into gardened_memory +
// embeddings. Every promoted chunk inherits the block's global tags by
// reference (block_metadata is joined at read time, never duplicated).
func (g *Gardener) promoteChunks(ctx context.Context, blockID string) error {
	rows, err := g.db.QueryContext(ctx, `
		SELECT chunk_id, parent_id, level, turn_ordinal, text, token_count, embedding
		FROM ephemeral_chunks
		WHERE block_id = $1
	`, blockID)
	if err != nil {
		return err
	}
	defer rows.Close()

	type row struct {
		chunkID, parentID, level, text string
		turnOrdinal, tokenCount        int
		embedding                      pgvector.Vector
	}
	var promoted []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.chunkID, &r.parentID, &r.level, &r.turnOrdinal, &r.text, &r.tokenCount, &r.embedding); err != nil {
			return err
		}
		promoted = append(promoted, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range promoted {
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO gardened_memory (chunk_id, block_id, parent_id, level, turn_ordinal, text, token_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (chunk_id) DO NOTHING
		`, r.chunkID, blockID, r.parentID, r.level, r.turnOrdinal, r.text, r.tokenCount)
		if err != nil {
			return fmt.Errorf("inserting gardened chunk %s: %w", r.chunkID, err)
		}
		_, err = g.db.ExecContext(ctx, `
			INSERT INTO embeddings (chunk_id, embedding) VALUES ($1, $2)
			ON CONFLICT (chunk_id) DO NOTHING
		`, r.chunkID, r.embedding)
		if err != nil {
			return fmt.Errorf("inserting embedding for %s: %w", r.chunkID, err)
		}
	}
	return nil
}

// deleteBlock removes the bridge block from daily_ledger, the atomic commit
// boundary for gardening. Turns and ephemeral_chunks cascade by foreign key.
// Facts stay in fact_store, but their source_block_id is set to NULL by the
// foreign key's ON DELETE SET NULL; block_metadata and dossiers are keyed
// independently of daily_ledger and are untouched.
func (g *Gardener) deleteBlock(ctx context.Context, blockID string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM daily_ledger WHERE block_id = $1`, blockID)
	return err
}

func selectFacts(facts []models.Fact, ids []string) []models.Fact {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Fact
	for _, f := range facts {
		if want[f.ID] {
			out = append(out, f)
		}
	}
	return out
}
