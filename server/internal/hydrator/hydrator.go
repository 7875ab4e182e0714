// Package hydrator implements the Hydrator (Context Assembler): it merges
// the user profile, block-scoped facts, retrieved dossiers, retrieved
// long-term memories grouped by source block, and the active block's turn
// history into one fixed-order prompt for the downstream generator.
package hydrator

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/geraldfingburke/hmlr/server/internal/jsonutil"
	"github.com/geraldfingburke/hmlr/server/internal/models"
)

// Hydrator assembles the final prompt sent to the downstream generator.
type Hydrator struct {
	db *sql.DB
}

// New builds a Hydrator.
func New(db *sql.DB) *Hydrator {
	return &Hydrator{db: db}
}

// Assemble builds the prompt in the mandatory order: profile -> facts ->
// dossiers -> memories (grouped by block) -> turn history -> query.
func (h *Hydrator) Assemble(
	ctx context.Context,
	query string,
	blockID string,
	profile models.UserProfile,
	facts []models.Fact,
	dossierFacts []models.RetrievedDossierFact,
	memories []models.RetrievedMemory,
) (string, error) {
	var sb strings.Builder

	writeProfileSection(&sb, profile)
	writeFactsSection(&sb, facts)
	if err := h.writeDossierSection(ctx, &sb, dossierFacts); err != nil {
		return "", fmt.Errorf("hydrator: assembling dossier section: %w", err)
	}
	if err := h.writeMemorySection(ctx, &sb, memories); err != nil {
		return "", fmt.Errorf("hydrator: assembling memory section: %w", err)
	}
	if err := h.writeTurnHistory(ctx, &sb, blockID); err != nil {
		return "", fmt.Errorf("hydrator: assembling turn history: %w", err)
	}

	sb.WriteString("=== CURRENT QUERY ===\n")
	sb.WriteString(query)
	sb.WriteString("\n")

	return sb.String(), nil
}

func writeProfileSection(sb *strings.Builder, profile models.UserProfile) {
	sb.WriteString("=== USER PROFILE ===\n")
	for _, c := range profile.Glossary.Constraints {
		fmt.Fprintf(sb, "- [%s] %s: %s (severity: %s)\n", c.Type, c.Key, c.Description, c.Severity)
	}
	for _, p := range profile.Glossary.Preferences {
		fmt.Fprintf(sb, "- preference: %s\n", p)
	}
	for _, id := range profile.Glossary.Identities {
		fmt.Fprintf(sb, "- identity: %s\n", id)
	}
	sb.WriteString("\n")
}

func writeFactsSection(sb *strings.Builder, facts []models.Fact) {
	sb.WriteString("=== KNOWN FACTS ===\n")
	sorted := make([]models.Fact, len(facts))
	copy(sorted, facts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	for _, f := range sorted {
		fmt.Fprintf(sb, "- %s: %s\n", f.Key, f.Value)
	}
	sb.WriteString("\n")
}

func (h *Hydrator) writeDossierSection(ctx context.Context, sb *strings.Builder, facts []models.RetrievedDossierFact) error {
	sb.WriteString("=== FACT DOSSIERS ===\n")
	if len(facts) == 0 {
		sb.WriteString("\n")
		return nil
	}

	seen := make(map[string]bool)
	var ids []string
	for _, f := range facts {
		if !seen[f.DossierID] {
			seen[f.DossierID] = true
			ids = append(ids, f.DossierID)
		}
	}

	for _, id := range ids {
		var d models.Dossier
		err := h.db.QueryRowContext(ctx, `SELECT dossier_id, title, summary FROM dossiers WHERE dossier_id = $1`, id).
			Scan(&d.ID, &d.Title, &d.Summary)
		if err != nil {
			return err
		}
		fmt.Fprintf(sb, "### Dossier: %s\n%s\n", d.Title, d.Summary)
		for _, f := range facts {
			if f.DossierID == id {
				fmt.Fprintf(sb, "- %s\n", f.Text)
			}
		}
	}
	sb.WriteString("\n")
	return nil
}

// writeMemorySection implements the group-by-block rule: chunks sharing a
// source_block_id emit a single "### Context Block" header plus an "Active
// Rules" tag list exactly once, followed by the chunks, each prefixed with
// any section rule whose [start_turn, end_turn] range covers its ordinal.
func (h *Hydrator) writeMemorySection(ctx context.Context, sb *strings.Builder, memories []models.RetrievedMemory) error {
	sb.WriteString("=== RETRIEVED MEMORIES ===\n")
	if len(memories) == 0 {
		sb.WriteString("\n")
		return nil
	}

	grouped := make(map[string][]models.RetrievedMemory)
	var order []string
	for _, m := range memories {
		if _, ok := grouped[m.SourceBlock]; !ok {
			order = append(order, m.SourceBlock)
		}
		grouped[m.SourceBlock] = append(grouped[m.SourceBlock], m)
	}

	for _, blockID := range order {
		chunks := grouped[blockID]
		rules, err := h.loadSectionRules(ctx, blockID)
		if err != nil {
			return err
		}

		fmt.Fprintf(sb, "### Context Block: %s\n", blockID)
		fmt.Fprintf(sb, "Active Rules: %s\n", formatTags(chunks[0].Tags))

		for _, c := range chunks {
			prefix := matchingRulePrefix(rules, c.TurnOrdinal)
			fmt.Fprintf(sb, "%s%s\n", prefix, c.Text)
		}
	}
	sb.WriteString("\n")
	return nil
}

func (h *Hydrator) loadSectionRules(ctx context.Context, blockID string) ([]models.SectionRule, error) {
	var raw []byte
	err := h.db.QueryRowContext(ctx, `SELECT section_rules FROM block_metadata WHERE block_id = $1`, blockID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rules []models.SectionRule
	if err := jsonutil.Unmarshal(raw, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func matchingRulePrefix(rules []models.SectionRule, ordinal int) string {
	for _, r := range rules {
		if ordinal >= r.StartTurn && ordinal <= r.EndTurn {
			return fmt.Sprintf("[%s] ", r.Rule)
		}
	}
	return ""
}

func formatTags(tags []models.GlobalTag) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, fmt.Sprintf("%s:%s", t.Type, t.Value))
	}
	return strings.Join(parts, ", ")
}

func (h *Hydrator) writeTurnHistory(ctx context.Context, sb *strings.Builder, blockID string) error {
	sb.WriteString("=== CURRENT BLOCK HISTORY ===\n")
	if blockID == "" {
		sb.WriteString("\n")
		return nil
	}

	rows, err := h.db.QueryContext(ctx, `SELECT user_text, ai_text FROM turns WHERE block_id = $1 ORDER BY ordinal ASC`, blockID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var userText, aiText string
		if err := rows.Scan(&userText, &aiText); err != nil {
			return err
		}
		fmt.Fprintf(sb, "User: %s\nAssistant: %s\n", userText, aiText)
	}
	sb.WriteString("\n")
	return rows.Err()
}
