// Package governor implements the Governor: the router that classifies each
// query into one of four routing scenarios, chooses or creates the active
// bridge block, and performs LLM-based relevance filtering of the Crawler's
// candidates. This is the most load-bearing component in the pipeline
package governor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/geraldfingburke/hmlr/server/internal/idgen"
	"github.com/geraldfingburke/hmlr/server/internal/llm"
	"github.com/geraldfingburke/hmlr/server/internal/models"
)

// ErrNoActiveBlock is returned, wrapped by Route, when a continuation
// decision names no target block and no ACTIVE block exists. The parsing
// fallback never produces it: with no ACTIVE block it chooses Scenario 3.
var ErrNoActiveBlock = errors.New("governor: no active block")

// BlockLocker reports whether a block is currently held by the Gardener's
// exclusive per-block_id lock. A locked block must be treated as CLOSED for
// routing purposes.
type BlockLocker interface {
	IsLocked(blockID string) bool
}

// Notifier is the narrow alerting surface the Governor uses to page
// operators when it auto-corrects an invariant violation. Nil-safe: a
// Governor built with no notifier just skips the alert.
type Notifier interface {
	AlertInvariantViolation(blockID, detail string)
}

// Governor routes queries to bridge blocks and filters retrieval candidates.
type Governor struct {
	db       *sql.DB
	llm      llm.Client
	locker   BlockLocker
	notifier Notifier
	log      zerolog.Logger
}

// New builds a Governor. notifier may be nil.
func New(db *sql.DB, client llm.Client, locker BlockLocker, notifier Notifier, log zerolog.Logger) *Governor {
	return &Governor{db: db, llm: client, locker: locker, notifier: notifier, log: log.With().Str("component", "governor").Logger()}
}

type routingDecision struct {
	Scenario       int      `json:"scenario"`
	TargetBlockID  string   `json:"target_block_id"`
	NewTopicLabel  string   `json:"new_topic_label"`
	Keywords       []string `json:"keywords"`
}

const routingSystemPrompt = `You are the router for a conversational memory system. You are given a compact ledger of bridge blocks (block_id, status, topic_label, keywords, rolling_summary) and a new user query. Decide which of four scenarios applies:
1 = continuation: the query belongs to the sole ACTIVE block's topic.
2 = resumption: the query references a PAUSED block's topic.
3 = new topic: no existing block matches.
4 = topic shift: the query is a new topic while a block is ACTIVE.
Favor semantic continuity over recency: a vague follow-up like "Why?" routes to the semantically nearest block even if it is not the most recent. Gradual drift within a domain stays in the same block; abrupt cross-domain jumps create a new block.
Respond with strict JSON: {"scenario": 1-4, "target_block_id": "<existing id for scenarios 1/2, empty otherwise>", "new_topic_label": "<label for scenarios 3/4, empty otherwise>", "keywords": ["..."]}.`

// Route decides the target block for a query, applying the scenario's state
// transition, and returns the resolved block ID, the scenario, and the
// Crawler candidates pruned down to those truly relevant.
func (g *Governor) Route(ctx context.Context, query string, candidates []models.RetrievedMemory) (string, models.RoutingScenario, []models.RetrievedMemory, error) {
	ledger, err := g.snapshot(ctx)
	if err != nil {
		return "", 0, nil, fmt.Errorf("governor: loading ledger snapshot: %w", err)
	}

	active := g.enforceActiveSingleton(ctx, ledger)

	decision, err := g.decide(ctx, query, ledger)
	if err != nil {
		g.log.Warn().Err(err).Msg("routing decision failed, falling back")
		decision = g.fallback(active)
	}

	blockID, scenario, err := g.applyTransition(ctx, decision, active, ledger)
	if err != nil {
		return "", 0, nil, fmt.Errorf("governor: applying transition: %w", err)
	}

	filtered, err := g.filterCandidates(ctx, query, candidates, ledger)
	if err != nil {
		g.log.Warn().Err(err).Msg("candidate filtering failed, using unfiltered candidates")
		filtered = candidates
	}

	if err := g.updateAccumulatedFields(ctx, blockID, decision.Keywords); err != nil {
		return "", 0, nil, fmt.Errorf("governor: updating block fields: %w", err)
	}

	return blockID, scenario, filtered, nil
}

func (g *Governor) snapshot(ctx context.Context) ([]models.Block, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT block_id, status, topic_label, keywords, rolling_summary, open_loops, decisions, created_at, updated_at
		FROM daily_ledger
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []models.Block
	for rows.Next() {
		var b models.Block
		if err := rows.Scan(&b.ID, &b.Status, &b.TopicLabel, &b.Keywords, &b.RollingSummary, &b.OpenLoops, &b.Decisions, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// enforceActiveSingleton detects the invariant violation of more than one
// ACTIVE block, force-pausing every ACTIVE block except the newest (by
// created_at) and logging a warning. It returns the surviving ACTIVE block,
// if any.
func (g *Governor) enforceActiveSingleton(ctx context.Context, ledger []models.Block) *models.Block {
	var actives []models.Block
	for _, b := range ledger {
		if b.Status == models.BlockActive {
			actives = append(actives, b)
		}
	}
	if len(actives) <= 1 {
		if len(actives) == 1 {
			return &actives[0]
		}
		return nil
	}

	g.log.Warn().Int("active_count", len(actives)).Msg("invariant violation: multiple ACTIVE blocks, force-pausing older")

	newest := actives[len(actives)-1]
	for _, b := range actives[:len(actives)-1] {
		if _, err := g.db.ExecContext(ctx, `UPDATE daily_ledger SET status = $1, updated_at = now() WHERE block_id = $2`, models.BlockPaused, b.ID); err != nil {
			g.log.Error().Err(err).Str("block_id", b.ID).Msg("failed to force-pause duplicate active block")
		}
	}
	if g.notifier != nil {
		g.notifier.AlertInvariantViolation(newest.ID, fmt.Sprintf("%d ACTIVE blocks found, force-paused all but the newest", len(actives)))
	}
	return &newest
}

func (g *Governor) decide(ctx context.Context, query string, ledger []models.Block) (routingDecision, error) {
	var decision routingDecision
	prompt := formatLedger(ledger) + "\n\nUser query: " + query
	if err := g.llm.Complete(ctx, routingSystemPrompt, prompt, &decision); err != nil {
		return routingDecision{}, err
	}
	if decision.Scenario < 1 || decision.Scenario > 4 {
		return routingDecision{}, fmt.Errorf("governor: invalid scenario %d", decision.Scenario)
	}
	return decision, nil
}

// fallback handles LLM parsing failures by falling back to
// Scenario 1 (continuation) if an ACTIVE block exists, else Scenario 3.
func (g *Governor) fallback(active *models.Block) routingDecision {
	if active != nil {
		return routingDecision{Scenario: 1, TargetBlockID: active.ID}
	}
	return routingDecision{Scenario: 3, NewTopicLabel: "untitled topic"}
}

func (g *Governor) applyTransition(ctx context.Context, decision routingDecision, active *models.Block, ledger []models.Block) (string, models.RoutingScenario, error) {
	scenario := models.RoutingScenario(decision.Scenario)

	// A resumption target currently held by the Gardener's lock must be
	// treated as CLOSED: route to a fresh block instead.
	if scenario == models.ScenarioResumption && g.locker != nil && g.locker.IsLocked(decision.TargetBlockID) {
		scenario = models.ScenarioNewTopic
		decision.NewTopicLabel = findTopicLabel(ledger, decision.TargetBlockID)
		decision.TargetBlockID = ""
	}

	switch scenario {
	case models.ScenarioContinuation:
		if decision.TargetBlockID == "" && active != nil {
			decision.TargetBlockID = active.ID
		}
		if decision.TargetBlockID == "" {
			return "", 0, ErrNoActiveBlock
		}
		return decision.TargetBlockID, scenario, nil

	case models.ScenarioResumption:
		if active != nil && active.ID != decision.TargetBlockID {
			if _, err := g.db.ExecContext(ctx, `UPDATE daily_ledger SET status = $1, updated_at = now() WHERE block_id = $2`, models.BlockPaused, active.ID); err != nil {
				return "", 0, err
			}
		}
		if _, err := g.db.ExecContext(ctx, `UPDATE daily_ledger SET status = $1, updated_at = now() WHERE block_id = $2`, models.BlockActive, decision.TargetBlockID); err != nil {
			return "", 0, err
		}
		return decision.TargetBlockID, scenario, nil

	case models.ScenarioTopicShift:
		if active != nil {
			if _, err := g.db.ExecContext(ctx, `UPDATE daily_ledger SET status = $1, updated_at = now() WHERE block_id = $2`, models.BlockPaused, active.ID); err != nil {
				return "", 0, err
			}
		}
		id, _, err := g.createBlock(ctx, decision.NewTopicLabel)
		if err != nil {
			return "", 0, err
		}
		return id, scenario, nil

	default: // ScenarioNewTopic
		return g.createBlock(ctx, decision.NewTopicLabel)
	}
}

func (g *Governor) createBlock(ctx context.Context, topicLabel string) (string, models.RoutingScenario, error) {
	id := idgen.Block(time.Now())
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO daily_ledger (block_id, status, topic_label, keywords, rolling_summary, open_loops, decisions, created_at, updated_at)
		VALUES ($1, $2, $3, '{}', '', '{}', '{}', now(), now())
	`, id, models.BlockActive, topicLabel)
	if err != nil {
		return "", 0, err
	}
	return id, models.ScenarioNewTopic, nil
}

// filterCandidates issues the second structured LLM call pruning the
// Crawler's raw candidates down to those truly relevant to the query, using
// the candidates' source block summaries as context. The two-stage
// approach (vector for recall, LLM for precision) is load-bearing.
func (g *Governor) filterCandidates(ctx context.Context, query string, candidates []models.RetrievedMemory, ledger []models.Block) ([]models.RetrievedMemory, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Query: " + query + "\n\nCandidates:\n")
	for i, c := range candidates {
		summary := findSummary(ledger, c.SourceBlock)
		fmt.Fprintf(&sb, "%d. block=%s summary=%q text=%q similarity=%.3f\n", i, c.SourceBlock, summary, c.Text, c.Similarity)
	}

	var result struct {
		RelevantIndices []int `json:"relevant_indices"`
	}
	system := `You prune a shortlist of retrieved memory chunks to those truly relevant to the query. Respond with strict JSON: {"relevant_indices": [0, 2, ...]} using the candidate numbers above.`
	if err := g.llm.Complete(ctx, system, sb.String(), &result); err != nil {
		return nil, err
	}

	var filtered []models.RetrievedMemory
	for _, idx := range result.RelevantIndices {
		if idx >= 0 && idx < len(candidates) {
			filtered = append(filtered, candidates[idx])
		}
	}
	return filtered, nil
}

// updateAccumulatedFields unions the query's keywords into the block's
// keyword set and regenerates the rolling summary from the block's turn
// list. The topic_label is deliberately left untouched
// here: it is set on creation and only ever replaced by an explicit,
// more-specific label, never reverted to a generic default.
func (g *Governor) updateAccumulatedFields(ctx context.Context, blockID string, newKeywords []string) error {
	var existing models.StringArray
	if err := g.db.QueryRowContext(ctx, `SELECT keywords FROM daily_ledger WHERE block_id = $1`, blockID).Scan(&existing); err != nil {
		return err
	}

	union := unionKeywords(existing, newKeywords)
	summary, err := g.regenerateSummary(ctx, blockID)
	if err != nil {
		g.log.Warn().Err(err).Str("block_id", blockID).Msg("rolling summary regeneration failed, keeping prior summary")
		_, err = g.db.ExecContext(ctx, `UPDATE daily_ledger SET keywords = $1, updated_at = now() WHERE block_id = $2`, models.StringArray(union), blockID)
		return err
	}

	_, err = g.db.ExecContext(ctx, `UPDATE daily_ledger SET keywords = $1, rolling_summary = $2, updated_at = now() WHERE block_id = $3`, models.StringArray(union), summary, blockID)
	return err
}

func (g *Governor) regenerateSummary(ctx context.Context, blockID string) (string, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT user_text, ai_text FROM turns WHERE block_id = $1 ORDER BY ordinal ASC`, blockID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var sb strings.Builder
	for rows.Next() {
		var userText, aiText string
		if err := rows.Scan(&userText, &aiText); err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", userText, aiText)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	var result struct {
		Summary string `json:"summary"`
	}
	system := `Summarize this conversation block in 2-3 sentences, capturing the topic and key decisions. Respond with strict JSON: {"summary": "..."}.`
	if err := g.llm.Complete(ctx, system, sb.String(), &result); err != nil {
		return "", err
	}
	return result.Summary, nil
}

func formatLedger(ledger []models.Block) string {
	var sb strings.Builder
	sb.WriteString("Ledger:\n")
	for _, b := range ledger {
		fmt.Fprintf(&sb, "- id=%s status=%s topic=%q keywords=%v summary=%q\n", b.ID, b.Status, b.TopicLabel, []string(b.Keywords), b.RollingSummary)
	}
	return sb.String()
}

func findSummary(ledger []models.Block, blockID string) string {
	for _, b := range ledger {
		if b.ID == blockID {
			return b.RollingSummary
		}
	}
	return ""
}

func findTopicLabel(ledger []models.Block, blockID string) string {
	for _, b := range ledger {
		if b.ID == blockID {
			return b.TopicLabel
		}
	}
	return "untitled topic"
}

func unionKeywords(existing models.StringArray, fresh []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(fresh))
	for _, k := range existing {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, k := range fresh {
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
