// Package conversation implements the Conversation Engine: the entry point
// that orchestrates the per-query pipeline and holds its concurrency
// contract. The Scribe runs fire-and-forget; the FactScrubber and Crawler
// fan out via errgroup; the Governor routes once the Crawler resolves;
// linking facts to their block is synchronous before Hydration; then the
// generator call and turn append.
package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geraldfingburke/hmlr/server/internal/chunker"
	"github.com/geraldfingburke/hmlr/server/internal/crawler"
	"github.com/geraldfingburke/hmlr/server/internal/dossier"
	"github.com/geraldfingburke/hmlr/server/internal/factscrubber"
	"github.com/geraldfingburke/hmlr/server/internal/gardener"
	"github.com/geraldfingburke/hmlr/server/internal/governor"
	"github.com/geraldfingburke/hmlr/server/internal/hydrator"
	"github.com/geraldfingburke/hmlr/server/internal/idgen"
	"github.com/geraldfingburke/hmlr/server/internal/llm"
	"github.com/geraldfingburke/hmlr/server/internal/models"
	"github.com/geraldfingburke/hmlr/server/internal/profile"
	"github.com/geraldfingburke/hmlr/server/internal/scribe"

	"github.com/rs/zerolog"
)

// Generator is the downstream generator collaborator: it receives the
// Hydrator's assembled prompt and returns the final reply text. The
// generative LLM used to compose final replies is an external
// collaborator; this repo only depends on the interface.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// llmGenerator is the default Generator, answering with the same structured
// LLM client everything else in this repo uses, so the module is runnable
// end-to-end without wiring a separate chat model.
type llmGenerator struct {
	client llm.Client
}

func (g *llmGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.client.CompleteText(ctx, "You are a helpful assistant. Use the supplied context faithfully and respect every listed constraint.", prompt)
}

// NewLLMGenerator wraps client as a Generator.
func NewLLMGenerator(client llm.Client) Generator {
	return &llmGenerator{client: client}
}

// Engine is the Conversation Engine's public surface.
type Engine struct {
	db        *sql.DB
	chunker   *chunker.Engine
	scrubber  *factscrubber.Scrubber
	scribe    *scribe.Scribe
	crawler   *crawler.Crawler
	governor  *governor.Governor
	hydrator  *hydrator.Hydrator
	dossiers  *dossier.Retriever
	profile   *profile.Store
	generator Generator
	gardener  *gardener.Gardener

	retrievalTopK int
	dossierTopK   int

	log zerolog.Logger
}

// Deps bundles the Engine's component dependencies.
type Deps struct {
	DB            *sql.DB
	Chunker       *chunker.Engine
	Scrubber      *factscrubber.Scrubber
	Scribe        *scribe.Scribe
	Crawler       *crawler.Crawler
	Governor      *governor.Governor
	Hydrator      *hydrator.Hydrator
	DossierSearch *dossier.Retriever
	Profile       *profile.Store
	Generator     Generator
	Gardener      *gardener.Gardener
	RetrievalTopK int
	DossierTopK   int
	Log           zerolog.Logger
}

// New builds a Conversation Engine.
func New(d Deps) *Engine {
	return &Engine{
		db:            d.DB,
		chunker:       d.Chunker,
		scrubber:      d.Scrubber,
		scribe:        d.Scribe,
		crawler:       d.Crawler,
		governor:      d.Governor,
		hydrator:      d.Hydrator,
		dossiers:      d.DossierSearch,
		profile:       d.Profile,
		generator:     d.Generator,
		gardener:      d.Gardener,
		retrievalTopK: d.RetrievalTopK,
		dossierTopK:   d.DossierTopK,
		log:           d.Log.With().Str("component", "conversation_engine").Logger(),
	}
}

// ProcessUserMessage is the Engine's single public async entry: it runs the
// full per-query pipeline and returns the generated reply text. The turn is
// committed only on success; a failure never silently drops the user's turn
// because nothing is appended until every prior step succeeds.
func (e *Engine) ProcessUserMessage(ctx context.Context, text string) (string, error) {
	now := time.Now().UTC()
	turnID := idgen.Turn(now)

	// Scribe: fire-and-forget, never awaited.
	go e.scribe.Observe(context.Background(), text)

	earlyChunks, err := e.chunker.Split(ctx, turnID, "", text, "")
	if err != nil {
		return "", fmt.Errorf("conversation: chunking failed: %w", err)
	}

	var (
		facts      []models.Fact
		memories   []models.RetrievedMemory
		dossierHit []models.RetrievedDossierFact
	)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		facts, err = e.scrubber.Extract(gctx, earlyChunks)
		return err
	})
	group.Go(func() error {
		var err error
		memories, err = e.crawler.SearchMemory(gctx, text, e.retrievalTopK)
		return err
	})
	group.Go(func() error {
		var err error
		dossierHit, err = e.dossiers.Search(gctx, text, e.dossierTopK)
		return err
	})
	if err := group.Wait(); err != nil {
		return "", fmt.Errorf("conversation: fan-out stage failed: %w", err)
	}

	blockID, _, filteredMemories, err := e.governor.Route(ctx, text, memories)
	if err != nil {
		return "", fmt.Errorf("conversation: routing failed: %w", err)
	}

	if err := e.scrubber.LinkToBlock(ctx, turnID, blockID); err != nil {
		return "", fmt.Errorf("conversation: linking facts to block: %w", err)
	}

	blockFacts, err := factscrubber.ForBlock(ctx, e.db, blockID)
	if err != nil {
		return "", fmt.Errorf("conversation: loading block facts: %w", err)
	}

	profileDoc, err := e.profile.Load()
	if err != nil {
		return "", fmt.Errorf("conversation: loading profile: %w", err)
	}

	prompt, err := e.hydrator.Assemble(ctx, text, blockID, profileDoc, blockFacts, dossierHit, filteredMemories)
	if err != nil {
		return "", fmt.Errorf("conversation: hydration failed: %w", err)
	}

	reply, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("conversation: generation failed: %w", err)
	}

	ordinal, err := e.appendTurn(ctx, turnID, blockID, text, reply, now)
	if err != nil {
		return "", fmt.Errorf("conversation: appending turn: %w", err)
	}

	finalChunks, err := e.chunker.Split(ctx, turnID, blockID, text, reply)
	if err != nil {
		e.log.Warn().Err(err).Str("turn_id", turnID).Msg("final chunking failed, ephemeral chunks not persisted")
		return reply, nil
	}
	if err := chunker.Persist(ctx, e.db, finalChunks, ordinal); err != nil {
		e.log.Warn().Err(err).Str("turn_id", turnID).Msg("persisting ephemeral chunks failed")
	}

	return reply, nil
}

func (e *Engine) appendTurn(ctx context.Context, turnID, blockID, userText, aiText string, createdAt time.Time) (int, error) {
	var ordinal int
	err := e.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(ordinal) + 1, 0) FROM turns WHERE block_id = $1`, blockID).Scan(&ordinal)
	if err != nil {
		return 0, err
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO turns (turn_id, block_id, ordinal, user_text, ai_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, turnID, blockID, ordinal, userText, aiText, createdAt)
	if err != nil {
		return 0, err
	}
	return ordinal, nil
}

// ResetSession clears no persistent state by itself (HMLR's storage is
// cross-session by design), but pauses any ACTIVE block so the next query
// is forced to evaluate a fresh routing decision rather than assume
// continuation.
func (e *Engine) ResetSession(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, `UPDATE daily_ledger SET status = $1, updated_at = now() WHERE status = $2`, models.BlockPaused, models.BlockActive)
	if err != nil {
		return fmt.Errorf("conversation: resetting session: %w", err)
	}
	return nil
}

// Garden triggers the Gardener for blockID, the external maintenance entry
// point.
func (e *Engine) Garden(ctx context.Context, blockID string) error {
	return e.gardener.Garden(ctx, blockID)
}
