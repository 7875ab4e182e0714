// Package scribe implements the Scribe: a fire-and-forget background task
// that extracts profile constraints/preferences/identities from each
// incoming user message and merges them into the singleton user profile
// document (last-writer-wins). Failures are logged and never block the
// conversation: the Scribe is never awaited.
package scribe

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/geraldfingburke/hmlr/server/internal/llm"
	"github.com/geraldfingburke/hmlr/server/internal/models"
	"github.com/geraldfingburke/hmlr/server/internal/profile"
)

const systemPrompt = `You extract profile-level statements from a single user message and classify them. Categories: constraint (carries key, type, description, severity), preference (free text), identity (free text). Respond with strict JSON: {"constraints": [{"key":"...","type":"...","description":"...","severity":"..."}], "preferences": ["..."], "identities": ["..."]}. Omit any category with nothing to report by returning an empty array.`

type extraction struct {
	Constraints []models.Constraint `json:"constraints"`
	Preferences []string            `json:"preferences"`
	Identities  []string            `json:"identities"`
}

// Scribe updates the user profile document from conversational text.
type Scribe struct {
	store *profile.Store
	llm   llm.Client
	log   zerolog.Logger
}

// New builds a Scribe.
func New(store *profile.Store, client llm.Client, log zerolog.Logger) *Scribe {
	return &Scribe{store: store, llm: client, log: log.With().Str("component", "scribe").Logger()}
}

// Observe runs the extraction and profile update. Call it in a detached
// goroutine (`go scribe.Observe(...)`) from the Conversation Engine; it is
// never part of the per-query errgroup.
func (s *Scribe) Observe(ctx context.Context, userText string) {
	var result extraction
	if err := s.llm.Complete(ctx, systemPrompt, userText, &result); err != nil {
		s.log.Warn().Err(err).Msg("profile extraction failed, dropping")
		return
	}

	if len(result.Constraints) == 0 && len(result.Preferences) == 0 && len(result.Identities) == 0 {
		return
	}

	err := s.store.Update(func(doc *models.UserProfile) {
		for _, c := range result.Constraints {
			profile.AddConstraint(doc, c)
		}
		for _, p := range result.Preferences {
			profile.AddPreference(doc, p)
		}
		for _, id := range result.Identities {
			profile.AddIdentity(doc, id)
		}
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("profile update failed, dropping")
	}
}
