package dossier

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/geraldfingburke/hmlr/server/internal/models"
)

// Retriever is the read-side companion to the Crawler: it searches
// dossier_fact_embeddings, dedupes by dossier_id, and loads full dossier
// rows for the Hydrator's "=== FACT DOSSIERS ===" section.
type Retriever struct {
	db      *sql.DB
	crawler DossierCrawler
}

// DossierCrawler is the subset of crawler.Crawler the Retriever needs.
type DossierCrawler interface {
	SearchDossierFacts(ctx context.Context, query string, k int) ([]models.RetrievedDossierFact, error)
}

// NewRetriever builds a Retriever.
func NewRetriever(db *sql.DB, crawler DossierCrawler) *Retriever {
	return &Retriever{db: db, crawler: crawler}
}

// Search returns the dossier facts relevant to query, ready to hand to the
// Hydrator.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]models.RetrievedDossierFact, error) {
	facts, err := r.crawler.SearchDossierFacts(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("dossier retriever: searching fact embeddings: %w", err)
	}
	return facts, nil
}
