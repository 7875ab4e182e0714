// Package graphql provides a read-side inspector API for HMLR: bridge
// blocks, facts, dossiers, and the user profile, plus a garden mutation,
// built on graphql-go's object/query/mutation wiring.
package graphql

import (
	"database/sql"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"

	"github.com/geraldfingburke/hmlr/server/internal/gardener"
	"github.com/geraldfingburke/hmlr/server/internal/models"
	"github.com/geraldfingburke/hmlr/server/internal/profile"
)

// Handler builds the GraphQL HTTP handler for inspecting HMLR's memory
// state: bridge blocks, facts, dossiers, the user profile, and the
// gardener scheduler's status, plus a garden(blockId) mutation for
// triggering gardening on demand.
func Handler(db *sql.DB, profileStore *profile.Store, sched *gardener.Scheduler, gardenerSvc *gardener.Gardener) (*handler.Handler, error) {
	blockType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Block",
		Fields: graphql.Fields{
			"blockId":        &graphql.Field{Type: graphql.ID},
			"status":         &graphql.Field{Type: graphql.String},
			"topicLabel":     &graphql.Field{Type: graphql.String},
			"keywords":       &graphql.Field{Type: graphql.NewList(graphql.String)},
			"rollingSummary": &graphql.Field{Type: graphql.String},
			"openLoops":      &graphql.Field{Type: graphql.NewList(graphql.String)},
			"decisions":      &graphql.Field{Type: graphql.NewList(graphql.String)},
			"createdAt":      &graphql.Field{Type: graphql.DateTime},
			"updatedAt":      &graphql.Field{Type: graphql.DateTime},
		},
	})

	factType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Fact",
		Fields: graphql.Fields{
			"factId":        &graphql.Field{Type: graphql.ID},
			"key":           &graphql.Field{Type: graphql.String},
			"value":         &graphql.Field{Type: graphql.String},
			"createdAt":     &graphql.Field{Type: graphql.DateTime},
			"sourceBlockId": &graphql.Field{Type: graphql.String},
			"sourceChunkId": &graphql.Field{Type: graphql.String},
		},
	})

	dossierType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Dossier",
		Fields: graphql.Fields{
			"dossierId":   &graphql.Field{Type: graphql.ID},
			"title":       &graphql.Field{Type: graphql.String},
			"summary":     &graphql.Field{Type: graphql.String},
			"status":      &graphql.Field{Type: graphql.String},
			"permissions": &graphql.Field{Type: graphql.NewList(graphql.String)},
			"createdAt":   &graphql.Field{Type: graphql.DateTime},
			"lastUpdated": &graphql.Field{Type: graphql.DateTime},
		},
	})

	dossierFactType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DossierFact",
		Fields: graphql.Fields{
			"factId":        &graphql.Field{Type: graphql.ID},
			"dossierId":     &graphql.Field{Type: graphql.String},
			"text":          &graphql.Field{Type: graphql.String},
			"type":          &graphql.Field{Type: graphql.String},
			"addedAt":       &graphql.Field{Type: graphql.DateTime},
			"sourceBlockId": &graphql.Field{Type: graphql.String},
			"sourceTurnId":  &graphql.Field{Type: graphql.String},
			"confidence":    &graphql.Field{Type: graphql.Float},
		},
	})

	constraintType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Constraint",
		Fields: graphql.Fields{
			"key":         &graphql.Field{Type: graphql.String},
			"type":        &graphql.Field{Type: graphql.String},
			"description": &graphql.Field{Type: graphql.String},
			"severity":    &graphql.Field{Type: graphql.String},
		},
	})

	profileType := graphql.NewObject(graphql.ObjectConfig{
		Name: "UserProfile",
		Fields: graphql.Fields{
			"constraints": &graphql.Field{Type: graphql.NewList(constraintType)},
			"preferences": &graphql.Field{Type: graphql.NewList(graphql.String)},
			"identities":  &graphql.Field{Type: graphql.NewList(graphql.String)},
		},
	})

	schedulerStatusType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SchedulerStatus",
		Fields: graphql.Fields{
			"running":     &graphql.Field{Type: graphql.Boolean},
			"activeCount": &graphql.Field{Type: graphql.Int},
		},
	})

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"blocks": &graphql.Field{
				Type: graphql.NewList(blockType),
				Args: graphql.FieldConfigArgument{
					"status": &graphql.ArgumentConfig{Type: graphql.String},
				},
				// Lists bridge blocks, newest first, optionally filtered by
				// status (ACTIVE/PAUSED/CLOSED).
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					query := `
						SELECT block_id, status, topic_label, keywords, rolling_summary, open_loops, decisions, created_at, updated_at
						FROM daily_ledger
					`
					var args []interface{}
					if status, ok := p.Args["status"]; ok {
						query += " WHERE status = $1"
						args = append(args, status)
					}
					query += " ORDER BY created_at DESC"

					rows, err := db.QueryContext(p.Context, query, args...)
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
					return blocks, nil
				},
			},
			"block": &graphql.Field{
				Type: blockType,
				Args: graphql.FieldConfigArgument{
					"blockId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["blockId"].(string)
					var b models.Block
					err := db.QueryRowContext(p.Context, `
						SELECT block_id, status, topic_label, keywords, rolling_summary, open_loops, decisions, created_at, updated_at
						FROM daily_ledger WHERE block_id = $1
					`, id).Scan(&b.ID, &b.Status, &b.TopicLabel, &b.Keywords, &b.RollingSummary, &b.OpenLoops, &b.Decisions, &b.CreatedAt, &b.UpdatedAt)
					if err != nil {
						if err == sql.ErrNoRows {
							return nil, nil
						}
						return nil, err
					}
					return &b, nil
				},
			},
			"facts": &graphql.Field{
				Type: graphql.NewList(factType),
				Args: graphql.FieldConfigArgument{
					"blockId": &graphql.ArgumentConfig{Type: graphql.String},
					"limit":   &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					query := `SELECT fact_id, key, value, created_at, source_block_id, source_chunk_id FROM fact_store`
					var args []interface{}
					argIdx := 1
					if blockID, ok := p.Args["blockId"]; ok {
						query += fmt.Sprintf(" WHERE source_block_id = $%d", argIdx)
						args = append(args, blockID)
						argIdx++
					}
					query += " ORDER BY created_at DESC"
					if limit, ok := p.Args["limit"]; ok {
						query += fmt.Sprintf(" LIMIT $%d", argIdx)
						args = append(args, limit)
					}

					rows, err := db.QueryContext(p.Context, query, args...)
					if err != nil {
						return nil, err
					}
					defer rows.Close()

					var facts []models.Fact
					for rows.Next() {
						var f models.Fact
						if err := rows.Scan(&f.ID, &f.Key, &f.Value, &f.CreatedAt, &f.SourceBlockID, &f.SourceChunkID); err != nil {
							return nil, err
						}
						facts = append(facts, f)
					}
					return facts, nil
				},
			},
			"dossiers": &graphql.Field{
				Type: graphql.NewList(dossierType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					rows, err := db.QueryContext(p.Context, `
						SELECT dossier_id, title, summary, status, permissions, created_at, last_updated
						FROM dossiers ORDER BY last_updated DESC
					`)
					if err != nil {
						return nil, err
					}
					defer rows.Close()

					var dossiers []models.Dossier
					for rows.Next() {
						var d models.Dossier
						if err := rows.Scan(&d.ID, &d.Title, &d.Summary, &d.Status, &d.Permissions, &d.CreatedAt, &d.LastUpdated); err != nil {
							return nil, err
						}
						dossiers = append(dossiers, d)
					}
					return dossiers, nil
				},
			},
			"dossierFacts": &graphql.Field{
				Type: graphql.NewList(dossierFactType),
				Args: graphql.FieldConfigArgument{
					"dossierId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					dossierID := p.Args["dossierId"].(string)
					rows, err := db.QueryContext(p.Context, `
						SELECT fact_id, dossier_id, text, type, added_at, source_block_id, source_turn_id, confidence
						FROM dossier_facts WHERE dossier_id = $1 ORDER BY added_at ASC
					`, dossierID)
					if err != nil {
						return nil, err
					}
					defer rows.Close()

					var facts []models.DossierFact
					for rows.Next() {
						var f models.DossierFact
						if err := rows.Scan(&f.ID, &f.DossierID, &f.Text, &f.Type, &f.AddedAt, &f.SourceBlockID, &f.SourceTurnID, &f.Confidence); err != nil {
							return nil, err
						}
						facts = append(facts, f)
					}
					return facts, nil
				},
			},
			"profile": &graphql.Field{
				Type: profileType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					doc, err := profileStore.Load()
					if err != nil {
						return nil, err
					}
					return doc.Glossary, nil
				},
			},
			"schedulerStatus": &graphql.Field{
				Type: schedulerStatusType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					var activeCount int
					if err := db.QueryRowContext(p.Context, `SELECT COUNT(*) FROM daily_ledger WHERE status = 'ACTIVE'`).Scan(&activeCount); err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"running":     sched.IsRunning(),
						"activeCount": activeCount,
					}, nil
				},
			},
		},
	})

	rootMutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"garden": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"blockId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				// Triggers an on-demand gardening pass for the given block,
				// the external maintenance entry point.
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					blockID := p.Args["blockId"].(string)
					if err := gardenerSvc.Garden(p.Context, blockID); err != nil {
						return false, err
					}
					return true, nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    rootQuery,
		Mutation: rootMutation,
	})
	if err != nil {
		return nil, fmt.Errorf("graphql: building schema: %w", err)
	}

	return handler.New(&handler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: true,
	}), nil
}
