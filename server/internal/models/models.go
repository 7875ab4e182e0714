// Package models defines the core domain entities of HMLR's storage layer:
// bridge blocks, turns, chunks, facts, the user profile, gardened chunks,
// block metadata, and the dossier family. Fields carry `json:"..."` tags
// for API responses; this package scans rows via database/sql directly.
package models

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
)

// BlockStatus is the lifecycle state of a Bridge Block.
type BlockStatus string

const (
	BlockActive BlockStatus = "ACTIVE"
	BlockPaused BlockStatus = "PAUSED"
	BlockClosed BlockStatus = "CLOSED"
)

// RoutingScenario is one of the Governor's four routing outcomes.
type RoutingScenario int

const (
	ScenarioContinuation RoutingScenario = 1
	ScenarioResumption   RoutingScenario = 2
	ScenarioNewTopic     RoutingScenario = 3
	ScenarioTopicShift   RoutingScenario = 4
)

// StringArray adapts []string to PostgreSQL's TEXT[] columns.
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	return pq.Array([]string(a)).Value()
}

func (a *StringArray) Scan(value interface{}) error {
	return pq.Array((*[]string)(a)).Scan(value)
}

// Block is a short-term, mutable container for one ongoing topic's turns.
type Block struct {
	ID             string      `json:"block_id" db:"block_id"`
	Status         BlockStatus `json:"status" db:"status"`
	TopicLabel     string      `json:"topic_label" db:"topic_label"`
	Keywords       StringArray `json:"keywords" db:"keywords"`
	RollingSummary string      `json:"rolling_summary" db:"rolling_summary"`
	OpenLoops      StringArray `json:"open_loops" db:"open_loops"`
	Decisions      StringArray `json:"decisions" db:"decisions"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// Turn is one user/assistant exchange, permanently owned by one block.
type Turn struct {
	ID        string    `json:"turn_id" db:"turn_id"`
	BlockID   string    `json:"block_id" db:"block_id"`
	Ordinal   int       `json:"ordinal" db:"ordinal"`
	UserText  string    `json:"user_text" db:"user_text"`
	AIText    string    `json:"ai_text" db:"ai_text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ChunkLevel is the tree level of a Chunk Engine node.
type ChunkLevel string

const (
	LevelTurn      ChunkLevel = "turn"
	LevelParagraph ChunkLevel = "paragraph"
	LevelSentence  ChunkLevel = "sentence"
)

// Chunk is one node of the turn → paragraph → sentence tree produced by the
// Chunk Engine. It is ephemeral until promoted into GardenedChunk.
type Chunk struct {
	ID          string     `json:"chunk_id"`
	ParentID    string     `json:"parent_id"`
	TurnID      string     `json:"turn_id"`
	BlockID     string     `json:"block_id"`
	Level       ChunkLevel `json:"level"`
	Ordinal     int        `json:"ordinal"`
	TurnOrdinal int        `json:"turn_ordinal"`
	Text        string     `json:"text"`
	TokenCount  int        `json:"token_count"`
	Embedding   []float32  `json:"-"`
}

// Fact is a durable key/value extracted by the Fact Scrubber.
type Fact struct {
	ID            string    `json:"fact_id" db:"fact_id"`
	Key           string    `json:"key" db:"key"`
	Value         string    `json:"value" db:"value"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	SourceBlockID *string   `json:"source_block_id,omitempty" db:"source_block_id"`
	SourceChunkID string    `json:"source_chunk_id" db:"source_chunk_id"`
}

// Constraint is one entry in the user profile's glossary of constraints.
type Constraint struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Glossary holds the user profile's constraints, preferences, and identities.
type Glossary struct {
	Constraints []Constraint `json:"constraints"`
	Preferences []string     `json:"preferences"`
	Identities  []string     `json:"identities"`
}

// UserProfile is the singleton cross-session JSON document the Scribe
// maintains on disk.
type UserProfile struct {
	Glossary Glossary `json:"glossary"`
}

// GlobalTag is a {type, value} annotation governing chunk interpretation.
type GlobalTag struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// GardenedChunk is an immutable long-term chunk written by the Gardener.
type GardenedChunk struct {
	ID         string     `json:"chunk_id" db:"chunk_id"`
	BlockID    string     `json:"block_id" db:"block_id"`
	Level      ChunkLevel `json:"level" db:"level"`
	ParentID   string     `json:"parent_id" db:"parent_id"`
	Text       string     `json:"text" db:"text"`
	TokenCount int        `json:"token_count" db:"token_count"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// SectionRule scopes a tag to a turn-ordinal range within one block.
type SectionRule struct {
	StartTurn int    `json:"start_turn"`
	EndTurn   int    `json:"end_turn"`
	Rule      string `json:"rule"`
}

// BlockMetadata is the sticky-tag row written once per gardened block;
// GlobalTags and SectionRules are referenced at read time, never duplicated
// onto individual chunks.
type BlockMetadata struct {
	BlockID      string        `json:"block_id" db:"block_id"`
	GlobalTags   []GlobalTag   `json:"global_tags" db:"global_tags"`
	SectionRules []SectionRule `json:"section_rules" db:"section_rules"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// Dossier is a long-lived, named aggregation of facts on a single theme.
type Dossier struct {
	ID          string      `json:"dossier_id" db:"dossier_id"`
	Title       string      `json:"title" db:"title"`
	Summary     string      `json:"summary" db:"summary"`
	Status      string      `json:"status" db:"status"`
	Permissions StringArray `json:"permissions" db:"permissions"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	LastUpdated time.Time   `json:"last_updated" db:"last_updated"`
}

// DossierFact is one append-only fact belonging to a Dossier.
type DossierFact struct {
	ID            string    `json:"fact_id" db:"fact_id"`
	DossierID     string    `json:"dossier_id" db:"dossier_id"`
	Text          string    `json:"text" db:"text"`
	Type          string    `json:"type" db:"type"`
	AddedAt       time.Time `json:"added_at" db:"added_at"`
	SourceBlockID string    `json:"source_block_id" db:"source_block_id"`
	SourceTurnID  string    `json:"source_turn_id" db:"source_turn_id"`
	Confidence    float64   `json:"confidence" db:"confidence"`
}

// ProvenanceOp is one of the audit-log operation kinds.
type ProvenanceOp string

const (
	ProvCreated        ProvenanceOp = "created"
	ProvFactAdded      ProvenanceOp = "fact_added"
	ProvFactRemoved    ProvenanceOp = "fact_removed"
	ProvSummaryUpdated ProvenanceOp = "summary_updated"
)

// DossierProvenance is one append-only audit-log row for a Dossier.
type DossierProvenance struct {
	ID            string       `json:"provenance_id" db:"provenance_id"`
	DossierID     string       `json:"dossier_id" db:"dossier_id"`
	Operation     ProvenanceOp `json:"operation" db:"operation"`
	Timestamp     time.Time    `json:"timestamp" db:"timestamp"`
	SourceBlockID string       `json:"source_block_id" db:"source_block_id"`
	Details       string       `json:"details" db:"details"`
}

// FactPacket groups narrative facts discovered during gardening into one
// semantic cluster for routing through the Dossier Governor.
type FactPacket struct {
	ClusterLabel  string
	Facts         []string
	SourceBlockID string
	Timestamp     time.Time
}

// RetrievedMemory is a single Crawler hit against gardened_memory, annotated
// with the sticky tags of its source block.
type RetrievedMemory struct {
	ChunkID     string
	Text        string
	SourceBlock string
	Tags        []GlobalTag
	Similarity  float64
	SourceDate  time.Time
	TurnOrdinal int
}

// RetrievedDossierFact is a single Crawler/DossierRetriever hit against
// dossier_fact_embeddings.
type RetrievedDossierFact struct {
	DossierID  string
	FactID     string
	Text       string
	Similarity float64
}
