package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/geraldfingburke/hmlr/server/internal/models"
)

func TestFallbackPrefersContinuationWhenActiveBlockExists(t *testing.T) {
	g := &Governor{}
	active := &models.Block{ID: "bb_1"}

	decision := g.fallback(active)

	assert.Equal(t, 1, decision.Scenario)
	assert.Equal(t, "bb_1", decision.TargetBlockID)
}

func TestFallbackCreatesNewTopicWhenNoActiveBlock(t *testing.T) {
	g := &Governor{}

	decision := g.fallback(nil)

	assert.Equal(t, 3, decision.Scenario)
	assert.NotEmpty(t, decision.NewTopicLabel)
}

func TestUnionKeywordsDedupesPreservingOrder(t *testing.T) {
	existing := models.StringArray{"billing", "refunds"}
	fresh := []string{"refunds", "taxes", ""}

	union := unionKeywords(existing, fresh)

	assert.Equal(t, []string{"billing", "refunds", "taxes"}, union)
}

func TestFindSummaryReturnsEmptyForUnknownBlock(t *testing.T) {
	ledger := []models.Block{{ID: "bb_1", RollingSummary: "discussing billing"}}

	assert.Equal(t, "discussing billing", findSummary(ledger, "bb_1"))
	assert.Equal(t, "", findSummary(ledger, "bb_missing"))
}

func TestFindTopicLabelFallsBackToUntitled(t *testing.T) {
	ledger := []models.Block{{ID: "bb_1", TopicLabel: "billing dispute"}}

	assert.Equal(t, "billing dispute", findTopicLabel(ledger, "bb_1"))
	assert.Equal(t, "untitled topic", findTopicLabel(ledger, "bb_missing"))
}

func TestFormatLedgerIncludesEveryBlock(t *testing.T) {
	ledger := []models.Block{
		{ID: "bb_1", Status: models.BlockActive, TopicLabel: "billing"},
		{ID: "bb_2", Status: models.BlockPaused, TopicLabel: "travel"},
	}

	out := formatLedger(ledger)

	assert.Contains(t, out, "bb_1")
	assert.Contains(t, out, "bb_2")
	assert.Contains(t, out, "billing")
	assert.Contains(t, out, "travel")
}
