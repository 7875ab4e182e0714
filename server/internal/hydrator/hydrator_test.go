package hydrator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/geraldfingburke/hmlr/server/internal/models"
)

func TestWriteProfileSectionIncludesEveryGlossaryField(t *testing.T) {
	var sb strings.Builder
	profile := models.UserProfile{Glossary: models.Glossary{
		Constraints: []models.Constraint{{Key: "employer", Type: "fact", Description: "works at Acme", Severity: "info"}},
		Preferences: []string{"concise answers"},
		Identities:  []string{"backend engineer"},
	}}

	writeProfileSection(&sb, profile)
	out := sb.String()

	assert.Contains(t, out, "employer")
	assert.Contains(t, out, "concise answers")
	assert.Contains(t, out, "backend engineer")
}

func TestWriteFactsSectionOrdersNewestFirst(t *testing.T) {
	var sb strings.Builder
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	facts := []models.Fact{
		{Key: "old_fact", Value: "a", CreatedAt: older},
		{Key: "new_fact", Value: "b", CreatedAt: newer},
	}

	writeFactsSection(&sb, facts)
	out := sb.String()

	assert.Less(t, strings.Index(out, "new_fact"), strings.Index(out, "old_fact"))
}

func TestMatchingRulePrefixReturnsEmptyWhenNoRuleCovers(t *testing.T) {
	rules := []models.SectionRule{{StartTurn: 0, EndTurn: 2, Rule: "x is aliased to y"}}

	assert.Equal(t, "", matchingRulePrefix(rules, 5))
	assert.Equal(t, "[x is aliased to y] ", matchingRulePrefix(rules, 1))
}

func TestFormatTagsJoinsTypeValuePairs(t *testing.T) {
	tags := []models.GlobalTag{{Type: "env", Value: "staging"}, {Type: "constraint", Value: "no prod writes"}}

	assert.Equal(t, "env:staging, constraint:no prod writes", formatTags(tags))
}

func TestFormatTagsEmpty(t *testing.T) {
	assert.Equal(t, "", formatTags(nil))
}
