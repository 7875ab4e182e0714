package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geraldfingburke/hmlr/server/internal/models"
)

func TestNewStoreSeedsEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")

	store, err := NewStore(path)
	require.NoError(t, err)

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Glossary.Constraints)
	assert.Empty(t, doc.Glossary.Preferences)
	assert.Empty(t, doc.Glossary.Identities)
}

func TestUpdatePersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	store, err := NewStore(path)
	require.NoError(t, err)

	err = store.Update(func(doc *models.UserProfile) {
		AddPreference(doc, "concise answers")
	})
	require.NoError(t, err)

	reopened, err := NewStore(path)
	require.NoError(t, err)
	doc, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"concise answers"}, doc.Glossary.Preferences)
}

func TestAddConstraintReplacesExistingKey(t *testing.T) {
	var doc models.UserProfile
	AddConstraint(&doc, models.Constraint{Key: "employer", Type: "fact", Description: "works at Acme", Severity: "info"})
	AddConstraint(&doc, models.Constraint{Key: "employer", Type: "fact", Description: "works at Globex now", Severity: "info"})

	require.Len(t, doc.Glossary.Constraints, 1)
	assert.Equal(t, "works at Globex now", doc.Glossary.Constraints[0].Description)
}

func TestAddPreferenceDeduplicates(t *testing.T) {
	var doc models.UserProfile
	AddPreference(&doc, "dark mode")
	AddPreference(&doc, "dark mode")

	assert.Len(t, doc.Glossary.Preferences, 1)
}

func TestAddIdentityDeduplicates(t *testing.T) {
	var doc models.UserProfile
	AddIdentity(&doc, "backend engineer")
	AddIdentity(&doc, "backend engineer")
	AddIdentity(&doc, "cat owner")

	assert.Len(t, doc.Glossary.Identities, 2)
}
