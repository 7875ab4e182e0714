package scribe

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geraldfingburke/hmlr/server/internal/profile"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string, out interface{}) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.response), out)
}

func (f *fakeLLM) CompleteText(ctx context.Context, system, user string) (string, error) {
	return f.response, f.err
}

func newTestStore(t *testing.T) *profile.Store {
	t.Helper()
	store, err := profile.NewStore(filepath.Join(t.TempDir(), "profile.json"))
	require.NoError(t, err)
	return store
}

func TestObserveMergesExtractedFields(t *testing.T) {
	store := newTestStore(t)
	llm := &fakeLLM{response: `{"constraints":[{"key":"employer","type":"fact","description":"works at Acme","severity":"info"}],"preferences":["concise answers"],"identities":["backend engineer"]}`}
	s := New(store, llm, zerolog.Nop())

	s.Observe(context.Background(), "I work at Acme and prefer concise answers.")

	doc, err := store.Load()
	require.NoError(t, err)
	require.Len(t, doc.Glossary.Constraints, 1)
	assert.Equal(t, "employer", doc.Glossary.Constraints[0].Key)
	assert.Equal(t, []string{"concise answers"}, doc.Glossary.Preferences)
	assert.Equal(t, []string{"backend engineer"}, doc.Glossary.Identities)
}

func TestObserveDropsOnExtractionError(t *testing.T) {
	store := newTestStore(t)
	llm := &fakeLLM{err: assert.AnError}
	s := New(store, llm, zerolog.Nop())

	s.Observe(context.Background(), "hello")

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Glossary.Constraints)
}

func TestObserveSkipsUpdateWhenNothingExtracted(t *testing.T) {
	store := newTestStore(t)
	llm := &fakeLLM{response: `{"constraints":[],"preferences":[],"identities":[]}`}
	s := New(store, llm, zerolog.Nop())

	s.Observe(context.Background(), "what time is it?")

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Glossary.Preferences)
}
