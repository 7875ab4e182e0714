package chunker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geraldfingburke/hmlr/server/internal/models"
)

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return []float32{float32(len(text))}, nil
}

func filterLevel(chunks []models.Chunk, level models.ChunkLevel) []models.Chunk {
	var out []models.Chunk
	for _, c := range chunks {
		if c.Level == level {
			out = append(out, c)
		}
	}
	return out
}

func TestSplitProducesTurnParagraphSentenceTree(t *testing.T) {
	embedder := &fakeEmbedder{}
	engine := NewEngine(embedder)

	chunks, err := engine.Split(context.Background(), "turn_20260101T000000.000000Z", "bb_1", "What is the API key rotation policy?", "Rotate keys every 90 days. Notify the on-call engineer.")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	turnChunks := filterLevel(chunks, models.LevelTurn)
	require.Len(t, turnChunks, 1)
	assert.Equal(t, "turn_20260101T000000.000000Z", turnChunks[0].ID)
	assert.Equal(t, "bb_1", turnChunks[0].BlockID)

	paragraphChunks := filterLevel(chunks, models.LevelParagraph)
	assert.NotEmpty(t, paragraphChunks)
	for _, p := range paragraphChunks {
		assert.Equal(t, turnChunks[0].ID, p.ParentID)
	}

	sentenceChunks := filterLevel(chunks, models.LevelSentence)
	assert.GreaterOrEqual(t, len(sentenceChunks), 2)

	assert.Equal(t, len(chunks), embedder.calls, "every chunk node must be embedded")
	for _, c := range chunks {
		assert.NotEmpty(t, c.Embedding)
		assert.Greater(t, c.TokenCount, 0)
	}
}

func TestSplitIsDeterministicAcrossCalls(t *testing.T) {
	engine := NewEngine(&fakeEmbedder{})

	first, err := engine.Split(context.Background(), "turn_x", "bb_1", "Hello world.", "")
	require.NoError(t, err)
	second, err := engine.Split(context.Background(), "turn_x", "bb_1", "Hello world.", "")
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestSplitSentencesHandlesNoTerminalPunctuation(t *testing.T) {
	sentences := splitSentences("just one clause with no terminator")
	require.Len(t, sentences, 1)
	assert.Equal(t, "just one clause with no terminator", sentences[0])
}

func TestSplitParagraphsFallsBackToWholeTextWhenNoBlankLines(t *testing.T) {
	paragraphs := splitParagraphs("line one\nline two still same paragraph")
	require.Len(t, paragraphs, 1)
}
