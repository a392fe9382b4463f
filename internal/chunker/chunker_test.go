package chunker

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-flash/internal/alignment"
	"exam-flash/internal/apperr"
	"exam-flash/internal/structure"
)

func newChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(size, overlap, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.size, tt.overlap, nil)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.Equal(t, apperr.InvalidConfiguration, apperr.KindOf(err))
		})
	}
}

func TestChunkEmptyText(t *testing.T) {
	c := newChunker(t, DefaultChunkSize, DefaultOverlap)
	assert.Empty(t, c.Chunk("blank", "   "))
	assert.Empty(t, c.Chunk("empty", ""))
	assert.Empty(t, c.Chunk("tabs", "\n\t \n"))
}

func TestChunkOverlapInvariant(t *testing.T) {
	configs := []struct{ size, overlap, total int }{
		{5, 2, 23},
		{10, 0, 35},
		{7, 6, 20},
		{500, 100, 1234},
		{3, 1, 3},
	}
	for _, cfg := range configs {
		t.Run(fmt.Sprintf("%d_%d_%d", cfg.size, cfg.overlap, cfg.total), func(t *testing.T) {
			c := newChunker(t, cfg.size, cfg.overlap)
			chunks := c.Chunk("doc", words(cfg.total))
			require.NotEmpty(t, chunks)

			assert.Equal(t, 0, chunks[0].StartWord)
			for i, ch := range chunks {
				assert.LessOrEqual(t, ch.EndWord-ch.StartWord, cfg.size)
				assert.Equal(t, i, ch.Index)
				assert.Len(t, strings.Fields(ch.Text), ch.Words())
				if i > 0 {
					assert.Equal(t, cfg.size-cfg.overlap, ch.StartWord-chunks[i-1].StartWord)
				}
			}
			last := chunks[len(chunks)-1]
			assert.Equal(t, cfg.total, last.EndWord)
			assert.GreaterOrEqual(t, last.StartWord+c.Step(), cfg.total)
		})
	}
}

func TestChunkIsDeterministic(t *testing.T) {
	c := newChunker(t, 500, 100)
	text := words(1500)
	assert.Equal(t, c.Chunk("a", text), c.Chunk("a", text))
}

func TestChunkWordBoundaries(t *testing.T) {
	c := newChunker(t, 3, 1)
	chunks := c.Chunk("doc", "alpha  beta\ngamma\tdelta epsilon")

	require.Len(t, chunks, 3)
	assert.Equal(t, "alpha beta gamma", chunks[0].Text)
	assert.Equal(t, "gamma delta epsilon", chunks[1].Text)
	assert.Equal(t, "epsilon", chunks[2].Text)
}

func TestChunkShortContentSingleChunk(t *testing.T) {
	sentence := "The mitochondrion is the organelle where aerobic respiration releases energy for the living cell."
	require.Len(t, strings.Fields(sentence), 14)
	content := strings.TrimSpace(strings.Repeat(sentence+" ", 20))

	chunks := newChunker(t, 500, 100).Chunk("notes", content)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].StartWord)
	assert.Equal(t, 280, chunks[0].EndWord)
	assert.Equal(t, RawTextConfidence, chunks[0].Confidence)
}

func TestChunkThousandWordsFollowsStepping(t *testing.T) {
	chunks := newChunker(t, 500, 100).Chunk("notes", words(1000))

	require.Len(t, chunks, 3)
	assert.Equal(t, [][2]int{{0, 500}, {400, 900}, {800, 1000}}, bounds(chunks))
}

func TestChunkBulkPreservesOrder(t *testing.T) {
	c := newChunker(t, 4, 1)
	out := c.ChunkBulk([]Text{
		{SourceID: "a", Content: words(10)},
		{SourceID: "b", Content: " "},
		{SourceID: "c", Content: words(2)},
	})

	require.Len(t, out, 3)
	assert.Len(t, out[0], 4)
	assert.Empty(t, out[1])
	require.Len(t, out[2], 1)
	assert.Equal(t, "c", out[2][0].SourceID)
}

func TestChunkPairsCarriesConfidence(t *testing.T) {
	q := structure.Entry{Number: 4, RawLine: "4 Which gas is produced?", Body: "A oxygen\nB nitrogen"}
	a := structure.Entry{Number: 4, Letter: "A", Body: "Photosynthesis releases oxygen."}
	pairs := []alignment.Pair{{Number: 4, Question: &q, Answer: &a, Status: alignment.StatusMatched, Confidence: 0.9}}

	chunks := newChunker(t, 500, 100).ChunkPairs("paper", pairs)

	require.Len(t, chunks, 1)
	assert.Equal(t, "paper#4", chunks[0].SourceID)
	assert.Equal(t, 0.9, chunks[0].Confidence)
	assert.Equal(t, "4 Which gas is produced? A oxygen B nitrogen Answer: A Photosynthesis releases oxygen.", chunks[0].Text)
}

func bounds(chunks []Chunk) [][2]int {
	out := make([][2]int, len(chunks))
	for i, ch := range chunks {
		out[i] = [2]int{ch.StartWord, ch.EndWord}
	}
	return out
}
