package chunker

import (
	"fmt"
	"log/slog"
	"strings"

	"exam-flash/internal/alignment"
	"exam-flash/internal/apperr"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 100

	// RawTextConfidence is the support assigned to chunks of free text that
	// have no answer key behind them.
	RawTextConfidence = 0.5
)

// Chunk is a window of whitespace-delimited words. StartWord is inclusive,
// EndWord exclusive.
type Chunk struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	StartWord  int     `json:"start_word"`
	EndWord    int     `json:"end_word"`
	SourceID   string  `json:"source_id"`
	Confidence float64 `json:"confidence"`
}

// Words returns the number of words in the chunk.
func (c Chunk) Words() int {
	return c.EndWord - c.StartWord
}

// Text is one input to ChunkBulk.
type Text struct {
	SourceID string
	Content  string
}

// Chunker splits text into overlapping word windows. It is safe for
// concurrent use.
type Chunker struct {
	size    int
	overlap int
	log     *slog.Logger
}

// New validates the window configuration up front; a bad configuration is
// never deferred to the first call.
func New(size, overlap int, log *slog.Logger) (*Chunker, error) {
	if size <= 0 {
		return nil, apperr.New(apperr.InvalidConfiguration, "chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, apperr.New(apperr.InvalidConfiguration, "overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, apperr.New(apperr.InvalidConfiguration, "overlap %d must be smaller than chunk size %d", overlap, size)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Chunker{size: size, overlap: overlap, log: log}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Step is the distance between consecutive chunk starts.
func (c *Chunker) Step() int { return c.size - c.overlap }

// Chunk splits text into windows of at most size words, each starting Step
// words after the previous one. Empty text yields no chunks.
func (c *Chunker) Chunk(sourceID, text string) []Chunk {
	return c.chunk(sourceID, text, RawTextConfidence)
}

func (c *Chunker) chunk(sourceID, text string, confidence float64) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		c.log.Warn("nothing to chunk",
			"source", sourceID, "kind", apperr.InvalidInput, "reason", "empty or whitespace-only text")
		return nil
	}

	chunks := make([]Chunk, 0, len(words)/c.Step()+1)
	for start := 0; start < len(words); start += c.Step() {
		end := min(start+c.size, len(words))
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       strings.Join(words[start:end], " "),
			StartWord:  start,
			EndWord:    end,
			SourceID:   sourceID,
			Confidence: confidence,
		})
	}
	return chunks
}

// ChunkBulk chunks each text independently, preserving input order.
func (c *Chunker) ChunkBulk(texts []Text) [][]Chunk {
	out := make([][]Chunk, len(texts))
	for i, t := range texts {
		out[i] = c.Chunk(t.SourceID, t.Content)
	}
	return out
}

// ChunkPairs chunks the text of each aligned pair, carrying the pair's
// confidence into every chunk so generated cards inherit it.
func (c *Chunker) ChunkPairs(sourceID string, pairs []alignment.Pair) []Chunk {
	var out []Chunk
	for _, p := range pairs {
		text := PairText(p)
		id := fmt.Sprintf("%s#%d", sourceID, p.Number)
		for _, ch := range c.chunk(id, text, p.Confidence) {
			ch.Index = len(out)
			out = append(out, ch)
		}
	}
	return out
}

// PairText renders an aligned pair as plain text: question, answer key and
// any explanation found in the mark scheme.
func PairText(p alignment.Pair) string {
	var b strings.Builder
	if p.Question != nil {
		b.WriteString(p.Question.Text())
	}
	if p.Answer != nil {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Answer: %s", p.Answer.Letter)
		if p.Answer.Body != "" {
			b.WriteString("\n" + p.Answer.Body)
		}
	}
	return b.String()
}
