package flashcards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"exam-flash/internal/alignment"
	"exam-flash/internal/apperr"
	"exam-flash/internal/chunker"
)

// Request is one generation job. Content, Chunks and Pairs may be combined;
// at least one of them must yield text.
type Request struct {
	Content           string
	SourceID          string
	Chunks            []chunker.Chunk
	Pairs             []alignment.Pair
	Subject           string
	CardTypes         []CardType
	NumCards          int
	DifficultyBalance string
}

// Result carries the cards plus anything worth telling the caller about
// how the request was served.
type Result struct {
	Cards       []Card              `json:"flashcards"`
	Requested   int                 `json:"requested"`
	Plan        []Quota             `json:"plan"`
	Backend     string              `json:"backend"`
	Diagnostics []apperr.Diagnostic `json:"diagnostics,omitempty"`
}

// Shortfall reports how many requested cards could not be derived.
func (r *Result) Shortfall() int {
	return max(r.Requested-len(r.Cards), 0)
}

type Generator struct {
	chunker *chunker.Chunker
	backend Backend
	log     *slog.Logger
}

func NewGenerator(c *chunker.Chunker, backend Backend, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	if backend == nil {
		backend = NewHeuristicBackend()
	}
	return &Generator{chunker: c, backend: backend, log: log}
}

func (g *Generator) Backend() string {
	return g.backend.Name()
}

// ValidateRequest checks generation parameters without touching content or
// a backend, so callers can reject a request before queueing work for it.
func ValidateRequest(types []CardType, numCards int, balance string) error {
	if len(types) == 0 {
		return apperr.New(apperr.InvalidInput, "card types must not be empty")
	}
	for _, t := range types {
		if !t.Valid() {
			return apperr.New(apperr.InvalidInput, "unknown card type %q", t)
		}
	}
	if numCards <= 0 {
		return apperr.New(apperr.InvalidInput, "num_cards must be positive, got %d", numCards)
	}
	if _, ok := LookupBalance(balance); !ok {
		return apperr.New(apperr.InvalidInput, "unknown difficulty balance %q", balance)
	}
	return nil
}

// Generate validates the request, plans quotas and asks the backend for
// distinct cards. Quotas a type cannot fill are backfilled from the types
// that still produce cards; anything still missing is reported, not padded.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ValidateRequest(req.CardTypes, req.NumCards, req.DifficultyBalance); err != nil {
		return nil, err
	}
	balance, _ := LookupBalance(req.DifficultyBalance)

	sources := g.sources(req)
	if len(sources) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "content is empty after chunking")
	}

	run := &generation{
		g:       g,
		req:     req,
		sources: sources,
		seen:    make(map[string]bool),
		result: &Result{
			Requested: req.NumCards,
			Plan:      Plan(req.CardTypes, req.NumCards, balance),
			Backend:   g.backend.Name(),
		},
	}
	result := run.result

	for _, quota := range result.Plan {
		if quota.Count == 0 {
			continue
		}
		accepted, err := run.draft(ctx, quota)
		if err != nil {
			return nil, err
		}
		if accepted < quota.Count {
			result.Diagnostics = append(result.Diagnostics, apperr.Diagnose(apperr.GenerationShortfall,
				"%s/%s: derived %d of %d cards", quota.CardType, quota.Difficulty, accepted, quota.Count))
		}
	}

	if result.Shortfall() > 0 {
		if err := run.backfill(ctx, balance.Heaviest()); err != nil {
			return nil, err
		}
	}

	if short := result.Shortfall(); short > 0 {
		result.Diagnostics = append(result.Diagnostics, apperr.Diagnose(apperr.GenerationShortfall,
			"requested %d cards, derived %d distinct cards", req.NumCards, len(result.Cards)))
		g.log.Warn("generation shortfall",
			"source", req.SourceID, "requested", req.NumCards, "produced", len(result.Cards), "backend", g.backend.Name())
	}
	g.log.Info("flashcards generated",
		"source", req.SourceID, "subject", req.Subject, "cards", len(result.Cards), "backend", g.backend.Name())
	return result, nil
}

// generation is the state shared by the quota pass and the backfill pass.
type generation struct {
	g       *Generator
	req     Request
	sources []Source
	seen    map[string]bool
	result  *Result
}

// draft asks the backend for one quota and keeps the distinct drafts.
func (r *generation) draft(ctx context.Context, quota Quota) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	backend := r.g.backend
	drafts, err := backend.Draft(ctx, DraftRequest{
		Subject:    r.req.Subject,
		CardType:   quota.CardType,
		Difficulty: quota.Difficulty,
		Count:      quota.Count,
		Sources:    r.sources,
		Exclude:    r.seen,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, apperr.Upstream(err, r.req.SourceID, "%s backend failed drafting %s/%s cards",
			backend.Name(), quota.CardType, quota.Difficulty)
	}

	accepted := 0
	for _, d := range drafts {
		if accepted == quota.Count {
			break
		}
		key := Normalize(d.Question)
		if key == "" || strings.TrimSpace(d.Answer) == "" || r.seen[key] {
			continue
		}
		r.seen[key] = true
		accepted++

		base := chunker.RawTextConfidence
		src, ok := sourceByID(r.sources, d.SourceID)
		if ok {
			base = src.Confidence
		}
		r.result.Cards = append(r.result.Cards, Card{
			Question:   strings.TrimSpace(d.Question),
			Answer:     strings.TrimSpace(d.Answer),
			Hint:       strings.TrimSpace(d.Hint),
			CardType:   quota.CardType,
			Difficulty: quota.Difficulty,
			Confidence: clamp01(base * clamp01(d.Support)),
			SourceID:   d.SourceID,
			Number:     src.Number,
		})
	}
	return accepted, nil
}

// backfill re-asks the backend for the missing cards, round-robin over the
// requested types from the first one. A type that yields nothing is dropped.
func (r *generation) backfill(ctx context.Context, level Difficulty) error {
	active := append([]CardType(nil), r.req.CardTypes...)
	filled := 0
	for len(active) > 0 {
		missing := r.result.Shortfall()
		if missing == 0 {
			break
		}
		shares := splitEven(missing, len(active))
		next := active[:0:0]
		for i, t := range active {
			if shares[i] == 0 {
				next = append(next, t)
				continue
			}
			accepted, err := r.draft(ctx, Quota{CardType: t, Difficulty: level, Count: shares[i]})
			if err != nil {
				return err
			}
			filled += accepted
			if accepted > 0 {
				next = append(next, t)
			}
		}
		active = next
	}
	if filled > 0 {
		r.g.log.Debug("quota shortfall backfilled",
			"source", r.req.SourceID, "cards", filled, "difficulty", level)
	}
	return nil
}

// sources turns request content into backend sources. Raw text goes through
// the chunker; aligned pairs become keyed sources with their own confidence.
// When a pair's text also arrives as chunks, the chunks carry the text and
// the pair source keeps only its answer key.
func (g *Generator) sources(req Request) []Source {
	var out []Source

	chunks := append([]chunker.Chunk(nil), req.Chunks...)
	if strings.TrimSpace(req.Content) != "" && g.chunker != nil {
		chunks = append(chunks, g.chunker.Chunk(sourcePrefix(req), req.Content)...)
	}
	ends := make(map[string]int)
	for _, ch := range chunks {
		ends[ch.SourceID] = max(ends[ch.SourceID], ch.EndWord)
	}
	numbers := make(map[string]int)

	for _, p := range req.Pairs {
		if p.Status == alignment.StatusDuplicate {
			continue
		}
		text := chunker.PairText(p)
		if strings.TrimSpace(text) == "" {
			continue
		}
		src := Source{
			ID:         fmt.Sprintf("%s#%d", sourcePrefix(req), p.Number),
			Text:       text,
			Confidence: p.Confidence,
			Number:     p.Number,
		}
		if _, chunked := ends[src.ID]; chunked {
			src.Text = ""
			numbers[src.ID] = p.Number
		}
		if p.Question != nil {
			src.Stem, src.Options = splitStem(p.Question.Text())
		}
		if p.Status == alignment.StatusMatched {
			src.Keyed = true
			src.AnswerKey = p.Answer.Letter
			src.Explanation = p.Answer.Body
		}
		out = append(out, src)
	}

	for _, ch := range chunks {
		text := wholeSentences(ch.Text, ch.StartWord > 0, ch.EndWord < ends[ch.SourceID])
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, Source{
			ID:         fmt.Sprintf("%s[%d:%d]", ch.SourceID, ch.StartWord, ch.EndWord),
			Text:       text,
			Confidence: ch.Confidence,
			Number:     numbers[ch.SourceID],
		})
	}
	return out
}

// wholeSentences drops the partial sentences a word window cuts at its head
// or tail. The overlapping neighbour window carries them whole. Text with no
// sentence break is returned unchanged.
func wholeSentences(text string, head, tail bool) string {
	if !head && !tail {
		return text
	}
	words := strings.Fields(text)
	from, to := 0, len(words)
	if tail {
		for to > 0 && !endsSentence(words[to-1]) {
			to--
		}
		if to == 0 {
			return text
		}
	}
	if head {
		first := -1
		for i, w := range words {
			if endsSentence(w) {
				first = i
				break
			}
		}
		if first < 0 {
			return text
		}
		from = first + 1
	}
	if from >= to {
		return ""
	}
	return strings.Join(words[from:to], " ")
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"')]`)
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?")
}

func sourcePrefix(req Request) string {
	if req.SourceID != "" {
		return req.SourceID
	}
	return "content"
}

// splitStem separates a question's stem from lettered option lines.
func splitStem(text string) (string, []string) {
	var stem []string
	var options []string
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if i == 0 {
			line = strings.TrimSpace(strings.TrimLeft(line, "0123456789"))
		}
		if len(line) > 2 && line[0] >= 'A' && line[0] <= 'D' && line[1] == ' ' {
			options = append(options, line)
			continue
		}
		if len(options) == 0 {
			stem = append(stem, line)
		}
	}
	return strings.Join(stem, " "), options
}

func sourceByID(sources []Source, id string) (Source, bool) {
	for _, s := range sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
