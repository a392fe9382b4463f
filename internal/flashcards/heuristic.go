package flashcards

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Support levels for heuristically drafted cards.
const (
	supportMultipleChoice  = 1.0
	supportKeyedReason     = 0.95
	supportDefinition      = 0.9
	supportCloze           = 0.85
	supportExplanation     = 0.75
	supportUnlettered      = 0.8
	minClozeSentenceWords  = 6
	minClozeWordLetters    = 5
	maxDefinitionSubjWords = 6
)

var definitionRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 \-]{0,60}?)\s+(is|are|means|refers to)\s+(.{8,})$`)

type causalMarker struct {
	phrase string
	cause  bool
}

var causalMarkers = []causalMarker{
	{" because ", true},
	{" due to ", true},
	{" since ", true},
	{" therefore ", false},
	{" so that ", false},
	{" in order to ", false},
	{" leads to ", false},
	{" results in ", false},
}

// HeuristicBackend drafts cards straight from source sentences and answer
// keys. It is deterministic and needs no model service.
type HeuristicBackend struct{}

func NewHeuristicBackend() *HeuristicBackend {
	return &HeuristicBackend{}
}

func (b *HeuristicBackend) Name() string {
	return "heuristic"
}

func (b *HeuristicBackend) Draft(ctx context.Context, req DraftRequest) ([]Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []Draft
	for _, src := range req.Sources {
		candidates = append(candidates, draftsFor(req.CardType, src)...)
	}

	switch req.Difficulty {
	case Easy:
		sort.SliceStable(candidates, func(i, j int) bool {
			return draftSize(candidates[i]) < draftSize(candidates[j])
		})
	case Hard:
		sort.SliceStable(candidates, func(i, j int) bool {
			return draftSize(candidates[i]) > draftSize(candidates[j])
		})
	}

	out := make([]Draft, 0, req.Count)
	taken := make(map[string]bool)
	for _, d := range candidates {
		if len(out) == req.Count {
			break
		}
		key := Normalize(d.Question)
		if req.Exclude[key] || taken[key] {
			continue
		}
		taken[key] = true
		out = append(out, d)
	}
	return out, nil
}

func draftSize(d Draft) int {
	return len(strings.Fields(d.Question)) + len(strings.Fields(d.Answer))
}

func draftsFor(t CardType, src Source) []Draft {
	var out []Draft
	switch t {
	case TypeMultipleChoice:
		if d, ok := multipleChoiceDraft(src); ok {
			out = append(out, d)
		}
	case TypeExplanation:
		if d, ok := keyedReasonDraft(src); ok {
			out = append(out, d)
		}
		for _, s := range sentences(src.Text) {
			if d, ok := explanationDraft(s); ok {
				d.SourceID = src.ID
				out = append(out, d)
			}
		}
	case TypeDefinition:
		for _, s := range sentences(src.Text) {
			if d, ok := definitionDraft(s); ok {
				d.SourceID = src.ID
				out = append(out, d)
			}
		}
	case TypeCloze:
		for _, s := range sentences(src.Text) {
			if d, ok := clozeDraft(s); ok {
				d.SourceID = src.ID
				out = append(out, d)
			}
		}
	}
	return out
}

func multipleChoiceDraft(src Source) (Draft, bool) {
	if !src.Keyed || src.Stem == "" || src.AnswerKey == "" {
		return Draft{}, false
	}
	if len(src.Options) == 0 {
		return Draft{
			Question: fmt.Sprintf("%s (A-D)", src.Stem),
			Answer:   src.AnswerKey,
			Hint:     fmt.Sprintf("Question %d", src.Number),
			SourceID: src.ID,
			Support:  supportUnlettered,
		}, true
	}
	answer := src.AnswerKey
	for _, opt := range src.Options {
		if strings.HasPrefix(opt, src.AnswerKey+" ") {
			answer = opt
			break
		}
	}
	return Draft{
		Question: src.Stem + "\n" + strings.Join(src.Options, "\n"),
		Answer:   answer,
		Hint:     fmt.Sprintf("Question %d, %d options", src.Number, len(src.Options)),
		SourceID: src.ID,
		Support:  supportMultipleChoice,
	}, true
}

func keyedReasonDraft(src Source) (Draft, bool) {
	if !src.Keyed || src.Stem == "" || strings.TrimSpace(src.Explanation) == "" {
		return Draft{}, false
	}
	return Draft{
		Question: fmt.Sprintf("%s Why is %s the correct answer?", src.Stem, src.AnswerKey),
		Answer:   strings.Join(strings.Fields(src.Explanation), " "),
		Hint:     fmt.Sprintf("The mark scheme answer is %s", src.AnswerKey),
		SourceID: src.ID,
		Support:  supportKeyedReason,
	}, true
}

func definitionDraft(sentence string) (Draft, bool) {
	groups := definitionRe.FindStringSubmatch(strings.TrimRight(sentence, ".!?"))
	if groups == nil {
		return Draft{}, false
	}
	subject, verb, rest := strings.TrimSpace(groups[1]), groups[2], strings.TrimSpace(groups[3])
	if len(strings.Fields(subject)) > maxDefinitionSubjWords {
		return Draft{}, false
	}
	subject = lowerFirst(subject)

	var question string
	switch verb {
	case "means":
		question = fmt.Sprintf("What does %s mean?", subject)
	case "refers to":
		question = fmt.Sprintf("What does %s refer to?", subject)
	default:
		question = fmt.Sprintf("What %s %s?", verb, subject)
	}
	return Draft{
		Question: question,
		Answer:   upperFirst(rest),
		Hint:     fmt.Sprintf("Starts with %q", strings.Fields(rest)[0]),
		Support:  supportDefinition,
	}, true
}

func clozeDraft(sentence string) (Draft, bool) {
	words := strings.Fields(sentence)
	if len(words) < minClozeSentenceWords {
		return Draft{}, false
	}
	target, idx := "", -1
	for i, w := range words {
		bare := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
		if !isAlpha(bare) || len([]rune(bare)) < minClozeWordLetters {
			continue
		}
		if len([]rune(bare)) > len([]rune(target)) {
			target, idx = bare, i
		}
	}
	if idx < 0 {
		return Draft{}, false
	}
	blanked := append([]string(nil), words...)
	blanked[idx] = strings.Replace(words[idx], target, "_____", 1)
	runes := []rune(target)
	return Draft{
		Question: strings.Join(blanked, " "),
		Answer:   target,
		Hint:     fmt.Sprintf("%d letters, begins with %q", len(runes), string(runes[0])),
		Support:  supportCloze,
	}, true
}

func explanationDraft(sentence string) (Draft, bool) {
	trimmed := strings.TrimRight(sentence, ".!?")
	lower := strings.ToLower(trimmed)
	for _, m := range causalMarkers {
		idx := strings.Index(lower, m.phrase)
		if idx <= 0 {
			continue
		}
		before := strings.TrimSpace(trimmed[:idx])
		if len(strings.Fields(before)) < 2 {
			continue
		}
		question := fmt.Sprintf("Explain why %s.", lowerFirst(before))
		if !m.cause {
			question = fmt.Sprintf("Explain what follows from this: %s.", lowerFirst(before))
		}
		return Draft{
			Question: question,
			Answer:   upperFirst(strings.TrimSpace(sentence)),
			Hint:     fmt.Sprintf("Think about what comes after %q", strings.TrimSpace(m.phrase)),
			Support:  supportExplanation,
		}, true
	}
	return Draft{}, false
}

// sentences splits text into trimmed sentences on line breaks and on
// terminal punctuation followed by whitespace.
func sentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		var b strings.Builder
		runes := []rune(strings.TrimSpace(line))
		for i, r := range runes {
			b.WriteRune(r)
			end := r == '.' || r == '!' || r == '?'
			if end && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
				if s := strings.TrimSpace(b.String()); s != "" {
					out = append(out, s)
				}
				b.Reset()
			}
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func lowerFirst(s string) string {
	runes := []rune(s)
	if len(runes) < 2 || unicode.IsUpper(runes[1]) {
		return s
	}
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

func upperFirst(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
