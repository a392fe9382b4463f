package structure

import (
	"regexp"
	"sort"
	"strconv"
)

// Kind selects which family of patterns a document is scanned with.
type Kind string

const (
	KindQuestion Kind = "question"
	KindAnswer   Kind = "answer"
)

// Match is what a pattern extracts from a single line.
type Match struct {
	Number  int
	Letter  string
	Mark    int
	HasMark bool
}

// Pattern is one structural detector. Lower Priority is tried first.
type Pattern struct {
	Name       string
	Kind       Kind
	Priority   int
	Confidence float64
	Match      func(line string) (Match, bool)
}

const (
	PatternAnchoredWeighted   = "anchored-weighted"
	PatternAnchored           = "anchored"
	PatternUnanchoredWeighted = "unanchored-weighted"
	PatternQuestionStart      = "question-start"
)

// DefaultMaxQuestionNumber caps question-start detection. Larger leading
// numbers are usually marks or continuation numbers inside answer text.
const DefaultMaxQuestionNumber = 10

var (
	anchoredWeightedRe   = regexp.MustCompile(`^(\d+)\s+([A-D])\s+(\d+)\b`)
	anchoredRe           = regexp.MustCompile(`^(\d+)\s+([A-D])\b`)
	unanchoredWeightedRe = regexp.MustCompile(`\b(\d+)\s+([A-D])\s+(\d+)\b`)
	leadingNumberRe      = regexp.MustCompile(`^(\d+)\s`)
)

// AnswerPatterns returns the three answer-key detectors in priority order.
func AnswerPatterns() []Pattern {
	return []Pattern{
		{
			Name:       PatternAnchoredWeighted,
			Kind:       KindAnswer,
			Priority:   1,
			Confidence: 0.95,
			Match:      answerMatcher(anchoredWeightedRe, true),
		},
		{
			Name:       PatternAnchored,
			Kind:       KindAnswer,
			Priority:   2,
			Confidence: 0.85,
			Match:      answerMatcher(anchoredRe, false),
		},
		{
			Name:       PatternUnanchoredWeighted,
			Kind:       KindAnswer,
			Priority:   3,
			Confidence: 0.6,
			Match:      answerMatcher(unanchoredWeightedRe, true),
		},
	}
}

// QuestionStartPattern matches lines that open with a number in [1, max]
// followed by a space.
func QuestionStartPattern(max int) Pattern {
	if max <= 0 {
		max = DefaultMaxQuestionNumber
	}
	return Pattern{
		Name:       PatternQuestionStart,
		Kind:       KindQuestion,
		Priority:   1,
		Confidence: 0.9,
		Match: func(line string) (Match, bool) {
			n, ok := leadingNumber(line)
			if !ok || n < 1 || n > max {
				return Match{}, false
			}
			return Match{Number: n}, true
		},
	}
}

func answerMatcher(re *regexp.Regexp, withMark bool) func(string) (Match, bool) {
	return func(line string) (Match, bool) {
		groups := re.FindStringSubmatch(line)
		if groups == nil {
			return Match{}, false
		}
		n, err := strconv.Atoi(groups[1])
		if err != nil {
			return Match{}, false
		}
		m := Match{Number: n, Letter: groups[2]}
		if withMark {
			mark, err := strconv.Atoi(groups[3])
			if err != nil {
				return Match{}, false
			}
			m.Mark = mark
			m.HasMark = true
		}
		return m, true
	}
}

func leadingNumber(line string) (int, bool) {
	groups := leadingNumberRe.FindStringSubmatch(line)
	if groups == nil {
		return 0, false
	}
	n, err := strconv.Atoi(groups[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Registry holds patterns per kind, ordered by priority.
type Registry struct {
	byKind map[Kind][]Pattern
}

func NewRegistry(patterns ...Pattern) *Registry {
	r := &Registry{byKind: make(map[Kind][]Pattern)}
	for _, p := range patterns {
		r.Register(p)
	}
	return r
}

// DefaultRegistry wires the answer-key patterns and the question-start
// pattern capped at maxQuestion.
func DefaultRegistry(maxQuestion int) *Registry {
	patterns := append(AnswerPatterns(), QuestionStartPattern(maxQuestion))
	return NewRegistry(patterns...)
}

// Register adds p, keeping its kind sorted by priority. Patterns with equal
// priority keep registration order.
func (r *Registry) Register(p Pattern) {
	list := append(r.byKind[p.Kind], p)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority < list[j].Priority
	})
	r.byKind[p.Kind] = list
}

// Patterns returns a copy of the patterns registered for kind.
func (r *Registry) Patterns(kind Kind) []Pattern {
	return append([]Pattern(nil), r.byKind[kind]...)
}

// Match tries kind's patterns in priority order; the first hit wins.
func (r *Registry) Match(kind Kind, line string) (Match, Pattern, bool) {
	for _, p := range r.byKind[kind] {
		if m, ok := p.Match(line); ok {
			return m, p, true
		}
	}
	return Match{}, Pattern{}, false
}
