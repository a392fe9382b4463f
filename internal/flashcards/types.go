package flashcards

import (
	"context"
	"strings"
)

type CardType string

const (
	TypeDefinition     CardType = "definition"
	TypeCloze          CardType = "cloze"
	TypeExplanation    CardType = "explanation"
	TypeMultipleChoice CardType = "multiple_choice"
)

// DefaultCardTypes is used when a request names none.
var DefaultCardTypes = []CardType{TypeDefinition, TypeCloze, TypeExplanation}

func (t CardType) Valid() bool {
	switch t {
	case TypeDefinition, TypeCloze, TypeExplanation, TypeMultipleChoice:
		return true
	}
	return false
}

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Difficulties lists levels in the order quotas are filled.
var Difficulties = [3]Difficulty{Easy, Medium, Hard}

// Card is one generated flashcard.
type Card struct {
	Question   string     `json:"question" yaml:"question"`
	Answer     string     `json:"answer" yaml:"answer"`
	Hint       string     `json:"hint" yaml:"hint"`
	CardType   CardType   `json:"card_type" yaml:"card_type"`
	Difficulty Difficulty `json:"difficulty" yaml:"difficulty"`
	Confidence float64    `json:"confidence_score" yaml:"confidence_score"`
	SourceID   string     `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	Number     int        `json:"number,omitempty" yaml:"number,omitempty"`
}

// Balance is a named target distribution over easy, medium, hard.
type Balance struct {
	Name    string
	Weights [3]float64
}

const DefaultBalance = "balanced"

var balances = map[string]Balance{
	"balanced": {Name: "balanced", Weights: [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}},
	"easy":     {Name: "easy", Weights: [3]float64{0.5, 0.3, 0.2}},
	"medium":   {Name: "medium", Weights: [3]float64{0.25, 0.5, 0.25}},
	"hard":     {Name: "hard", Weights: [3]float64{0.2, 0.3, 0.5}},
}

// LookupBalance resolves a policy name; empty means DefaultBalance.
func LookupBalance(name string) (Balance, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultBalance
	}
	b, ok := balances[name]
	return b, ok
}

// Heaviest is the level the balance weights most; ties go to the easier one.
func (b Balance) Heaviest() Difficulty {
	best := 0
	for i, w := range b.Weights {
		if w > b.Weights[best]+1e-9 {
			best = i
		}
	}
	return Difficulties[best]
}

// Source is a unit of material a backend drafts cards from. Keyed sources
// come from aligned pairs and carry the mark-scheme answer.
type Source struct {
	ID         string
	Text       string
	Confidence float64

	Keyed       bool
	Number      int
	Stem        string
	Options     []string
	AnswerKey   string
	Explanation string
}

// DraftRequest asks a backend for up to Count new cards of one type and
// difficulty. Exclude holds normalized questions already accepted.
type DraftRequest struct {
	Subject    string
	CardType   CardType
	Difficulty Difficulty
	Count      int
	Sources    []Source
	Exclude    map[string]bool
}

// Draft is a backend's proposal. Support in [0,1] says how directly the
// source text backs the question/answer pair.
type Draft struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Hint     string  `json:"hint"`
	SourceID string  `json:"source_id"`
	Support  float64 `json:"support"`
}

// Backend drafts flashcards. Implementations may call a model service and
// must honor ctx cancellation.
type Backend interface {
	Name() string
	Draft(ctx context.Context, req DraftRequest) ([]Draft, error)
}

// Normalize folds a question for duplicate detection.
func Normalize(question string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(question) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '_':
			b.WriteRune(' ')
		case r > 127:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
