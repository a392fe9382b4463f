package alignment

import (
	"sort"

	"exam-flash/internal/apperr"
	"exam-flash/internal/structure"
)

// Status describes how a question number was reconciled.
type Status string

const (
	StatusMatched         Status = "matched"
	StatusMissingAnswer   Status = "missing_answer"
	StatusMissingQuestion Status = "missing_question"
	StatusDuplicate       Status = "duplicate"
)

// Pair is one reconciled item. Duplicate pairs reference only the entry that
// repeated a number.
type Pair struct {
	Number     int              `json:"number"`
	Question   *structure.Entry `json:"question,omitempty"`
	Answer     *structure.Entry `json:"answer,omitempty"`
	Status     Status           `json:"status"`
	Confidence float64          `json:"confidence"`
}

// Align reconciles question-paper entries with mark-scheme entries by number.
// Misalignment is reported through Status, never as an error.
func Align(questions, answers []structure.Entry) []Pair {
	qFirst, qDups := firstByNumber(questions)
	aFirst, aDups := firstByNumber(answers)

	numbers := make(map[int]struct{}, len(qFirst)+len(aFirst))
	for n := range qFirst {
		numbers[n] = struct{}{}
	}
	for n := range aFirst {
		numbers[n] = struct{}{}
	}

	pairs := make([]Pair, 0, len(numbers)+len(qDups)+len(aDups))
	for n := range numbers {
		q, hasQ := qFirst[n]
		a, hasA := aFirst[n]
		switch {
		case hasQ && hasA:
			pairs = append(pairs, Pair{
				Number:     n,
				Question:   &q,
				Answer:     &a,
				Status:     StatusMatched,
				Confidence: min(q.Confidence, a.Confidence),
			})
		case hasQ:
			pairs = append(pairs, Pair{
				Number:     n,
				Question:   &q,
				Status:     StatusMissingAnswer,
				Confidence: 0.5 * q.Confidence,
			})
		default:
			pairs = append(pairs, Pair{
				Number:     n,
				Answer:     &a,
				Status:     StatusMissingQuestion,
				Confidence: 0.5 * a.Confidence,
			})
		}
	}
	for i := range qDups {
		q := qDups[i]
		pairs = append(pairs, Pair{Number: q.Number, Question: &q, Status: StatusDuplicate, Confidence: 0.25 * q.Confidence})
	}
	for i := range aDups {
		a := aDups[i]
		pairs = append(pairs, Pair{Number: a.Number, Answer: &a, Status: StatusDuplicate, Confidence: 0.25 * a.Confidence})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return less(pairs[i], pairs[j])
	})
	return pairs
}

// less orders by number; within a number the primary pair comes first, then
// duplicates by detection order. Question-side duplicates precede answer-side
// ones on the same position.
func less(a, b Pair) bool {
	if a.Number != b.Number {
		return a.Number < b.Number
	}
	aDup, bDup := a.Status == StatusDuplicate, b.Status == StatusDuplicate
	if aDup != bDup {
		return !aDup
	}
	ea, eb := a.entry(), b.entry()
	if ea.PageIndex != eb.PageIndex || ea.LineIndex != eb.LineIndex {
		return ea.Before(eb)
	}
	return a.Question != nil && b.Question == nil
}

func (p Pair) entry() structure.Entry {
	if p.Question != nil {
		return *p.Question
	}
	return *p.Answer
}

func firstByNumber(entries []structure.Entry) (map[int]structure.Entry, []structure.Entry) {
	ordered := append([]structure.Entry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Before(ordered[j])
	})

	first := make(map[int]structure.Entry, len(ordered))
	var dups []structure.Entry
	for _, e := range ordered {
		if _, seen := first[e.Number]; seen {
			dups = append(dups, e)
			continue
		}
		first[e.Number] = e
	}
	return first, dups
}

// Summary counts pairs by status.
type Summary struct {
	Total           int                 `json:"total"`
	Matched         int                 `json:"matched"`
	MissingAnswer   int                 `json:"missing_answer"`
	MissingQuestion int                 `json:"missing_question"`
	Duplicate       int                 `json:"duplicate"`
	Diagnostics     []apperr.Diagnostic `json:"diagnostics,omitempty"`
}

// Summarize reports structural ambiguity found in pairs as diagnostics.
func Summarize(pairs []Pair) Summary {
	s := Summary{Total: len(pairs)}
	for _, p := range pairs {
		switch p.Status {
		case StatusMatched:
			s.Matched++
		case StatusMissingAnswer:
			s.MissingAnswer++
			s.Diagnostics = append(s.Diagnostics, apperr.Diagnose(apperr.StructuralAmbiguity,
				"question %d has no answer in the mark scheme", p.Number))
		case StatusMissingQuestion:
			s.MissingQuestion++
			s.Diagnostics = append(s.Diagnostics, apperr.Diagnose(apperr.StructuralAmbiguity,
				"answer %d has no question in the paper", p.Number))
		case StatusDuplicate:
			s.Duplicate++
			e := p.entry()
			s.Diagnostics = append(s.Diagnostics, apperr.Diagnose(apperr.StructuralAmbiguity,
				"number %d repeated at page %d line %d", p.Number, e.PageIndex+1, e.LineIndex+1))
		}
	}
	return s
}

// Matched returns only the pairs with both sides present.
func Matched(pairs []Pair) []Pair {
	var out []Pair
	for _, p := range pairs {
		if p.Status == StatusMatched {
			out = append(out, p)
		}
	}
	return out
}
