package structure

import (
	"log/slog"
	"strings"
)

// Document is the read-only page text of one source file.
type Document struct {
	ID    string
	Pages []string
}

// Entry is one detected structural element with its provenance.
type Entry struct {
	Kind       Kind    `json:"kind"`
	Number     int     `json:"number"`
	Letter     string  `json:"letter,omitempty"`
	Mark       int     `json:"mark,omitempty"`
	HasMark    bool    `json:"has_mark,omitempty"`
	PageIndex  int     `json:"page_index"`
	LineIndex  int     `json:"line_index"`
	RawLine    string  `json:"raw_line"`
	Body       string  `json:"body,omitempty"`
	Pattern    string  `json:"pattern"`
	Priority   int     `json:"priority"`
	Confidence float64 `json:"confidence"`
}

// Text returns the entry line followed by its body.
func (e Entry) Text() string {
	if e.Body == "" {
		return e.RawLine
	}
	return e.RawLine + "\n" + e.Body
}

// Before orders entries by page, then line.
func (e Entry) Before(o Entry) bool {
	if e.PageIndex != o.PageIndex {
		return e.PageIndex < o.PageIndex
	}
	return e.LineIndex < o.LineIndex
}

// Report is the full outcome of scanning one document.
type Report struct {
	DocumentID string         `json:"document_id"`
	Kind       Kind           `json:"kind"`
	Entries    []Entry        `json:"entries"`
	Pages      int            `json:"pages"`
	Lines      int            `json:"lines"`
	ByPattern  map[string]int `json:"by_pattern"`
	AboveCap   int            `json:"above_cap,omitempty"`
}

type Options struct {
	// MaxQuestionNumber caps question-start detection; zero means
	// DefaultMaxQuestionNumber.
	MaxQuestionNumber int
	// Registry overrides the default pattern set.
	Registry *Registry
}

// Detector scans page text line by line and emits structural entries.
type Detector struct {
	registry    *Registry
	maxQuestion int
	log         *slog.Logger
}

func NewDetector(log *slog.Logger, opts Options) *Detector {
	if log == nil {
		log = slog.Default()
	}
	maxQuestion := opts.MaxQuestionNumber
	if maxQuestion <= 0 {
		maxQuestion = DefaultMaxQuestionNumber
	}
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry(maxQuestion)
	}
	return &Detector{registry: registry, maxQuestion: maxQuestion, log: log}
}

// Detect returns the entries of kind found in doc. It never fails: lines
// that match nothing are attached to the preceding entry's body or dropped.
func (d *Detector) Detect(doc Document, kind Kind) []Entry {
	return d.Scan(doc, kind).Entries
}

// Scan is Detect plus line and pattern counters.
func (d *Detector) Scan(doc Document, kind Kind) Report {
	report := Report{
		DocumentID: doc.ID,
		Kind:       kind,
		Pages:      len(doc.Pages),
		ByPattern:  make(map[string]int),
	}
	if isEmpty(doc) {
		d.log.Warn("document has no text", "document", doc.ID, "kind", kind, "pages", len(doc.Pages))
		return report
	}

	var body []string
	flush := func() {
		if len(report.Entries) > 0 && len(body) > 0 {
			report.Entries[len(report.Entries)-1].Body = strings.Join(body, "\n")
		}
		body = body[:0]
	}

	for pageIdx, page := range doc.Pages {
		for lineIdx, raw := range strings.Split(page, "\n") {
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			report.Lines++

			m, p, ok := d.registry.Match(kind, line)
			if !ok {
				if kind == KindQuestion {
					if n, numbered := leadingNumber(line); numbered && n > d.maxQuestion {
						report.AboveCap++
					}
				}
				body = append(body, line)
				continue
			}

			flush()
			report.ByPattern[p.Name]++
			report.Entries = append(report.Entries, Entry{
				Kind:       kind,
				Number:     m.Number,
				Letter:     m.Letter,
				Mark:       m.Mark,
				HasMark:    m.HasMark,
				PageIndex:  pageIdx,
				LineIndex:  lineIdx,
				RawLine:    line,
				Pattern:    p.Name,
				Priority:   p.Priority,
				Confidence: p.Confidence,
			})
		}
	}
	flush()

	if report.AboveCap > 0 {
		d.log.Warn("numbered lines above question cap were not treated as question starts",
			"document", doc.ID, "count", report.AboveCap, "cap", d.maxQuestion)
	}
	d.log.Debug("structure scanned",
		"document", doc.ID, "kind", kind, "pages", report.Pages,
		"lines", report.Lines, "entries", len(report.Entries))
	return report
}

func isEmpty(doc Document) bool {
	for _, page := range doc.Pages {
		if strings.TrimSpace(page) != "" {
			return false
		}
	}
	return true
}
