package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"exam-flash/internal/alignment"
	"exam-flash/internal/chunker"
	"exam-flash/internal/flashcards"
	"exam-flash/internal/models"
	"exam-flash/internal/structure"
)

// ProgressCallback is called during document processing to report progress
type ProgressCallback func(step, message string, current, total int)

// GenerateParams are the caller's generation settings.
type GenerateParams struct {
	Subject           string                `json:"subject"`
	CardTypes         []flashcards.CardType `json:"card_types"`
	NumCards          int                   `json:"num_cards"`
	DifficultyBalance string                `json:"difficulty_balance"`
	// Persist stores generated cards for review.
	Persist bool `json:"-"`
}

// Validate rejects settings generation would refuse, so callers can fail
// before storing uploads or queueing a job.
func (p GenerateParams) Validate() error {
	return flashcards.ValidateRequest(p.CardTypes, p.NumCards, p.DifficultyBalance)
}

// ExamAnalysis holds the structure, alignment and chunk artifacts of one
// question paper and mark scheme.
type ExamAnalysis struct {
	Questions structure.Report  `json:"questions"`
	Answers   structure.Report  `json:"answers"`
	Pairs     []alignment.Pair  `json:"pairs"`
	Summary   alignment.Summary `json:"summary"`
	Chunks    []chunker.Chunk   `json:"chunks"`
}

type ExamResult struct {
	ExamAnalysis
	Documents  []*models.Document `json:"documents,omitempty"`
	Generation *flashcards.Result `json:"generation"`
	SavedCards int                `json:"saved_cards"`
}

type ContentResult struct {
	Document   *models.Document   `json:"document,omitempty"`
	Generation *flashcards.Result `json:"generation"`
	SavedCards int                `json:"saved_cards"`
}

// IngestionService runs the read, detect, align, chunk, generate and persist
// pipeline. The stores may be nil when nothing is persisted.
type IngestionService struct {
	source    TextSource
	detector  *structure.Detector
	chunker   *chunker.Chunker
	generator *flashcards.Generator
	documents *DocumentService
	cards     *FlashcardService
	subjects  *SubjectService
	log       *slog.Logger
}

func NewIngestionService(
	source TextSource,
	detector *structure.Detector,
	chunker *chunker.Chunker,
	generator *flashcards.Generator,
	documents *DocumentService,
	cards *FlashcardService,
	subjects *SubjectService,
	log *slog.Logger,
) *IngestionService {
	if log == nil {
		log = slog.Default()
	}
	return &IngestionService{
		source:    source,
		detector:  detector,
		chunker:   chunker,
		generator: generator,
		documents: documents,
		cards:     cards,
		subjects:  subjects,
		log:       log,
	}
}

// ReadDocument loads the page text of a file.
func (s *IngestionService) ReadDocument(ctx context.Context, id, path string) (structure.Document, error) {
	pages, err := s.source.Pages(ctx, path)
	if err != nil {
		return structure.Document{}, err
	}
	return structure.Document{ID: id, Pages: pages}, nil
}

// AnalyzeExam detects questions and answers, aligns them and chunks the
// aligned text. It never fails; problems surface as diagnostics.
func (s *IngestionService) AnalyzeExam(paper, scheme structure.Document) ExamAnalysis {
	questions := s.detector.Scan(paper, structure.KindQuestion)
	answers := s.detector.Scan(scheme, structure.KindAnswer)
	pairs := alignment.Align(questions.Entries, answers.Entries)
	summary := alignment.Summarize(pairs)

	s.log.Info("exam aligned",
		"paper", paper.ID, "scheme", scheme.ID,
		"questions", len(questions.Entries), "answers", len(answers.Entries),
		"matched", summary.Matched, "missing_answer", summary.MissingAnswer,
		"missing_question", summary.MissingQuestion, "duplicate", summary.Duplicate)

	return ExamAnalysis{
		Questions: questions,
		Answers:   answers,
		Pairs:     pairs,
		Summary:   summary,
		Chunks:    s.chunker.ChunkPairs(paper.ID, pairs),
	}
}

// ProcessExamPair turns a stored question paper and mark scheme into cards.
// Generation reads the chunked pair text; the pairs themselves only carry
// the answer keys.
func (s *IngestionService) ProcessExamPair(ctx context.Context, paper, scheme *models.Document, params GenerateParams, progress ProgressCallback) (*ExamResult, error) {
	report := reporter(progress)

	report("extract", "Reading question paper", 0, 100)
	paperDoc, paper, err := s.readStored(ctx, paper)
	if err != nil {
		return nil, err
	}
	report("extract", "Reading mark scheme", 10, 100)
	schemeDoc, scheme, err := s.readStored(ctx, scheme)
	if err != nil {
		return nil, err
	}

	report("align", "Detecting and aligning questions", 20, 100)
	analysis := s.AnalyzeExam(paperDoc, schemeDoc)
	report("align", fmt.Sprintf("Aligned %d of %d questions", analysis.Summary.Matched, analysis.Summary.Total), 40, 100)

	report("generate", "Generating flashcards", 50, 100)
	res, err := s.generator.Generate(ctx, flashcards.Request{
		SourceID:          paperDoc.ID,
		Pairs:             analysis.Pairs,
		Chunks:            analysis.Chunks,
		Subject:           params.Subject,
		CardTypes:         params.CardTypes,
		NumCards:          params.NumCards,
		DifficultyBalance: params.DifficultyBalance,
	})
	if err != nil {
		return nil, fmt.Errorf("generate exam cards: %w", err)
	}

	report("save", fmt.Sprintf("Saving %d flashcards", len(res.Cards)), 90, 100)
	saved, err := s.persist(ctx, params, paper.ID, res.Cards)
	if err != nil {
		return nil, err
	}

	report("complete", "Processing complete", 100, 100)
	return &ExamResult{
		ExamAnalysis: analysis,
		Documents:    []*models.Document{paper, scheme},
		Generation:   res,
		SavedCards:   saved,
	}, nil
}

// ProcessNotesDocument generates cards from a stored notes document.
func (s *IngestionService) ProcessNotesDocument(ctx context.Context, doc *models.Document, params GenerateParams, progress ProgressCallback) (*ContentResult, error) {
	reporter(progress)("extract", "Reading notes", 0, 100)
	notes, doc, err := s.readStored(ctx, doc)
	if err != nil {
		return nil, err
	}
	res, err := s.ProcessContent(ctx, strings.Join(notes.Pages, "\n"), notes.ID, doc.ID, params, progress)
	if err != nil {
		return nil, err
	}
	res.Document = doc
	return res, nil
}

// ProcessContent generates cards from raw text. documentID is zero when the
// text did not come from a stored document.
func (s *IngestionService) ProcessContent(ctx context.Context, content, sourceID string, documentID int64, params GenerateParams, progress ProgressCallback) (*ContentResult, error) {
	report := reporter(progress)

	report("generate", "Generating flashcards", 20, 100)
	res, err := s.generator.Generate(ctx, flashcards.Request{
		Content:           content,
		SourceID:          sourceID,
		Subject:           params.Subject,
		CardTypes:         params.CardTypes,
		NumCards:          params.NumCards,
		DifficultyBalance: params.DifficultyBalance,
	})
	if err != nil {
		return nil, fmt.Errorf("generate cards: %w", err)
	}

	report("save", fmt.Sprintf("Saving %d flashcards", len(res.Cards)), 90, 100)
	saved, err := s.persist(ctx, params, documentID, res.Cards)
	if err != nil {
		return nil, err
	}

	report("complete", "Processing complete", 100, 100)
	return &ContentResult{Generation: res, SavedCards: saved}, nil
}

// readStored reads a stored document's pages and records the page count,
// returning the refreshed row.
func (s *IngestionService) readStored(ctx context.Context, doc *models.Document) (structure.Document, *models.Document, error) {
	d, err := s.ReadDocument(ctx, doc.OriginalName, doc.StoredPath)
	if err != nil {
		return d, doc, err
	}
	if s.documents == nil {
		updated := *doc
		updated.PageCount = len(d.Pages)
		return d, &updated, nil
	}
	updated, err := s.documents.RecordPages(ctx, doc.ID, len(d.Pages))
	if err != nil {
		return d, doc, err
	}
	return d, updated, nil
}

func (s *IngestionService) persist(ctx context.Context, params GenerateParams, documentID int64, cards []flashcards.Card) (int, error) {
	if !params.Persist || s.cards == nil || s.subjects == nil || len(cards) == 0 {
		return 0, nil
	}
	subject, err := s.subjects.Touch(ctx, params.Subject, "")
	if err != nil {
		return 0, fmt.Errorf("touch subject %s: %w", params.Subject, err)
	}

	rows := make([]models.Card, 0, len(cards))
	for _, c := range cards {
		rows = append(rows, models.Card{
			Front:      c.Question,
			Back:       c.Answer,
			Hint:       c.Hint,
			CardType:   string(c.CardType),
			Level:      string(c.Difficulty),
			Confidence: c.Confidence,
			SourceRef:  c.SourceID,
			State:      int(fsrs.New),
		})
	}
	docID := sql.NullInt64{Valid: documentID > 0, Int64: documentID}
	if err := s.cards.BulkInsertCards(ctx, sql.NullInt64{Valid: true, Int64: subject.ID}, docID, rows); err != nil {
		return 0, fmt.Errorf("insert cards for subject %s: %w", subject.Name, err)
	}
	s.log.Info("flashcards saved", "subject", subject.Name, "document", documentID, "cards", len(rows))
	return len(rows), nil
}

func reporter(progress ProgressCallback) ProgressCallback {
	if progress == nil {
		return func(string, string, int, int) {}
	}
	return progress
}
