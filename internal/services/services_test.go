package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-flash/internal/apperr"
	"exam-flash/internal/chunker"
	"exam-flash/internal/db"
	"exam-flash/internal/flashcards"
	"exam-flash/internal/models"
	"exam-flash/internal/structure"
)

const questionPaper = `Biology Paper 1
1 Which gas is produced by photosynthesis?
A oxygen
B nitrogen
C carbon dioxide
D methane
2 Which organelle releases energy in aerobic respiration?
A nucleus
B mitochondrion
C ribosome
D vacuole
3 What do enzymes act as?
A catalysts
B hormones
C antibodies
D vitamins`

const markScheme = `Mark Scheme
1 A 1
Oxygen is released as a by-product.
2 B 1
3 A
4 C 1`

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

var testUploadPolicy = UploadPolicy{Extensions: []string{".pdf", ".docx", ".md", ".txt"}, MaxBytes: 1 << 20}

type testEnv struct {
	documents *DocumentService
	cards     *FlashcardService
	subjects  *SubjectService
	ingestion *IngestionService
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn := openTestDB(t)
	c, err := chunker.New(chunker.DefaultChunkSize, chunker.DefaultOverlap, quietLog())
	require.NoError(t, err)

	env := testEnv{
		documents: NewDocumentService(conn, t.TempDir(), testUploadPolicy),
		cards:     NewFlashcardService(conn),
		subjects:  NewSubjectService(conn),
	}
	env.ingestion = NewIngestionService(
		NewFileTextSource(),
		structure.NewDetector(quietLog(), structure.Options{}),
		c,
		flashcards.NewGenerator(c, nil, quietLog()),
		env.documents, env.cards, env.subjects, quietLog(),
	)
	return env
}

func (e testEnv) upload(t *testing.T, name string, docType models.DocumentType, content string) *models.Document {
	t.Helper()
	doc, err := e.documents.Create(context.Background(), name, docType, strings.NewReader(content))
	require.NoError(t, err)
	return doc
}

func seedCards(t *testing.T, env testEnv, fronts ...string) []models.Card {
	t.Helper()
	subject, err := env.subjects.Touch(context.Background(), "Biology", "")
	require.NoError(t, err)
	cards := make([]models.Card, len(fronts))
	for i, f := range fronts {
		cards[i] = models.Card{Front: f, Back: "answer " + f, CardType: "definition", Level: "easy", Confidence: 0.5, State: int(fsrs.New)}
	}
	require.NoError(t, env.cards.BulkInsertCards(context.Background(),
		sql.NullInt64{Valid: true, Int64: subject.ID}, sql.NullInt64{}, cards))
	return cards
}

func TestDocumentCreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	doc := env.upload(t, "paper.txt", models.DocumentQuestionPaper, questionPaper)

	got, err := env.documents.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "paper.txt", got.OriginalName)
	assert.Equal(t, models.DocumentQuestionPaper, got.Type)
	assert.FileExists(t, got.StoredPath)
	assert.Equal(t, ".txt", filepath.Ext(got.StoredPath))

	_, err = env.documents.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.documents.Create(context.Background(), "x.txt", "exam", strings.NewReader("x"))
	assert.Error(t, err)

	updated, err := env.documents.RecordPages(context.Background(), doc.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.PageCount)
	assert.Equal(t, doc.StoredPath, updated.StoredPath)

	_, err = env.documents.RecordPages(context.Background(), 999, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentCreateEnforcesPolicy(t *testing.T) {
	conn := openTestDB(t)
	dir := t.TempDir()
	docs := NewDocumentService(conn, dir, UploadPolicy{Extensions: []string{".txt"}, MaxBytes: 8})
	ctx := context.Background()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"fits", "notes.TXT", "12345678", ""},
		{"wrong extension", "script.sh", "echo", "extension must be one of .txt"},
		{"no extension", "notes", "x", "extension must be one of .txt"},
		{"too large", "notes.txt", "123456789", "exceeds 8 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := docs.Create(ctx, tt.file, models.DocumentNotes, strings.NewReader(tt.content))
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, ".txt", filepath.Ext(doc.StoredPath))
				return
			}
			require.Error(t, err)
			assert.Nil(t, doc)
			assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDocumentDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.upload(t, "paper.txt", models.DocumentQuestionPaper, questionPaper)

	require.NoError(t, env.documents.Delete(ctx, doc.ID))
	assert.NoFileExists(t, doc.StoredPath)
	_, err := env.documents.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, env.documents.Delete(ctx, doc.ID), ErrNotFound)
}

func TestUploadPolicyAllows(t *testing.T) {
	policy := UploadPolicy{Extensions: []string{".pdf", ".md"}}
	assert.True(t, policy.Allows("paper.PDF"))
	assert.True(t, policy.Allows("notes.md"))
	assert.False(t, policy.Allows("script.sh"))
	assert.False(t, policy.Allows("noext"))
	assert.True(t, UploadPolicy{}.Allows("anything.bin"))
}

func TestSubjectTouchIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.subjects.Touch(ctx, "Chemistry", "")
	require.NoError(t, err)
	second, err := env.subjects.Touch(ctx, " Chemistry ", "Atoms and bonds")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Atoms and bonds", second.Description.String)

	general, err := env.subjects.Touch(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, db.DefaultSubject, general.Name)

	list, err := env.subjects.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestNextCardAndReviewWorkingQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seeded := seedCards(t, env, "first", "second")

	next, err := env.cards.NextCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, seeded[0].ID, next.ID)
	assert.Equal(t, "Biology", next.SubjectName.String)

	reviewed, log, err := env.cards.ReviewCard(ctx, seeded[1].ID, fsrs.Again)
	require.NoError(t, err)
	assert.True(t, reviewed.WorkingQueuePosition.Valid)
	assert.Equal(t, int64(1), reviewed.WorkingQueuePosition.Int64)
	assert.Equal(t, int(fsrs.Again), log.Rating)

	next, err = env.cards.NextCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, seeded[1].ID, next.ID, "cards rated again are served first")

	reviewed, _, err = env.cards.ReviewCard(ctx, seeded[1].ID, fsrs.Good)
	require.NoError(t, err)
	assert.False(t, reviewed.WorkingQueuePosition.Valid)
	assert.True(t, reviewed.Due.Valid)
	assert.Greater(t, reviewed.Reps, 0)

	_, _, err = env.cards.ReviewCard(ctx, 12345, fsrs.Good)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNextCardEmpty(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.cards.NextCard(context.Background())
	assert.ErrorIs(t, err, ErrNoDueCards)
}

func TestListCardsAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedCards(t, env, "a", "b", "c")

	all, err := env.cards.ListCards(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := env.cards.ListCards(ctx, "History", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	stats, err := env.cards.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats["total"])
	assert.Equal(t, 3, stats["new"])
}

func TestProcessExamPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paper := env.upload(t, "paper.txt", models.DocumentQuestionPaper, questionPaper)
	scheme := env.upload(t, "scheme.txt", models.DocumentMarkScheme, markScheme)

	var steps []string
	res, err := env.ingestion.ProcessExamPair(ctx, paper, scheme, GenerateParams{
		Subject:   "Biology",
		CardTypes: []flashcards.CardType{flashcards.TypeMultipleChoice},
		NumCards:  3,
		Persist:   true,
	}, func(step, message string, current, total int) {
		steps = append(steps, step)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Summary.Matched)
	assert.Equal(t, 1, res.Summary.MissingQuestion)
	assert.Len(t, res.Pairs, 4)
	assert.NotEmpty(t, res.Chunks)
	require.Len(t, res.Generation.Cards, 3)
	assert.Equal(t, 3, res.SavedCards)
	assert.Equal(t, "complete", steps[len(steps)-1])

	answers := map[string]bool{}
	for _, c := range res.Generation.Cards {
		answers[c.Answer] = true
		assert.Greater(t, c.Confidence, 0.8)
	}
	assert.True(t, answers["A oxygen"])
	assert.True(t, answers["B mitochondrion"])
	assert.True(t, answers["A catalysts"])

	stored, err := env.cards.ListCards(ctx, "Biology", 0)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "multiple_choice", stored[0].CardType)
	assert.Equal(t, "paper.txt", stored[0].SourceDocumentRef.String)

	updated, err := env.documents.GetByID(ctx, paper.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.PageCount)

	require.Len(t, res.Documents, 2)
	assert.Equal(t, "paper.txt", res.Documents[0].OriginalName)
	assert.Equal(t, 1, res.Documents[0].PageCount)
	assert.Equal(t, "scheme.txt", res.Documents[1].OriginalName)
	assert.Equal(t, 1, res.Documents[1].PageCount)
}

func TestProcessContentWithoutPersist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.ingestion.ProcessContent(ctx,
		"Osmosis is the movement of water across a partially permeable membrane.",
		"snippet", 0, GenerateParams{CardTypes: []flashcards.CardType{flashcards.TypeDefinition}, NumCards: 1}, nil)
	require.NoError(t, err)
	require.Len(t, res.Generation.Cards, 1)
	assert.Zero(t, res.SavedCards)

	stats, err := env.cards.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats["total"])
}

func TestProcessNotesDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	notes := env.upload(t, "notes.md", models.DocumentNotes,
		"The nucleus is the organelle that contains *genetic* material.\n")

	res, err := env.ingestion.ProcessNotesDocument(ctx, notes, GenerateParams{
		CardTypes: []flashcards.CardType{flashcards.TypeDefinition},
		NumCards:  1,
		Persist:   true,
	}, nil)
	require.NoError(t, err)
	require.Len(t, res.Generation.Cards, 1)
	assert.Equal(t, "What is the nucleus?", res.Generation.Cards[0].Question)
	assert.Equal(t, 1, res.SavedCards)
	require.NotNil(t, res.Document)
	assert.Equal(t, 1, res.Document.PageCount)

	stored, err := env.cards.ListCards(ctx, db.DefaultSubject, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
