package models

import (
	"database/sql"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
)

type DocumentType string

const (
	DocumentQuestionPaper DocumentType = "question_paper"
	DocumentMarkScheme    DocumentType = "mark_scheme"
	DocumentNotes         DocumentType = "notes"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentQuestionPaper, DocumentMarkScheme, DocumentNotes:
		return true
	}
	return false
}

type Document struct {
	ID           int64        `json:"id"`
	OriginalName string       `json:"original_name"`
	StoredPath   string       `json:"-"`
	Type         DocumentType `json:"type"`
	PageCount    int          `json:"page_count"`
	UploadedAt   time.Time    `json:"uploaded_at"`
}

// Subject groups cards generated for the same course or paper.
type Subject struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description sql.NullString `json:"-"`
	CardCount   int            `json:"card_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Card is a persisted flashcard plus its FSRS scheduling state. Difficulty is
// the FSRS memory difficulty; Level is the generated easy/medium/hard label.
type Card struct {
	ID                   int64
	SubjectID            sql.NullInt64
	SourceDocumentID     sql.NullInt64
	Front                string
	Back                 string
	Hint                 string
	CardType             string
	Level                string
	Confidence           float64
	SourceRef            string
	Due                  sql.NullTime
	Stability            float64
	Difficulty           float64
	ElapsedDays          int
	ScheduledDays        int
	Reps                 int
	Lapses               int
	State                int
	LastReview           sql.NullTime
	CreatedAt            time.Time
	UpdatedAt            time.Time
	WorkingQueuePosition sql.NullInt64
	SubjectName          sql.NullString
	SourceDocumentRef    sql.NullString
}

type ReviewLog struct {
	ID            int64     `json:"id"`
	CardID        int64     `json:"card_id"`
	Rating        int       `json:"rating"`
	ScheduledDays int       `json:"scheduled_days"`
	ElapsedDays   int       `json:"elapsed_days"`
	State         int       `json:"state"`
	ReviewedAt    time.Time `json:"reviewed_at"`
}

func (c *Card) ToFSRSCard() fsrs.Card {
	card := fsrs.Card{
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
		ElapsedDays:   uint64(max(c.ElapsedDays, 0)),
		ScheduledDays: uint64(max(c.ScheduledDays, 0)),
		Reps:          uint64(max(c.Reps, 0)),
		Lapses:        uint64(max(c.Lapses, 0)),
		State:         fsrs.State(max(c.State, 0)),
	}
	if c.Due.Valid {
		card.Due = c.Due.Time
	}
	if c.LastReview.Valid {
		card.LastReview = c.LastReview.Time
	}
	return card
}

func (c *Card) ApplyFSRSCard(f fsrs.Card) {
	c.Due = sql.NullTime{Time: f.Due, Valid: !f.Due.IsZero()}
	c.Stability = f.Stability
	c.Difficulty = f.Difficulty
	c.ElapsedDays = int(f.ElapsedDays)
	c.ScheduledDays = int(f.ScheduledDays)
	c.Reps = int(f.Reps)
	c.Lapses = int(f.Lapses)
	c.State = int(f.State)
	c.LastReview = sql.NullTime{Time: f.LastReview, Valid: !f.LastReview.IsZero()}
}
